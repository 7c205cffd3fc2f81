package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"appupdate/internal/models"
	"appupdate/internal/storage"
)

// SetRelease makes versionID the only released version of appID. The swap
// runs under the application lock on top of the registry's transaction.
func (s *Service) SetRelease(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error) {
	if _, err := s.getApplication(ctx, appID); err != nil {
		return nil, err
	}

	target, err := s.storage.GetVersion(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewValidationError(fmt.Sprintf("version %d does not exist", versionID), nil)
	}
	if err != nil {
		return nil, registryError("failed to get version", err)
	}
	if target.AppID != appID {
		return nil, NewConflictError(fmt.Sprintf("version %d does not belong to application '%s'", versionID, appID))
	}

	unlock := s.locks.Lock(appID)
	defer unlock()

	released, err := s.storage.SetReleased(ctx, appID, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewValidationError(fmt.Sprintf("version %d does not exist", versionID), nil)
	}
	if err != nil {
		return nil, registryError("failed to set release", err)
	}

	slog.Info("Release changed",
		"app_id", appID,
		"version_id", released.ID,
		"version_code", released.VersionCode,
		"version_name", released.VersionName,
	)
	return released, nil
}

// GetRelease returns nil, nil when the application has no release. More than
// one released version is reported, never repaired.
func (s *Service) GetRelease(ctx context.Context, appID string) (*models.AppVersion, error) {
	if _, err := s.getApplication(ctx, appID); err != nil {
		return nil, err
	}
	return s.releasedVersion(ctx, appID)
}

func (s *Service) releasedVersion(ctx context.Context, appID string) (*models.AppVersion, error) {
	released, err := s.storage.ReleasedVersions(ctx, appID)
	if err != nil {
		return nil, registryError("failed to read release", err)
	}

	switch len(released) {
	case 0:
		return nil, nil
	case 1:
		return released[0], nil
	default:
		slog.Error("Multiple released versions", "app_id", appID, "count", len(released))
		return nil, NewConsistencyError(fmt.Sprintf("application '%s' has %d released versions", appID, len(released)))
	}
}

func (s *Service) CheckConsistency(ctx context.Context, appID string) (*models.ConsistencyReport, error) {
	if _, err := s.getApplication(ctx, appID); err != nil {
		return nil, err
	}
	released, err := s.storage.ReleasedVersions(ctx, appID)
	if err != nil {
		return nil, registryError("failed to read release", err)
	}

	report := &models.ConsistencyReport{
		AppID:              appID,
		Consistent:         len(released) <= 1,
		ReleasedVersionIDs: make([]int64, 0, len(released)),
	}
	for _, v := range released {
		report.ReleasedVersionIDs = append(report.ReleasedVersionIDs, v.ID)
	}
	return report, nil
}
