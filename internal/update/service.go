package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"appupdate/internal/apk"
	"appupdate/internal/artifact"
	"appupdate/internal/models"
	"appupdate/internal/storage"

	"go.opentelemetry.io/otel/metric"
)

// recentVersionsLimit is how many uploads GetStats lists.
const recentVersionsLimit = 10

// Service implements application, version and release management on top of
// the version registry and the artifact store.
type Service struct {
	storage   storage.Storage
	artifacts *artifact.Store
	parser    apk.Parser
	locks     *keyLock
	metrics   *serviceMetrics
	now       func() time.Time

	meterProvider metric.MeterProvider
}

type Option func(*Service)

// WithParser replaces the APK metadata extractor.
func WithParser(p apk.Parser) Option {
	return func(s *Service) {
		s.parser = p
	}
}

// WithClock replaces the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMeterProvider records service counters on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.meterProvider = mp
	}
}

// NewService creates a new update service with the given registry and artifact store
func NewService(registry storage.Storage, artifacts *artifact.Store, opts ...Option) (*Service, error) {
	s := &Service{
		storage:   registry,
		artifacts: artifacts,
		parser:    apk.NewAPKParser(),
		locks:     newKeyLock(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newServiceMetrics(s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create service metrics: %w", err)
	}
	s.metrics = m
	return s, nil
}

func (s *Service) CreateApplication(ctx context.Context, req *models.CreateApplicationRequest) (*models.Application, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	now := s.now()
	app := &models.Application{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		ForceUpdate: req.ForceUpdate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, NewConflictError(fmt.Sprintf("application '%s' already exists", app.ID))
		}
		return nil, registryError("failed to create application", err)
	}

	slog.Info("Application created", "app_id", app.ID, "name", app.Name)
	return app, nil
}

func (s *Service) GetApplication(ctx context.Context, appID string) (*models.ApplicationInfoResponse, error) {
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}

	total, err := s.storage.CountVersions(ctx, app.ID)
	if err != nil {
		return nil, registryError("failed to count versions", err)
	}
	released, err := s.GetRelease(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	return &models.ApplicationInfoResponse{
		Application:   *app,
		TotalVersions: total,
		Released:      released,
	}, nil
}

func (s *Service) ListApplications(ctx context.Context, req *models.ListApplicationsRequest) (*models.ListApplicationsResponse, error) {
	if req == nil {
		req = &models.ListApplicationsRequest{}
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	apps, total, err := s.storage.Applications(ctx, storage.ApplicationFilter{
		Name:   req.Name,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, registryError("failed to list applications", err)
	}

	summaries := make([]models.ApplicationSummary, 0, len(apps))
	for _, app := range apps {
		count, err := s.storage.CountVersions(ctx, app.ID)
		if err != nil {
			return nil, registryError("failed to count versions", err)
		}
		summary := models.ApplicationSummary{Application: *app, TotalVersions: count}

		released, err := s.storage.ReleasedVersions(ctx, app.ID)
		if err != nil {
			return nil, registryError("failed to read release", err)
		}
		switch len(released) {
		case 0:
		case 1:
			summary.Released = &models.ReleasedSummary{
				VersionID:   released[0].ID,
				VersionName: released[0].VersionName,
				VersionCode: released[0].VersionCode,
				CreatedAt:   released[0].CreatedAt,
			}
		default:
			slog.Error("Multiple released versions", "app_id", app.ID, "count", len(released))
		}
		summaries = append(summaries, summary)
	}

	return &models.ListApplicationsResponse{
		Applications: summaries,
		TotalCount:   total,
		Page:         pageNumber(req.Limit, req.Offset),
		PageSize:     req.Limit,
		HasMore:      req.Offset+len(apps) < total,
	}, nil
}

func (s *Service) ListVersions(ctx context.Context, req *models.ListVersionsRequest) (*models.ListVersionsResponse, error) {
	if req == nil {
		return nil, NewValidationError("request is required", nil)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	if _, err := s.getApplication(ctx, req.AppID); err != nil {
		return nil, err
	}

	versions, total, err := s.storage.Versions(ctx, storage.VersionFilter{
		AppID:   req.AppID,
		OrderBy: req.OrderBy,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		return nil, registryError("failed to list versions", err)
	}

	return &models.ListVersionsResponse{
		Versions:   versions,
		TotalCount: total,
		Page:       pageNumber(req.Limit, req.Offset),
		PageSize:   req.Limit,
		HasMore:    req.Offset+len(versions) < total,
	}, nil
}

func (s *Service) GetVersion(ctx context.Context, versionID int64) (*models.AppVersion, error) {
	v, err := s.storage.GetVersion(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewVersionNotFoundError(versionID)
	}
	if err != nil {
		return nil, registryError("failed to get version", err)
	}
	return v, nil
}

// EditVersion changes the editable fields only and returns the record as
// stored after the write, so the release flag reflects the latest swap.
func (s *Service) EditVersion(ctx context.Context, versionID int64, req *models.EditVersionRequest) (*models.AppVersion, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(v.AppID)
	defer unlock()

	if req.UpdateDescription != nil {
		v.UpdateDescription = *req.UpdateDescription
	}
	if req.ForceUpdate != nil {
		v.ForceUpdate = *req.ForceUpdate
	}
	v.UpdatedAt = s.now()

	if err := s.storage.UpdateVersion(ctx, v); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewVersionNotFoundError(versionID)
		}
		return nil, registryError("failed to update version", err)
	}
	return s.GetVersion(ctx, versionID)
}

// DeleteVersion holds the application lock across the record and file
// removal so a concurrent upload of the same version code cannot have its
// new file removed.
func (s *Service) DeleteVersion(ctx context.Context, versionID int64, removeArtifact bool) (*models.DeleteVersionResult, error) {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(v.AppID)
	defer unlock()

	if err := s.storage.DeleteVersion(ctx, versionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewVersionNotFoundError(versionID)
		}
		return nil, registryError("failed to delete version", err)
	}

	result := &models.DeleteVersionResult{
		ID:          v.ID,
		AppID:       v.AppID,
		WasReleased: v.IsReleased,
	}

	if removeArtifact {
		removed, err := s.artifacts.Delete(v.StorageKey)
		if err != nil {
			result.ArtifactError = err.Error()
			slog.Warn("Failed to remove artifact", "version_id", v.ID, "storage_key", v.StorageKey, "error", err)
		}
		result.ArtifactRemoved = removed
	}

	slog.Info("Version deleted",
		"version_id", v.ID,
		"app_id", v.AppID,
		"version_code", v.VersionCode,
		"was_released", v.IsReleased,
		"artifact_removed", result.ArtifactRemoved,
	)
	return result, nil
}

// BatchDeleteVersions is best-effort per id. It fails only when no id could
// be deleted.
func (s *Service) BatchDeleteVersions(ctx context.Context, req *models.BatchDeleteRequest) (*models.BatchDeleteResponse, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	resp := &models.BatchDeleteResponse{
		SucceededIDs: []int64{},
		Failed:       map[int64]string{},
	}
	seen := make(map[int64]bool, len(req.IDs))
	var firstErr error

	for _, id := range req.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		result, err := s.DeleteVersion(ctx, id, req.ShouldRemoveArtifact())
		if err != nil {
			resp.Failed[id] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resp.SucceededIDs = append(resp.SucceededIDs, id)
		if result.ArtifactError != "" {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("version %d: %s", id, result.ArtifactError))
		}
	}

	if len(resp.SucceededIDs) == 0 {
		return nil, firstErr
	}
	return resp, nil
}

func (s *Service) SetForceUpdate(ctx context.Context, appID string, forceUpdate bool) (*models.Application, error) {
	unlock := s.locks.Lock(appID)
	defer unlock()

	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	app.ForceUpdate = forceUpdate
	app.UpdatedAt = s.now()

	if err := s.storage.UpdateApplication(ctx, app); err != nil {
		return nil, registryError("failed to update application", err)
	}

	slog.Info("Force update changed", "app_id", app.ID, "force_update", forceUpdate)
	return app, nil
}

// OpenArtifact never reports a malformed key as such; it is simply not found.
func (s *Service) OpenArtifact(ctx context.Context, key string) (*os.File, *artifact.Object, error) {
	f, obj, err := s.artifacts.Open(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidKey) {
			return nil, nil, NewNotFoundError("file not found")
		}
		return nil, nil, classify("failed to open file", err)
	}
	return f, obj, nil
}

func (s *Service) GetStats(ctx context.Context) (*models.StatsResponse, error) {
	stats, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, registryError("failed to aggregate registry", err)
	}
	recent, err := s.storage.RecentVersions(ctx, recentVersionsLimit)
	if err != nil {
		return nil, registryError("failed to list recent versions", err)
	}

	return &models.StatsResponse{
		TotalApplications:   stats.TotalApplications,
		TotalVersions:       stats.TotalVersions,
		ReleasedVersions:    stats.ReleasedVersions,
		ForceUpdateVersions: stats.ForceUpdateVersions,
		TotalFileSize:       stats.TotalFileSize,
		RecentVersions:      recent,
		GeneratedAt:         s.now(),
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

func (s *Service) getApplication(ctx context.Context, appID string) (*models.Application, error) {
	app, err := s.storage.GetApplication(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewApplicationNotFoundError(appID)
	}
	if err != nil {
		return nil, registryError("failed to get application", err)
	}
	return app, nil
}

func pageNumber(limit, offset int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
