package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"appupdate/internal/artifact"
	"appupdate/internal/models"
	"appupdate/internal/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// IngestVersion stores the upload under a per-request temporary key, parses
// it, then under the application lock checks the version code, promotes the
// artifact to its final key and inserts the record. The temporary artifact is
// removed on every path.
func (s *Service) IngestVersion(ctx context.Context, req *models.IngestRequest) (v *models.AppVersion, err error) {
	ctx, span := s.metrics.tracer.Start(ctx, "update.IngestVersion")
	defer func() {
		s.metrics.recordIngestion(ctx, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req == nil {
		return nil, NewValidationError("request is required", nil)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}
	span.SetAttributes(attribute.String("app_id", req.AppID))

	tmp, err := s.artifacts.Put(ctx, req.Content, req.FileName, req.AppID, "temp-"+uuid.NewString())
	if err != nil {
		if errors.Is(err, artifact.ErrEmptyFile) {
			return nil, NewValidationError("package file is empty", err)
		}
		return nil, classify("failed to store upload", err)
	}
	defer s.removeTemp(tmp.Key)

	meta, err := s.parser.Parse(ctx, tmp.Path)
	if err != nil {
		return nil, classify("failed to parse package", err)
	}
	if meta.PackageName != req.AppID {
		slog.Warn("Package name differs from target application",
			"app_id", req.AppID,
			"package_name", meta.PackageName,
		)
	}
	span.SetAttributes(attribute.Int64("version_code", meta.VersionCode))

	unlock := s.locks.Lock(req.AppID)
	defer unlock()

	if err := s.ensureApplication(ctx, req.AppID, meta.Label); err != nil {
		return nil, err
	}

	exists, err := s.storage.VersionExists(ctx, req.AppID, meta.VersionCode)
	if err != nil {
		return nil, registryError("failed to check version code", err)
	}
	if exists {
		return nil, versionConflict(req.AppID, meta.VersionCode)
	}

	final, err := s.artifacts.Copy(ctx, tmp.Key, req.AppID, strconv.FormatInt(meta.VersionCode, 10))
	if err != nil {
		return nil, classify("failed to promote upload", err)
	}

	now := s.now()
	v = &models.AppVersion{
		AppID:             req.AppID,
		VersionCode:       meta.VersionCode,
		VersionName:       meta.VersionName,
		FileSize:          final.Size,
		Checksum:          meta.Checksum,
		ChecksumType:      meta.ChecksumType,
		StorageKey:        final.Key,
		DownloadURL:       s.artifacts.URL(final.Key),
		UpdateDescription: req.UpdateDescription,
		ForceUpdate:       req.ForceUpdate,
		IsReleased:        false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.storage.InsertVersion(ctx, v); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Another process won the insert and owns the final key.
			return nil, versionConflict(req.AppID, meta.VersionCode)
		}
		if _, rmErr := s.artifacts.Delete(final.Key); rmErr != nil {
			slog.Warn("Failed to remove promoted artifact", "storage_key", final.Key, "error", rmErr)
		}
		return nil, registryError("failed to record version", err)
	}

	slog.Info("Version ingested",
		"app_id", v.AppID,
		"version_id", v.ID,
		"version_code", v.VersionCode,
		"version_name", v.VersionName,
		"file_size", v.FileSize,
		"storage_key", v.StorageKey,
	)
	return v, nil
}

// ensureApplication auto-provisions appID on first upload. Must be called
// with the application lock held.
func (s *Service) ensureApplication(ctx context.Context, appID, label string) error {
	_, err := s.storage.GetApplication(ctx, appID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return registryError("failed to get application", err)
	}

	name := label
	if name == "" {
		name = appID
	}
	now := s.now()
	app := &models.Application{
		ID:          appID,
		Name:        name,
		Description: models.AutoCreatedDescription,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.storage.CreateApplication(ctx, app)
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return registryError("failed to create application", err)
	}
	if err == nil {
		slog.Info("Application auto-created", "app_id", appID, "name", name)
	}
	return nil
}

func (s *Service) removeTemp(key string) {
	if _, err := s.artifacts.Delete(key); err != nil {
		slog.Warn("Failed to remove temporary upload", "storage_key", key, "error", err)
	}
}

func versionConflict(appID string, code int64) *ServiceError {
	return NewConflictError(fmt.Sprintf("version code %d already exists for application '%s'", code, appID))
}
