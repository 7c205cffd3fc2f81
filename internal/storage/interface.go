package storage

import (
	"context"

	"appupdate/internal/models"
)

// Storage is the version registry: durable applications and their versions.
//
// Implementations guarantee that (app_id, version_code) is unique, that
// InsertVersion is a single atomic check-and-insert, and that SetReleased
// never leaves an application with more than one released version.
type Storage interface {
	// Applications returns one page of applications ordered by id and the
	// total number matching the filter.
	Applications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, int, error)

	// GetApplication returns ErrNotFound for an unknown id.
	GetApplication(ctx context.Context, appID string) (*models.Application, error)

	// CreateApplication returns ErrConflict if the id is taken.
	CreateApplication(ctx context.Context, app *models.Application) error

	// UpdateApplication overwrites name, description, force flag and updated_at.
	UpdateApplication(ctx context.Context, app *models.Application) error

	// Versions returns one page of an application's versions and the total count.
	Versions(ctx context.Context, filter VersionFilter) ([]*models.AppVersion, int, error)

	// GetVersion returns ErrNotFound for an unknown id.
	GetVersion(ctx context.Context, id int64) (*models.AppVersion, error)

	// VersionExists reports whether the application already has versionCode.
	VersionExists(ctx context.Context, appID string, versionCode int64) (bool, error)

	// InsertVersion inserts v and assigns v.ID. It returns ErrConflict when
	// the application already has v.VersionCode; it never overwrites.
	InsertVersion(ctx context.Context, v *models.AppVersion) error

	// UpdateVersion overwrites the editable fields: update description, force flag, updated_at.
	UpdateVersion(ctx context.Context, v *models.AppVersion) error

	// DeleteVersion removes the record only. It does not touch the artifact.
	DeleteVersion(ctx context.Context, id int64) error

	// ReleasedVersions returns every released version of the application.
	// More than one result is an invariant violation for the caller to report.
	ReleasedVersions(ctx context.Context, appID string) ([]*models.AppVersion, error)

	// SetReleased clears the released flag on every version of appID and sets
	// it on versionID, as one atomic unit. ErrNotFound if versionID is not
	// a version of appID.
	SetReleased(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error)

	// CountVersions returns the number of versions of an application.
	CountVersions(ctx context.Context, appID string) (int, error)

	// Stats returns registry-wide totals.
	Stats(ctx context.Context) (*Stats, error)

	// RecentVersions returns the n most recently created versions.
	RecentVersions(ctx context.Context, n int) ([]*models.AppVersion, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// ApplicationFilter selects applications whose name contains Name,
// case-insensitively. An empty Name matches all.
type ApplicationFilter struct {
	Name   string
	Limit  int
	Offset int
}

// VersionFilter selects the versions of one application. OrderBy is
// models.OrderByVersionCode or models.OrderByCreatedAt, both descending.
// Limit <= 0 returns every version.
type VersionFilter struct {
	AppID   string
	OrderBy string
	Limit   int
	Offset  int
}

// Stats holds registry-wide totals.
type Stats struct {
	TotalApplications   int
	TotalVersions       int
	ReleasedVersions    int
	ForceUpdateVersions int
	TotalFileSize       int64
}
