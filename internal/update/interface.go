package update

import (
	"context"
	"os"

	"appupdate/internal/artifact"
	"appupdate/internal/models"
)

// ServiceInterface defines the interface for update service operations
type ServiceInterface interface {
	// CreateApplication registers an application ahead of its first upload.
	CreateApplication(ctx context.Context, req *models.CreateApplicationRequest) (*models.Application, error)

	// GetApplication returns one application with its version statistics.
	GetApplication(ctx context.Context, appID string) (*models.ApplicationInfoResponse, error)

	// ListApplications returns a page of applications with their released version summary.
	ListApplications(ctx context.Context, req *models.ListApplicationsRequest) (*models.ListApplicationsResponse, error)

	// IngestVersion turns one uploaded package into one version record.
	IngestVersion(ctx context.Context, req *models.IngestRequest) (*models.AppVersion, error)

	// ListVersions returns a page of an application's versions.
	ListVersions(ctx context.Context, req *models.ListVersionsRequest) (*models.ListVersionsResponse, error)

	// GetVersion returns a single version.
	GetVersion(ctx context.Context, versionID int64) (*models.AppVersion, error)

	// EditVersion updates the description and per-version force flag.
	EditVersion(ctx context.Context, versionID int64, req *models.EditVersionRequest) (*models.AppVersion, error)

	// DeleteVersion removes a version record and optionally its artifact.
	DeleteVersion(ctx context.Context, versionID int64, removeArtifact bool) (*models.DeleteVersionResult, error)

	// BatchDeleteVersions deletes each id independently.
	BatchDeleteVersions(ctx context.Context, req *models.BatchDeleteRequest) (*models.BatchDeleteResponse, error)

	// SetRelease makes versionID the single released version of appID.
	SetRelease(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error)

	// GetRelease returns the released version, or nil when there is none.
	GetRelease(ctx context.Context, appID string) (*models.AppVersion, error)

	// CheckConsistency reports every version the registry holds as released.
	CheckConsistency(ctx context.Context, appID string) (*models.ConsistencyReport, error)

	// SetForceUpdate sets the application-level force update flag.
	SetForceUpdate(ctx context.Context, appID string, forceUpdate bool) (*models.Application, error)

	// CheckUpdate decides whether a client on the given version code should update.
	CheckUpdate(ctx context.Context, req *models.UpdateCheckRequest) (*models.UpdateDecision, error)

	// OpenArtifact opens a stored package for download. The caller closes the file.
	OpenArtifact(ctx context.Context, key string) (*os.File, *artifact.Object, error)

	// GetStats returns registry totals and the most recent uploads.
	GetStats(ctx context.Context) (*models.StatsResponse, error)

	// Ping checks that the registry is reachable.
	Ping(ctx context.Context) error
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
