// Package models - API response types and error codes.
package models

import (
	"time"
)

// UpdateDecision answers a client's update check. Every field except
// HasUpdate is empty when there is nothing newer to install.
type UpdateDecision struct {
	HasUpdate          bool   `json:"has_update"`
	CurrentVersionCode int64  `json:"current_version_code"`
	NewVersionName     string `json:"new_version_name,omitempty"`
	NewVersionCode     int64  `json:"new_version_code,omitempty"`
	UpdateDescription  string `json:"update_description,omitempty"`
	ForceUpdate        bool   `json:"force_update"`
	DownloadURL        string `json:"download_url,omitempty"`
	Checksum           string `json:"checksum,omitempty"`
	ChecksumType       string `json:"checksum_type,omitempty"`
	FileSize           int64  `json:"file_size,omitempty"`
}

// SetUpdateAvailable fills the decision from the released version. The force
// flag comes from the application, not the version.
func (d *UpdateDecision) SetUpdateAvailable(app *Application, released *AppVersion) {
	d.HasUpdate = true
	d.NewVersionName = released.VersionName
	d.NewVersionCode = released.VersionCode
	d.UpdateDescription = released.UpdateDescription
	d.ForceUpdate = app.ForceUpdate
	d.DownloadURL = released.DownloadURL
	d.Checksum = released.Checksum
	d.ChecksumType = released.ChecksumType
	d.FileSize = released.FileSize
}

func (d *UpdateDecision) SetNoUpdateAvailable(currentVersionCode int64) {
	*d = UpdateDecision{CurrentVersionCode: currentVersionCode}
}

type ListApplicationsResponse struct {
	Applications []ApplicationSummary `json:"applications"`
	TotalCount   int                  `json:"total_count"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	HasMore      bool                 `json:"has_more"`
}

type ListVersionsResponse struct {
	Versions   []*AppVersion `json:"versions"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	HasMore    bool          `json:"has_more"`
}

// ApplicationInfoResponse is a single application with its version statistics.
type ApplicationInfoResponse struct {
	Application
	TotalVersions int         `json:"total_versions"`
	Released      *AppVersion `json:"released,omitempty"`
}

// DeleteVersionResult reports a deletion. The record is always gone when no
// error is returned; ArtifactError explains a file that could not be removed.
type DeleteVersionResult struct {
	ID              int64  `json:"id"`
	AppID           string `json:"app_id"`
	WasReleased     bool   `json:"was_released"`
	ArtifactRemoved bool   `json:"artifact_removed"`
	ArtifactError   string `json:"artifact_error,omitempty"`
}

type BatchDeleteResponse struct {
	SucceededIDs []int64          `json:"succeeded_ids"`
	Failed       map[int64]string `json:"failed,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// ConsistencyReport lists what the registry holds as released for one app.
type ConsistencyReport struct {
	AppID              string  `json:"app_id"`
	Consistent         bool    `json:"consistent"`
	ReleasedVersionIDs []int64 `json:"released_version_ids"`
}

type StatsResponse struct {
	TotalApplications   int           `json:"total_applications"`
	TotalVersions       int           `json:"total_versions"`
	ReleasedVersions    int           `json:"released_versions"`
	ForceUpdateVersions int           `json:"force_update_versions"`
	TotalFileSize       int64         `json:"total_file_size"`
	RecentVersions      []*AppVersion `json:"recent_versions"`
	GeneratedAt         time.Time     `json:"generated_at"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type PingResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Error codes. Each taxonomy kind of the service layer has its own code.
const (
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"
	ErrorCodeValidation         = "VALIDATION_ERROR"
	ErrorCodeParse              = "PARSE_ERROR"
	ErrorCodeConflict           = "CONFLICT"
	ErrorCodeStorage            = "STORAGE_ERROR"
	ErrorCodeConsistency        = "CONSISTENCY_ERROR"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeForbidden          = "FORBIDDEN"
	ErrorCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
