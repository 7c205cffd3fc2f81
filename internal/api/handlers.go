package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"appupdate/internal/models"
	"appupdate/internal/update"
	"appupdate/internal/version"
)

const healthCheckTimeout = 2 * time.Second

// Handlers contains HTTP handlers for the package distribution API
type Handlers struct {
	updateService update.ServiceInterface
	config        *models.Config
	startedAt     time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(updateService update.ServiceInterface, config *models.Config) *Handlers {
	if config == nil {
		config = models.NewDefaultConfig()
	}
	return &Handlers{
		updateService: updateService,
		config:        config,
		startedAt:     time.Now(),
	}
}

// HealthCheck handles health check requests
// GET /health
// Reports unhealthy with 503 when the registry cannot be reached.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	info := version.GetInfo()
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = info.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	status := http.StatusOK
	if err := h.updateService.Ping(ctx); err != nil {
		slog.Error("Health check failed", "component", "storage", "error", err)
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
		status = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	response.Metrics["authentication_enabled"] = h.config.Security.EnableAuth
	if sc := GetSecurityContext(r); sc != nil && sc.HasPermission(PermissionRead) {
		response.Metrics["api_key_name"] = getAPIKeyName(sc)
		response.Metrics["permissions"] = sc.APIKey.Permissions
		response.Metrics["instance_id"] = info.InstanceID
		response.Metrics["git_commit"] = info.GitCommit
	}

	h.writeJSONResponse(w, status, response)
}

// Ping handles liveness requests
// GET /api/v1/ping
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, &models.PingResponse{
		Message:   "pong",
		Timestamp: time.Now().UTC(),
	})
}

// GetStats handles registry statistics requests
// GET /api/v1/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	response, err := h.updateService.GetStats(r.Context())
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeError(w, statusCode, errorCode, message)
}

// writeServiceErrorResponse maps a service error onto its HTTP status. Errors
// outside the taxonomy are reported as internal errors without their detail.
func (h *Handlers) writeServiceErrorResponse(w http.ResponseWriter, err error) {
	var se *update.ServiceError
	if !errors.As(err, &se) {
		slog.Error("Unclassified service error", "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}
	if se.StatusCode >= http.StatusInternalServerError {
		slog.Error("Service error",
			"code", se.Code,
			"error", se.Error(),
			"request_id", w.Header().Get(requestIDHeader))
	}
	writeError(w, se.StatusCode, se.Code, se.Message)
}

// writeError is shared by handlers and middleware. The request id is read back
// from the response headers set by requestIDMiddleware.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = w.Header().Get(requestIDHeader)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// decodeJSONBody rejects non-JSON content types and malformed bodies.
func (h *Handlers) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "application/json") {
		h.writeErrorResponse(w, http.StatusUnsupportedMediaType, models.ErrorCodeBadRequest, "Content-Type must be application/json")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(securityContext *SecurityContext) string {
	if securityContext == nil || securityContext.APIKey == nil {
		return "anonymous"
	}
	if securityContext.APIKey.Name != "" {
		return securityContext.APIKey.Name
	}
	return "unnamed-key"
}
