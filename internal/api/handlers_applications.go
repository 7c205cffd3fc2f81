package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"appupdate/internal/models"

	"github.com/gorilla/mux"
)

// CreateApplication handles application creation requests
// POST /api/v1/applications
// Requires authentication and 'write' permission
func (h *Handlers) CreateApplication(w http.ResponseWriter, r *http.Request) {
	securityContext := GetSecurityContext(r)

	slog.Warn("Application creation attempt",
		"event", "security_audit",
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	var req models.CreateApplicationRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	response, err := h.updateService.CreateApplication(r.Context(), &req)
	if err != nil {
		slog.Warn("Application creation failed",
			"event", "security_audit",
			"app_id", req.ID,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Application created successfully",
		"event", "security_audit",
		"app_id", response.ID,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusCreated, response)
}

// GetApplication handles application retrieval requests
// GET /api/v1/applications/{app_id}
func (h *Handlers) GetApplication(w http.ResponseWriter, r *http.Request) {
	response, err := h.updateService.GetApplication(r.Context(), mux.Vars(r)["app_id"])
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListApplications handles application listing requests
// GET /api/v1/applications?name=&limit=&offset=
func (h *Handlers) ListApplications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	req := &models.ListApplicationsRequest{
		Name:   r.URL.Query().Get("name"),
		Limit:  limit,
		Offset: offset,
	}
	response, err := h.updateService.ListApplications(r.Context(), req)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetRelease handles released version lookups
// GET /api/v1/applications/{app_id}/release
// Responds 200 with a null release when nothing is released.
func (h *Handlers) GetRelease(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app_id"]

	released, err := h.updateService.GetRelease(r.Context(), appID)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"app_id":  appID,
		"release": released,
	})
}

// SetRelease handles release changes
// PUT /api/v1/applications/{app_id}/release
// Requires authentication and 'admin' permission
func (h *Handlers) SetRelease(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app_id"]
	securityContext := GetSecurityContext(r)

	slog.Warn("Release change attempt",
		"event", "security_audit",
		"app_id", appID,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	var req models.SetReleaseRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	if req.VersionID <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "version_id is required")
		return
	}

	released, err := h.updateService.SetRelease(r.Context(), appID, req.VersionID)
	if err != nil {
		slog.Warn("Release change failed",
			"event", "security_audit",
			"app_id", appID,
			"version_id", req.VersionID,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Release changed",
		"event", "security_audit",
		"app_id", appID,
		"version_id", released.ID,
		"version_code", released.VersionCode,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusOK, released)
}

// SetForceUpdate handles the application-level force update flag
// PUT /api/v1/applications/{app_id}/force-update
// Requires authentication and 'admin' permission
func (h *Handlers) SetForceUpdate(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app_id"]
	securityContext := GetSecurityContext(r)

	var req models.SetForceUpdateRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	slog.Warn("Force update change attempt",
		"event", "security_audit",
		"app_id", appID,
		"force_update", strconv.FormatBool(req.ForceUpdate),
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	app, err := h.updateService.SetForceUpdate(r.Context(), appID, req.ForceUpdate)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, app)
}

// CheckConsistency reports the released versions the registry holds
// GET /api/v1/applications/{app_id}/consistency
func (h *Handlers) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.updateService.CheckConsistency(r.Context(), mux.Vars(r)["app_id"])
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, report)
}
