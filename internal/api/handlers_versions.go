package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"appupdate/internal/models"

	"github.com/gorilla/mux"
)

// multipartMemory is the part of an upload kept in memory; the rest spills to
// temporary files managed by net/http.
const multipartMemory = 32 << 20

// UploadVersion ingests an uploaded package
// POST /api/v1/applications/{app_id}/versions
// multipart/form-data: apk_file, update_description, force_update
// Requires authentication and 'write' permission
func (h *Handlers) UploadVersion(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app_id"]
	securityContext := GetSecurityContext(r)

	slog.Warn("Version upload attempt",
		"event", "security_audit",
		"app_id", appID,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Artifacts.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, models.ErrorCodePayloadTooLarge,
				"Upload exceeds the maximum size of "+strconv.FormatInt(h.config.Artifacts.MaxUploadSize, 10)+" bytes")
			return
		}
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("apk_file")
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "apk_file is required")
		return
	}
	defer file.Close()

	forceUpdate := false
	if raw := r.FormValue("force_update"); raw != "" {
		forceUpdate, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "force_update must be a boolean")
			return
		}
	}

	req := &models.IngestRequest{
		AppID:             appID,
		FileName:          header.Filename,
		Content:           file,
		UpdateDescription: r.FormValue("update_description"),
		ForceUpdate:       forceUpdate,
	}
	created, err := h.updateService.IngestVersion(r.Context(), req)
	if err != nil {
		slog.Warn("Version upload failed",
			"event", "security_audit",
			"app_id", appID,
			"file_name", header.Filename,
			"api_key", getAPIKeyName(securityContext),
			"error", err.Error())
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Version uploaded",
		"event", "security_audit",
		"app_id", appID,
		"version_id", created.ID,
		"version_code", created.VersionCode,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusCreated, created)
}

// ListVersions handles version listing requests
// GET /api/v1/applications/{app_id}/versions?order_by=&limit=&offset=
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
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

	req := &models.ListVersionsRequest{
		AppID:   mux.Vars(r)["app_id"],
		OrderBy: r.URL.Query().Get("order_by"),
		Limit:   limit,
		Offset:  offset,
	}
	response, err := h.updateService.ListVersions(r.Context(), req)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetVersion handles single version lookups
// GET /api/v1/versions/{id}
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.versionID(w, r)
	if !ok {
		return
	}

	v, err := h.updateService.GetVersion(r.Context(), id)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, v)
}

// EditVersion updates a version's description and force flag
// PUT /api/v1/versions/{id}
// Requires authentication and 'write' permission
func (h *Handlers) EditVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.versionID(w, r)
	if !ok {
		return
	}
	securityContext := GetSecurityContext(r)

	slog.Warn("Version edit attempt",
		"event", "security_audit",
		"version_id", id,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	var req models.EditVersionRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	v, err := h.updateService.EditVersion(r.Context(), id, &req)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, v)
}

// DeleteVersion removes a version and, unless remove_artifact=false, its file
// DELETE /api/v1/versions/{id}
// Requires authentication and 'admin' permission
func (h *Handlers) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.versionID(w, r)
	if !ok {
		return
	}
	securityContext := GetSecurityContext(r)

	removeArtifact := true
	if raw := r.URL.Query().Get("remove_artifact"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "remove_artifact must be a boolean")
			return
		}
		removeArtifact = parsed
	}

	slog.Warn("Version deletion attempt",
		"event", "security_audit",
		"version_id", id,
		"remove_artifact", removeArtifact,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	result, err := h.updateService.DeleteVersion(r.Context(), id, removeArtifact)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	slog.Info("Version deleted",
		"event", "security_audit",
		"version_id", id,
		"app_id", result.AppID,
		"was_released", result.WasReleased,
		"api_key", getAPIKeyName(securityContext))

	h.writeJSONResponse(w, http.StatusOK, result)
}

// BatchDeleteVersions deletes several versions, each independently
// POST /api/v1/versions/batch-delete
// Requires authentication and 'admin' permission
func (h *Handlers) BatchDeleteVersions(w http.ResponseWriter, r *http.Request) {
	securityContext := GetSecurityContext(r)

	var req models.BatchDeleteRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	slog.Warn("Batch version deletion attempt",
		"event", "security_audit",
		"count", len(req.IDs),
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	response, err := h.updateService.BatchDeleteVersions(r.Context(), &req)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionID parses the {id} path variable.
func (h *Handlers) versionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "version id must be a positive integer")
		return 0, false
	}
	return id, true
}
