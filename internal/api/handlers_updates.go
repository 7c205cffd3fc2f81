package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"
	"strconv"

	"appupdate/internal/models"

	"github.com/gorilla/mux"
)

// apkContentType is served when the extension has no registered MIME type.
const apkContentType = "application/vnd.android.package-archive"

// CheckForUpdates handles update check requests
// GET /api/v1/updates/{app_id}/check?version_code=N
// POST /api/v1/check with a JSON UpdateCheckRequest
func (h *Handlers) CheckForUpdates(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateCheckRequest

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
			return
		}
	} else {
		req.AppID = mux.Vars(r)["app_id"]
		req.Channel = r.URL.Query().Get("channel")

		raw := r.URL.Query().Get("version_code")
		if raw == "" {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "version_code is required")
			return
		}
		code, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "version_code must be an integer")
			return
		}
		req.CurrentVersionCode = code
	}

	decision, err := h.updateService.CheckUpdate(r.Context(), &req)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, decision)
}

// Download serves a stored package, honoring range requests
// GET {download_path}/{key}
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	f, obj, err := h.updateService.OpenArtifact(r.Context(), key)
	if err != nil {
		h.writeServiceErrorResponse(w, err)
		return
	}
	defer f.Close()

	name := path.Base(obj.Key)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = apkContentType
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	http.ServeContent(w, r, name, obj.ModTime, f)
}
