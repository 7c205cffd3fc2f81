package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assigned := rec.Header().Get(requestIDHeader)
	assert.Len(t, assigned, 36)
	assert.Equal(t, assigned, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "from-proxy")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "from-proxy", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "from-proxy", seen)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := requestIDMiddleware(recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
	assert.Equal(t, rec.Header().Get(requestIDHeader), resp.RequestID)
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	var inner *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, inner)
	assert.Equal(t, http.StatusTeapot, inner.status)
	assert.Equal(t, int64(len("short and stout")), inner.bytes)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	cfg := models.NewDefaultConfig()
	cfg.Server.CORS.Enabled = true
	cfg.Server.CORS.AllowedOrigins = []string{"https://console.example.com"}
	router := newTestRouter(t, &MockUpdateService{}, cfg)

	rec := serve(router, http.MethodOptions, "/api/v1/applications", nil, "Origin", "https://console.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = serve(router, http.MethodOptions, "/api/v1/applications", nil, "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &MockUpdateService{}, nil)

	rec := serve(router, http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rec).Code)

	rec = serve(router, http.MethodPatch, "/api/v1/applications", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_MethodNotAllowedOnEveryKnownPath(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPatch, "/api/v1/applications"},
		{http.MethodDelete, "/api/v1/applications/com.example.app"},
		{http.MethodDelete, "/api/v1/applications/com.example.app/versions"},
		{http.MethodPost, "/api/v1/applications/com.example.app/release"},
		{http.MethodGet, "/api/v1/applications/com.example.app/force-update"},
		{http.MethodGet, "/api/v1/versions/batch-delete"},
		{http.MethodPatch, "/api/v1/versions/7"},
		{http.MethodPost, "/api/v1/stats"},
		{http.MethodGet, "/api/v1/check"},
		{http.MethodPost, "/api/v1/ping"},
	}

	configs := map[string]*models.Config{
		"open":          models.NewDefaultConfig(),
		"authenticated": authConfig(),
	}
	for name, cfg := range configs {
		router := newTestRouter(t, &MockUpdateService{}, cfg)
		for _, tt := range tests {
			t.Run(name+" "+tt.method+" "+tt.path, func(t *testing.T) {
				rec := serve(router, tt.method, tt.path, nil)
				assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			})
		}
	}
}

func TestRouter_PreflightKeepsUnknownPathsNotFound(t *testing.T) {
	router := newTestRouter(t, &MockUpdateService{}, nil)

	rec := serve(router, http.MethodOptions, "/api/v1/versions/7", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(router, http.MethodOptions, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(router, http.MethodPut, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1:1234"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "10.0.0.1:1", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.1:1", "198.51.100.4"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}, "10.0.0.1:1", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
