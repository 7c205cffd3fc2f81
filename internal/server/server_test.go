package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg := models.NewDefaultConfig()
	cfg.Storage.Type = models.StorageTypeMemory
	cfg.Artifacts.RootDir = filepath.Join(t.TempDir(), "apks")
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNew_ServesHealth(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	defer srv.Close(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, srv.Service)
	assert.NotNil(t, srv.Registry)
}

func TestNew_RateLimitedRoutes(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RequestsPerMinute = 60
	cfg.Security.RateLimit.BurstSize = 1

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close(context.Background())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.1:1000"
		srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/api/v1/applications").Code)
	assert.Equal(t, http.StatusTooManyRequests, get("/api/v1/applications").Code)
	assert.Equal(t, http.StatusOK, get("/api/v1/health").Code, "health checks are exempt")
}

func TestNew_InvalidStorage(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Type = "mongo"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestListenAddress(t *testing.T) {
	addr, err := listenAddress(models.ServerConfig{Host: "0.0.0.0", Port: 8080}, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", addr)

	addr, err = listenAddress(models.ServerConfig{Host: "0.0.0.0", Port: 8080}, ":9090")
	require.NoError(t, err)
	assert.Equal(t, ":9090", addr)

	_, err = listenAddress(models.ServerConfig{}, "9090")
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APPUPDATE_STORAGE_TYPE", "memory")
	t.Setenv("APPUPDATE_ARTIFACT_ROOT_DIR", filepath.Join(dir, "apks"))
	t.Setenv("APPUPDATE_METRICS_ENABLED", "false")
	t.Setenv("APPUPDATE_LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, &Options{ListenAddress: "127.0.0.1:0"})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	err := Run(context.Background(), &Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load settings")
}
