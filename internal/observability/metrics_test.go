package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
)

func TestMetricsServer_ServesRegistry(t *testing.T) {
	provider, err := Setup(context.Background(),
		models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
		models.ObservabilityConfig{ServiceName: "appupdate-test"},
		testInfo)
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	counter, err := provider.MeterProvider().Meter("test").Int64Counter("appupdate.test.hits")
	require.NoError(t, err)
	counter.Add(context.Background(), 3, metric.WithAttributes())

	ms := NewMetricsServer(9090, "/metrics", provider)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "appupdate_test_hits")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `service_name="appupdate-test"`)
}

func TestMetricsServer_NilProvider(t *testing.T) {
	ms := NewMetricsServer(9090, "/metrics", nil)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ms.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, http.ErrServerClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
