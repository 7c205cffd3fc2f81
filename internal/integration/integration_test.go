package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"appupdate/internal/apk"
	"appupdate/internal/models"
	"appupdate/internal/server"
	"appupdate/internal/update"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	appID    = "com.example.app"
	writeKey = "ci-secret"
	adminKey = "admin-secret"
	readKey  = "dash-secret"
)

// textManifest reads fake packages of the form "package;code;name;label;payload".
func textManifest(path string) (*apk.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(data), ";")
	if len(parts) < 4 {
		return nil, errors.New("zip: not a valid zip file")
	}
	return &apk.Manifest{Package: parts[0], VersionCode: parts[1], VersionName: parts[2], Label: parts[3]}, nil
}

func fakeAPK(pkg string, code int64, name string) []byte {
	return []byte(fmt.Sprintf("%s;%d;%s;Example;payload-%d", pkg, code, name, code))
}

type env struct {
	t   *testing.T
	srv *httptest.Server
	cfg *models.Config
}

func newEnv(t *testing.T, storageType string) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := models.NewDefaultConfig()
	cfg.Storage.Type = storageType
	cfg.Storage.Database.DSN = "file:" + filepath.Join(dir, "registry.db")
	cfg.Artifacts.RootDir = filepath.Join(dir, "apks")
	cfg.Artifacts.BaseURL = "http://updates.example.com"
	cfg.Security.EnableAuth = true
	cfg.Security.RateLimit.Enabled = false
	cfg.Security.APIKeys = []models.APIKey{
		{Name: "ci", Key: writeKey, Permissions: []string{models.PermissionWrite}, Enabled: true},
		{Name: "release-manager", Key: adminKey, Permissions: []string{models.PermissionAdmin}, Enabled: true},
		{Name: "dashboard", Key: readKey, Permissions: []string{models.PermissionRead}, Enabled: true},
	}
	cfg.Metrics.Enabled = false
	require.NoError(t, cfg.Validate())

	s, err := server.New(context.Background(), cfg, server.WithServiceOptions(
		update.WithParser(apk.NewAPKParser(apk.WithManifestReader(textManifest))),
	))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	ts := httptest.NewServer(s.Handler)
	t.Cleanup(ts.Close)
	return &env{t: t, srv: ts, cfg: cfg}
}

func (e *env) do(method, path, key string, body io.Reader, contentType string) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(e.t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *env) doJSON(method, path, key string, payload interface{}) *http.Response {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(e.t, err)
		body = bytes.NewReader(data)
	}
	return e.do(method, path, key, body, "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *env) upload(app string, content []byte, fields map[string]string) *http.Response {
	e.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("apk_file", "app-release.apk")
	require.NoError(e.t, err)
	_, err = part.Write(content)
	require.NoError(e.t, err)
	for k, v := range fields {
		require.NoError(e.t, w.WriteField(k, v))
	}
	require.NoError(e.t, w.Close())
	return e.do(http.MethodPost, "/api/v1/applications/"+app+"/versions", writeKey, &buf, w.FormDataContentType())
}

func (e *env) ingest(code int64, name string) *models.AppVersion {
	e.t.Helper()
	resp := e.upload(appID, fakeAPK(appID, code, name), map[string]string{"update_description": "build " + name})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)
	return ptr(decode[models.AppVersion](e.t, resp))
}

func (e *env) setRelease(versionID int64) *http.Response {
	e.t.Helper()
	return e.doJSON(http.MethodPut, "/api/v1/applications/"+appID+"/release", adminKey, models.SetReleaseRequest{VersionID: versionID})
}

func (e *env) check(code int64) models.UpdateDecision {
	e.t.Helper()
	resp := e.do(http.MethodGet, fmt.Sprintf("/api/v1/updates/%s/check?version_code=%d", appID, code), "", nil, "")
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	return decode[models.UpdateDecision](e.t, resp)
}

func ptr[T any](v T) *T {
	return &v
}

func backends(t *testing.T, fn func(t *testing.T, e *env)) {
	for _, backend := range []string{models.StorageTypeMemory, models.StorageTypeSQLite} {
		t.Run(backend, func(t *testing.T) {
			fn(t, newEnv(t, backend))
		})
	}
}

func TestIntegration_DistributionFlow(t *testing.T) {
	backends(t, func(t *testing.T, e *env) {
		// Ingest creates the application on first upload.
		v100 := e.ingest(100, "1.0.0")
		assert.Equal(t, int64(100), v100.VersionCode)
		assert.False(t, v100.IsReleased)
		assert.Equal(t, models.ChecksumTypeSHA256, v100.ChecksumType)
		assert.Len(t, v100.Checksum, 64)

		resp := e.do(http.MethodGet, "/api/v1/applications/"+appID+"/versions", readKey, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[models.ListVersionsResponse](t, resp)
		require.Len(t, list.Versions, 1)
		assert.Equal(t, v100.ID, list.Versions[0].ID)

		// Nothing released yet.
		assert.False(t, e.check(50).HasUpdate)

		resp = e.setRelease(v100.ID)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = e.do(http.MethodGet, "/api/v1/applications/"+appID+"/release", readKey, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		release := decode[struct {
			AppID   string             `json:"app_id"`
			Release *models.AppVersion `json:"release"`
		}](t, resp)
		require.NotNil(t, release.Release)
		assert.Equal(t, v100.ID, release.Release.ID)

		decision := e.check(50)
		assert.True(t, decision.HasUpdate)
		assert.Equal(t, int64(100), decision.NewVersionCode)
		assert.Equal(t, "1.0.0", decision.NewVersionName)
		assert.Equal(t, v100.Checksum, decision.Checksum)
		assert.False(t, decision.ForceUpdate)

		assert.False(t, e.check(150).HasUpdate)
		assert.False(t, e.check(100).HasUpdate)

		// The decision's URL serves the exact bytes that were uploaded.
		u, err := url.Parse(decision.DownloadURL)
		require.NoError(t, err)
		resp = e.do(http.MethodGet, u.Path, "", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, fakeAPK(appID, 100, "1.0.0"), body)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

		// Application-level force flag overrides the version's.
		resp = e.doJSON(http.MethodPut, "/api/v1/applications/"+appID+"/force-update", adminKey, models.SetForceUpdateRequest{ForceUpdate: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, e.check(50).ForceUpdate)
	})
}

func TestIntegration_DuplicateVersionCode(t *testing.T) {
	backends(t, func(t *testing.T, e *env) {
		e.ingest(100, "1.0.0")

		resp := e.upload(appID, fakeAPK(appID, 100, "1.0.0-rebuild"), nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, models.ErrorCodeConflict, decode[models.ErrorResponse](t, resp).Code)

		resp = e.do(http.MethodGet, "/api/v1/applications/"+appID+"/versions", readKey, nil, "")
		list := decode[models.ListVersionsResponse](t, resp)
		require.Len(t, list.Versions, 1)
		assert.Equal(t, "1.0.0", list.Versions[0].VersionName)
	})
}

func TestIntegration_UploadErrors(t *testing.T) {
	e := newEnv(t, models.StorageTypeMemory)

	resp := e.upload(appID, []byte("not an apk"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, models.ErrorCodeParse, decode[models.ErrorResponse](t, resp).Code)

	resp = e.upload(appID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.ErrorCodeValidation, decode[models.ErrorResponse](t, resp).Code)

	resp = e.do(http.MethodGet, "/api/v1/applications/"+appID+"/versions", readKey, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "a failed upload creates no application")
}

func TestIntegration_ReleaseSwapsKeepOneReleased(t *testing.T) {
	backends(t, func(t *testing.T, e *env) {
		v100 := e.ingest(100, "1.0.0")
		v200 := e.ingest(200, "2.0.0")
		require.Equal(t, http.StatusOK, e.setRelease(v200.ID).StatusCode)

		var violations atomic.Int32
		var wg sync.WaitGroup
		done := make(chan struct{})

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					resp, err := http.Get(e.srv.URL + "/api/v1/updates/" + appID + "/check?version_code=1")
					if err != nil {
						continue
					}
					if resp.StatusCode != http.StatusOK {
						violations.Add(1)
					}
					resp.Body.Close()
				}
			}()
		}

		for i := 0; i < 20; i++ {
			target := v100.ID
			if i%2 == 1 {
				target = v200.ID
			}
			resp := e.setRelease(target)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			report := decode[models.ConsistencyReport](t, e.do(http.MethodGet, "/api/v1/applications/"+appID+"/consistency", readKey, nil, ""))
			assert.True(t, report.Consistent)
			assert.Equal(t, []int64{target}, report.ReleasedVersionIDs)
		}
		close(done)
		wg.Wait()

		assert.Zero(t, violations.Load(), "no reader saw an inconsistent release")
	})
}

func TestIntegration_DeleteReleasedLeavesNoRelease(t *testing.T) {
	backends(t, func(t *testing.T, e *env) {
		v100 := e.ingest(100, "1.0.0")
		v200 := e.ingest(200, "2.0.0")
		require.Equal(t, http.StatusOK, e.setRelease(v200.ID).StatusCode)

		resp := e.do(http.MethodDelete, fmt.Sprintf("/api/v1/versions/%d", v200.ID), adminKey, nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[models.DeleteVersionResult](t, resp)
		assert.True(t, result.WasReleased)
		assert.True(t, result.ArtifactRemoved)

		assert.False(t, e.check(1).HasUpdate, "the lower version is not promoted")

		resp = e.do(http.MethodGet, fmt.Sprintf("/api/v1/versions/%d", v100.ID), readKey, nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestIntegration_BatchDelete(t *testing.T) {
	e := newEnv(t, models.StorageTypeSQLite)
	v1 := e.ingest(1, "0.1")
	v2 := e.ingest(2, "0.2")

	resp := e.doJSON(http.MethodPost, "/api/v1/versions/batch-delete", adminKey, models.BatchDeleteRequest{IDs: []int64{v1.ID, v2.ID, 9999}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[models.BatchDeleteResponse](t, resp)
	assert.ElementsMatch(t, []int64{v1.ID, v2.ID}, result.SucceededIDs)
	assert.Contains(t, result.Failed, int64(9999))
}

func TestIntegration_Permissions(t *testing.T) {
	e := newEnv(t, models.StorageTypeMemory)
	v := e.ingest(10, "1.0")

	// Write keys cannot promote a release.
	resp := e.doJSON(http.MethodPut, "/api/v1/applications/"+appID+"/release", writeKey, models.SetReleaseRequest{VersionID: v.ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Anonymous callers cannot list.
	resp = e.do(http.MethodGet, "/api/v1/applications", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Read keys cannot upload.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())
	resp = e.do(http.MethodPost, "/api/v1/applications/"+appID+"/versions", readKey, &buf, w.FormDataContentType())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Update checks and downloads stay public.
	resp = e.do(http.MethodGet, "/api/v1/updates/"+appID+"/check?version_code=1", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_CreateApplicationThenEdit(t *testing.T) {
	e := newEnv(t, models.StorageTypeSQLite)

	resp := e.doJSON(http.MethodPost, "/api/v1/applications", writeKey, models.CreateApplicationRequest{ID: appID, Name: "Example"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.doJSON(http.MethodPost, "/api/v1/applications", writeKey, models.CreateApplicationRequest{ID: appID, Name: "Again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	v := e.ingest(5, "0.5")
	resp = e.doJSON(http.MethodPut, fmt.Sprintf("/api/v1/versions/%d", v.ID), writeKey, map[string]interface{}{
		"update_description": "Fixes crash on start",
		"force_update":       true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decode[models.AppVersion](t, resp)
	assert.Equal(t, "Fixes crash on start", edited.UpdateDescription)
	assert.True(t, edited.ForceUpdate)
	assert.Equal(t, v.Checksum, edited.Checksum)

	resp = e.do(http.MethodGet, "/api/v1/applications?name=exam", readKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	apps := decode[models.ListApplicationsResponse](t, resp)
	require.Len(t, apps.Applications, 1)
	assert.Equal(t, "Example", apps.Applications[0].Name)
}

func TestIntegration_Health(t *testing.T) {
	e := newEnv(t, models.StorageTypeSQLite)
	resp := e.do(http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[models.HealthCheckResponse](t, resp)
	assert.Equal(t, models.StatusHealthy, health.Status)
}
