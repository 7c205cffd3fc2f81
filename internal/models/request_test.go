package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateApplicationRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateApplicationRequest
		errorMsg string
	}{
		{"valid", CreateApplicationRequest{ID: "com.example.app", Name: "Example"}, ""},
		{"missing id", CreateApplicationRequest{Name: "Example"}, "app_id is required"},
		{"not a package name", CreateApplicationRequest{ID: "com/example", Name: "Example"}, "valid package name"},
		{"missing name", CreateApplicationRequest{ID: "com.example.app"}, "name is required"},
		{"long name", CreateApplicationRequest{ID: "com.example.app", Name: strings.Repeat("n", MaxAppNameLength+1)}, "name cannot exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			err := tt.req.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestIngestRequest_Validate(t *testing.T) {
	body := strings.NewReader("bytes")

	tests := []struct {
		name     string
		req      IngestRequest
		errorMsg string
	}{
		{"valid", IngestRequest{AppID: "com.example.app", FileName: "app.apk", Content: body}, ""},
		{"uppercase extension", IngestRequest{AppID: "com.example.app", FileName: "APP.APK", Content: body}, ""},
		{"no content", IngestRequest{AppID: "com.example.app", FileName: "app.apk"}, "package file is required"},
		{"blank app id", IngestRequest{AppID: " ", FileName: "app.apk", Content: body}, "app_id is required"},
		{"long app id", IngestRequest{AppID: strings.Repeat("a", 101), FileName: "app.apk", Content: body}, "app_id cannot exceed 100"},
		{"app id with space", IngestRequest{AppID: "com.example app", FileName: "app.apk", Content: body}, "valid package name"},
		{"app id with path", IngestRequest{AppID: "com/example/app", FileName: "app.apk", Content: body}, "valid package name"},
		{"wrong extension", IngestRequest{AppID: "com.example.app", FileName: "app.zip", Content: body}, "only .apk files"},
		{"no file name", IngestRequest{AppID: "com.example.app", Content: body}, "file name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			err := tt.req.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestListVersionsRequest_Normalize(t *testing.T) {
	req := ListVersionsRequest{AppID: " com.example.app ", Limit: 1000}
	req.Normalize()

	assert.Equal(t, "com.example.app", req.AppID)
	assert.Equal(t, OrderByVersionCode, req.OrderBy)
	assert.Equal(t, MaxPageSize, req.Limit)
	assert.NoError(t, req.Validate())

	req.OrderBy = "size"
	assert.EqualError(t, req.Validate(), "invalid order_by field: size")

	req.OrderBy = OrderByCreatedAt
	req.Offset = -1
	assert.EqualError(t, req.Validate(), "offset cannot be negative")
}

func TestListApplicationsRequest_Normalize(t *testing.T) {
	req := ListApplicationsRequest{Name: "  demo "}
	req.Normalize()

	assert.Equal(t, "demo", req.Name)
	assert.Equal(t, DefaultPageSize, req.Limit)
}

func TestEditVersionRequest_Validate(t *testing.T) {
	assert.Error(t, (&EditVersionRequest{}).Validate())

	desc := "notes"
	assert.NoError(t, (&EditVersionRequest{UpdateDescription: &desc}).Validate())
}

func TestBatchDeleteRequest(t *testing.T) {
	assert.EqualError(t, (&BatchDeleteRequest{}).Validate(), "ids cannot be empty")

	req := BatchDeleteRequest{IDs: []int64{1}}
	assert.True(t, req.ShouldRemoveArtifact())

	keep := false
	req.RemoveArtifact = &keep
	assert.False(t, req.ShouldRemoveArtifact())
}

func TestUpdateCheckRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UpdateCheckRequest{AppID: "com.example.app", CurrentVersionCode: 0}).Validate())
	assert.Error(t, (&UpdateCheckRequest{AppID: "", CurrentVersionCode: 1}).Validate())
	assert.Error(t, (&UpdateCheckRequest{AppID: "com.example.app", CurrentVersionCode: -1}).Validate())
}
