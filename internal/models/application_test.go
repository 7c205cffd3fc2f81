package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplication(t *testing.T) {
	app := NewApplication("com.example.app", "Example", "desc", true)

	assert.Equal(t, "com.example.app", app.ID)
	assert.Equal(t, "Example", app.Name)
	assert.True(t, app.ForceUpdate)
	assert.False(t, app.CreatedAt.IsZero())
	assert.Equal(t, app.CreatedAt, app.UpdatedAt)
}

func TestApplication_Validate(t *testing.T) {
	tests := []struct {
		name     string
		app      Application
		errorMsg string
	}{
		{"valid", Application{ID: "com.example.app", Name: "Example"}, ""},
		{"blank id", Application{ID: "   ", Name: "Example"}, "app_id is required"},
		{"long id", Application{ID: strings.Repeat("a", MaxAppIDLength+1), Name: "Example"}, "app_id cannot exceed"},
		{"missing name", Application{ID: "com.example.app"}, "application name is required"},
		{"long description", Application{ID: "com.example.app", Name: "x", Description: strings.Repeat("d", MaxAppDescriptionLength+1)}, "description cannot exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.app.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestIsValidPackageName(t *testing.T) {
	assert.True(t, IsValidPackageName("com.example.app"))
	assert.True(t, IsValidPackageName("app"))
	assert.True(t, IsValidPackageName("com.example_2.app"))
	assert.False(t, IsValidPackageName("1com.example"))
	assert.False(t, IsValidPackageName("com..example"))
	assert.False(t, IsValidPackageName("com.example-app"))
	assert.False(t, IsValidPackageName(""))
}
