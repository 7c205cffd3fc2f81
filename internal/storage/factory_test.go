package storage

import (
	"context"
	"path/filepath"
	"testing"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_GetSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, NewFactory().GetSupportedProviders())
}

func TestFactory_ValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    models.StorageConfig
		expectErr bool
	}{
		{"memory", models.StorageConfig{Type: models.StorageTypeMemory}, false},
		{"sqlite with dsn", models.StorageConfig{Type: models.StorageTypeSQLite, Database: models.DatabaseConfig{DSN: "file:x.db"}}, false},
		{"sqlite without dsn", models.StorageConfig{Type: models.StorageTypeSQLite}, true},
		{"postgres without dsn", models.StorageConfig{Type: models.StorageTypePostgres}, true},
		{"json is gone", models.StorageConfig{Type: "json"}, true},
		{"unknown", models.StorageConfig{Type: "invalid"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFactory().ValidateConfig(tt.config)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFactory_Create(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()

	s, err := f.Create(ctx, models.StorageConfig{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	dsn := "file:" + filepath.Join(t.TempDir(), "factory.db")
	s, err = f.Create(ctx, models.StorageConfig{Type: models.StorageTypeSQLite, Database: models.DatabaseConfig{DSN: dsn}})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStorage{}, s)

	_, err = f.Create(ctx, models.StorageConfig{Type: "invalid"})
	assert.Error(t, err)
}
