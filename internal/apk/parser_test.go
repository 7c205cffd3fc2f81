package apk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.apk")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func staticManifest(m *Manifest) ManifestReader {
	return func(string) (*Manifest, error) {
		c := *m
		return &c, nil
	}
}

func TestAPKParser_Parse(t *testing.T) {
	content := "not really an apk but hashed all the same"
	path := writeFile(t, content)

	parser := NewAPKParser(WithManifestReader(staticManifest(&Manifest{
		Package:     " com.example.app ",
		VersionCode: "100",
		VersionName: "1.0.0",
		Label:       "Example",
	})))

	meta, err := parser.Parse(context.Background(), path)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, "com.example.app", meta.PackageName)
	assert.Equal(t, int64(100), meta.VersionCode)
	assert.Equal(t, "1.0.0", meta.VersionName)
	assert.Equal(t, "Example", meta.Label)
	assert.Equal(t, int64(len(content)), meta.FileSize)
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Checksum)
	assert.Equal(t, models.ChecksumTypeSHA256, meta.ChecksumType)
}

func TestAPKParser_LenientVersionCode(t *testing.T) {
	path := writeFile(t, "x")

	for _, raw := range []string{"", "abc", "-5", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			parser := NewAPKParser(WithManifestReader(staticManifest(&Manifest{Package: "a", VersionCode: raw})))
			meta, err := parser.Parse(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, int64(0), meta.VersionCode)
		})
	}
}

func TestAPKParser_Errors(t *testing.T) {
	path := writeFile(t, "x")

	tests := []struct {
		name   string
		reader ManifestReader
		path   string
	}{
		{
			name:   "missing package name",
			reader: staticManifest(&Manifest{VersionCode: "1"}),
			path:   path,
		},
		{
			name:   "reader failure",
			reader: func(string) (*Manifest, error) { return nil, errors.New("zip: not a valid zip file") },
			path:   path,
		},
		{
			name:   "reader panic",
			reader: func(string) (*Manifest, error) { panic("index out of range") },
			path:   path,
		},
		{
			name:   "missing file",
			reader: staticManifest(&Manifest{Package: "a"}),
			path:   filepath.Join(t.TempDir(), "missing.apk"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewAPKParser(WithManifestReader(tt.reader))
			_, err := parser.Parse(context.Background(), tt.path)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestAPKParser_MalformedContainer(t *testing.T) {
	path := writeFile(t, "PK\x03\x04 this is a truncated zip header")

	_, err := NewAPKParser().Parse(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestHashFile_MatchesHashReader(t *testing.T) {
	content := strings.Repeat("0123456789", 10000)
	path := writeFile(t, content)

	fromFile, err := HashFile(path)
	require.NoError(t, err)
	fromReader, err := HashReader(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, fromReader, fromFile)
	assert.Len(t, fromFile, 64)
}

const helloWorldAPK = "testdata/helloworld.apk"

func TestReadManifest_HelloWorld(t *testing.T) {
	manifest, err := ReadManifest(helloWorldAPK)
	require.NoError(t, err)

	assert.Equal(t, "com.example.helloworld", manifest.Package)
	assert.Equal(t, "1", manifest.VersionCode)
	assert.Equal(t, "1.0", manifest.VersionName)
	assert.Equal(t, "HelloWorld", manifest.Label)
}

func TestAPKParser_ParseRealPackage(t *testing.T) {
	meta, err := NewAPKParser().Parse(context.Background(), helloWorldAPK)
	require.NoError(t, err)

	info, err := os.Stat(helloWorldAPK)
	require.NoError(t, err)

	assert.Equal(t, "com.example.helloworld", meta.PackageName)
	assert.Equal(t, int64(1), meta.VersionCode)
	assert.Equal(t, "1.0", meta.VersionName)
	assert.Equal(t, "HelloWorld", meta.Label)
	assert.Equal(t, info.Size(), meta.FileSize)
	assert.Equal(t, "627b1afa6d5de6dcdf20cc0069b90da821a7a15d7ba5f542628b7ddf6a983048", meta.Checksum)
	assert.Equal(t, models.ChecksumTypeSHA256, meta.ChecksumType)
}
