// Package models - Uploaded package versions.
package models

import (
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	ChecksumTypeSHA256 = "sha256"

	// APKExtension is the only package extension accepted for upload.
	APKExtension = ".apk"

	// APKContentType is served when a download's type cannot be detected.
	APKContentType = "application/vnd.android.package-archive"
)

// AppVersion is one stored, parsed package belonging to an application.
// (AppID, VersionCode) is unique; at most one version per app has IsReleased set.
type AppVersion struct {
	ID                int64     `json:"id"`
	AppID             string    `json:"app_id"`
	VersionCode       int64     `json:"version_code"`
	VersionName       string    `json:"version_name"`
	FileSize          int64     `json:"file_size"`
	Checksum          string    `json:"checksum"`
	ChecksumType      string    `json:"checksum_type"`
	StorageKey        string    `json:"storage_key"`
	DownloadURL       string    `json:"download_url"`
	UpdateDescription string    `json:"update_description"`
	ForceUpdate       bool      `json:"force_update"`
	IsReleased        bool      `json:"is_released"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks a fully populated version before it is inserted.
func (v *AppVersion) Validate() error {
	if err := ValidateAppID(v.AppID); err != nil {
		return err
	}
	if v.VersionCode < 0 {
		return errors.New("version_code cannot be negative")
	}
	if v.FileSize < 0 {
		return errors.New("file_size cannot be negative")
	}
	if v.Checksum == "" {
		return errors.New("checksum is required")
	}
	if v.StorageKey == "" {
		return errors.New("storage_key is required")
	}
	return nil
}

// Clone returns a shallow copy safe to hand out from in-memory stores.
func (v *AppVersion) Clone() *AppVersion {
	c := *v
	return &c
}

// CompareVersionNames orders two version labels semantically. Labels that do
// not parse as semantic versions rank below every label that does, and
// amongst themselves compare lexically.
func CompareVersionNames(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
