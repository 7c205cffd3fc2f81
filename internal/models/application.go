// Package models - Application records.
// An application is identified by its Android package name and owns every
// uploaded version of that package.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	MaxAppIDLength          = 100
	MaxAppNameLength        = 200
	MaxAppDescriptionLength = 1000

	// AutoCreatedDescription is stored on applications provisioned by an upload.
	AutoCreatedDescription = "auto-created via APK upload"
)

// packageNamePattern matches Java-style package identifiers (com.example.app).
var packageNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)*$`)

// Application represents one distributable Android application.
//
// ForceUpdate is the application-level override consulted by the update
// decision. The per-version flag on AppVersion is kept for display only.
type Application struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ForceUpdate bool      `json:"force_update"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewApplication creates an application with both timestamps set to now.
func NewApplication(id, name, description string, forceUpdate bool) *Application {
	now := time.Now().UTC()
	return &Application{
		ID:          id,
		Name:        name,
		Description: description,
		ForceUpdate: forceUpdate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the stored shape of an application.
func (a *Application) Validate() error {
	if err := ValidateAppID(a.ID); err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("application name is required")
	}
	if len(a.Name) > MaxAppNameLength {
		return fmt.Errorf("application name cannot exceed %d characters", MaxAppNameLength)
	}
	if len(a.Description) > MaxAppDescriptionLength {
		return fmt.Errorf("application description cannot exceed %d characters", MaxAppDescriptionLength)
	}
	return nil
}

// ValidateAppID checks the constraints shared by every entry point that takes
// an application identifier: non-blank and length-bounded.
func ValidateAppID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("app_id is required")
	}
	if len(id) > MaxAppIDLength {
		return fmt.Errorf("app_id cannot exceed %d characters", MaxAppIDLength)
	}
	return nil
}

// IsValidPackageName reports whether id looks like an Android package name.
func IsValidPackageName(id string) bool {
	return packageNamePattern.MatchString(id)
}

// ReleasedSummary is the short description of an application's released version
// included in application listings.
type ReleasedSummary struct {
	VersionID   int64     `json:"version_id"`
	VersionName string    `json:"version_name"`
	VersionCode int64     `json:"version_code"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApplicationSummary is an application plus its listing aggregates.
type ApplicationSummary struct {
	Application
	TotalVersions int              `json:"total_versions"`
	Released      *ReleasedSummary `json:"released,omitempty"`
}
