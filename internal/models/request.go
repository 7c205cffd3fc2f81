// Package models - API request types and input validation.
// Validate reports the first problem found; Normalize trims and fills defaults.
package models

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Version list orderings.
const (
	OrderByVersionCode = "version_code"
	OrderByCreatedAt   = "created_at"
	OrderByVersionName = "version_name"
)

// CreateApplicationRequest registers an application ahead of its first upload.
type CreateApplicationRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ForceUpdate bool   `json:"force_update"`
}

func (r *CreateApplicationRequest) Validate() error {
	if err := ValidateAppID(r.ID); err != nil {
		return err
	}
	if !IsValidPackageName(r.ID) {
		return errors.New("id must be a valid package name such as com.example.app")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > MaxAppNameLength {
		return fmt.Errorf("name cannot exceed %d characters", MaxAppNameLength)
	}
	if len(r.Description) > MaxAppDescriptionLength {
		return fmt.Errorf("description cannot exceed %d characters", MaxAppDescriptionLength)
	}
	return nil
}

func (r *CreateApplicationRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}

// IngestRequest carries one uploaded package into the ingestion pipeline.
// Content is read exactly once.
type IngestRequest struct {
	AppID             string
	FileName          string
	Content           io.Reader
	UpdateDescription string
	ForceUpdate       bool
}

func (r *IngestRequest) Validate() error {
	if r.Content == nil {
		return errors.New("package file is required")
	}
	if err := ValidateAppID(r.AppID); err != nil {
		return err
	}
	// Artifact keys are derived from the id, so they must map one to one.
	if !IsValidPackageName(r.AppID) {
		return errors.New("app_id must be a valid package name such as com.example.app")
	}
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("file name is required")
	}
	if !strings.EqualFold(filepath.Ext(r.FileName), APKExtension) {
		return fmt.Errorf("only %s files are supported", APKExtension)
	}
	return nil
}

func (r *IngestRequest) Normalize() {
	r.AppID = strings.TrimSpace(r.AppID)
	r.FileName = strings.TrimSpace(r.FileName)
	r.UpdateDescription = strings.TrimSpace(r.UpdateDescription)
}

// ListApplicationsRequest filters applications by a case-insensitive name match.
type ListApplicationsRequest struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func (r *ListApplicationsRequest) Validate() error {
	return validatePage(r.Limit, r.Offset)
}

func (r *ListApplicationsRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Limit = normalizeLimit(r.Limit)
}

type ListVersionsRequest struct {
	AppID   string `json:"app_id"`
	OrderBy string `json:"order_by,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

func (r *ListVersionsRequest) Validate() error {
	if err := ValidateAppID(r.AppID); err != nil {
		return err
	}
	switch r.OrderBy {
	case "", OrderByVersionCode, OrderByCreatedAt, OrderByVersionName:
	default:
		return fmt.Errorf("invalid order_by field: %s", r.OrderBy)
	}
	return validatePage(r.Limit, r.Offset)
}

func (r *ListVersionsRequest) Normalize() {
	r.AppID = strings.TrimSpace(r.AppID)
	if r.OrderBy == "" {
		r.OrderBy = OrderByVersionCode
	}
	r.Limit = normalizeLimit(r.Limit)
}

// EditVersionRequest updates the mutable fields of a version; nil fields are kept.
type EditVersionRequest struct {
	UpdateDescription *string `json:"update_description,omitempty"`
	ForceUpdate       *bool   `json:"force_update,omitempty"`
}

func (r *EditVersionRequest) Validate() error {
	if r.UpdateDescription == nil && r.ForceUpdate == nil {
		return errors.New("at least one of update_description or force_update is required")
	}
	return nil
}

type BatchDeleteRequest struct {
	IDs            []int64 `json:"ids"`
	RemoveArtifact *bool   `json:"remove_artifact,omitempty"`
}

func (r *BatchDeleteRequest) Validate() error {
	if len(r.IDs) == 0 {
		return errors.New("ids cannot be empty")
	}
	return nil
}

// ShouldRemoveArtifact defaults to true when the caller did not say.
func (r *BatchDeleteRequest) ShouldRemoveArtifact() bool {
	return r.RemoveArtifact == nil || *r.RemoveArtifact
}

type SetReleaseRequest struct {
	VersionID int64 `json:"version_id"`
}

type SetForceUpdateRequest struct {
	ForceUpdate bool `json:"force_update"`
}

// UpdateCheckRequest is sent by installed clients.
type UpdateCheckRequest struct {
	AppID              string `json:"app_id"`
	CurrentVersionCode int64  `json:"current_version_code"`
	Channel            string `json:"channel,omitempty"`
}

func (r *UpdateCheckRequest) Validate() error {
	if err := ValidateAppID(r.AppID); err != nil {
		return err
	}
	if r.CurrentVersionCode < 0 {
		return errors.New("current_version_code cannot be negative")
	}
	return nil
}

func (r *UpdateCheckRequest) Normalize() {
	r.AppID = strings.TrimSpace(r.AppID)
	r.Channel = strings.TrimSpace(r.Channel)
}

func validatePage(limit, offset int) error {
	if limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if offset < 0 {
		return errors.New("offset cannot be negative")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit == 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
