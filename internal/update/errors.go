package update

import (
	"errors"
	"fmt"
	"net/http"

	"appupdate/internal/apk"
	"appupdate/internal/artifact"
	"appupdate/internal/models"
	"appupdate/internal/storage"
)

// ServiceError represents errors from the update service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors, one per taxonomy kind.

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewParseError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeParse,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewConflictError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewApplicationNotFoundError(appID string) *ServiceError {
	return NewNotFoundError(fmt.Sprintf("application '%s' not found", appID))
}

func NewVersionNotFoundError(id int64) *ServiceError {
	return NewNotFoundError(fmt.Sprintf("version %d not found", id))
}

func NewStorageError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewConsistencyError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeConsistency,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code string) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == code
}

// classify maps a lower-layer error onto the taxonomy. Errors that are
// already ServiceErrors pass through unchanged.
func classify(message string, err error) error {
	var se *ServiceError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return se
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		return NewNotFoundError(message)
	case errors.Is(err, storage.ErrConflict):
		return NewConflictError(message)
	case errors.Is(err, apk.ErrParse):
		return NewParseError(message, err)
	case errors.Is(err, artifact.ErrEmptyFile), errors.Is(err, artifact.ErrInvalidName), errors.Is(err, artifact.ErrInvalidKey):
		return NewValidationError(message, err)
	case errors.Is(err, artifact.ErrStorage):
		return NewStorageError(message, err)
	default:
		return NewInternalError(message, err)
	}
}

// registryError is classify for registry calls: an error that is not one of
// the registry's sentinels is a storage failure.
func registryError(message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
		return classify(message, err)
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return NewStorageError(message, err)
}
