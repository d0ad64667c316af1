package arca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

var (
	// ErrSVMNotFound indicates the SVM does not exist
	ErrSVMNotFound = errors.New("svm not found")

	// ErrVolumeNotFound indicates the volume does not exist
	ErrVolumeNotFound = errors.New("volume not found")

	// ErrVolumeAlreadyExists indicates the volume already exists
	ErrVolumeAlreadyExists = errors.New("volume already exists")

	// ErrSnapshotNotFound indicates the snapshot does not exist
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotAlreadyExists indicates the snapshot already exists
	ErrSnapshotAlreadyExists = errors.New("snapshot already exists")

	// ErrExportPolicyNotFound indicates the export policy does not exist
	ErrExportPolicyNotFound = errors.New("export policy not found")

	// ErrExportPolicyAlreadyExists indicates the export policy already exists
	ErrExportPolicyAlreadyExists = errors.New("export policy already exists")

	// ErrReplicationNotFound indicates the replication relationship or transfer does not exist
	ErrReplicationNotFound = errors.New("replication not found")

	// ErrResourceBusy indicates the resource is in use, e.g. a snapshot backing a clone
	ErrResourceBusy = errors.New("resource busy")

	// ErrUnavailable indicates the ARCA service is unavailable
	ErrUnavailable = errors.New("arca service unavailable")

	// ErrInvalidResponse indicates an invalid API response
	ErrInvalidResponse = errors.New("invalid api response")
)

// APIError represents an error from the ARCA API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("arca api error (status %d): %v: %s", e.StatusCode, e.Err, e.Message)
	}
	return fmt.Sprintf("arca api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// MapHTTPStatusToError maps HTTP status codes to specific errors. The
// returned APIError unwraps to the matching sentinel.
func MapHTTPStatusToError(statusCode int, message string) error {
	var kind error
	switch statusCode {
	case http.StatusNotFound:
		// Distinguish between different resource types based on message
		switch {
		case containsAny(message, "snapshot"):
			kind = ErrSnapshotNotFound
		case containsAny(message, "replication", "relationship", "transfer"):
			kind = ErrReplicationNotFound
		case containsAny(message, "export policy", "export-policy"):
			kind = ErrExportPolicyNotFound
		case containsAny(message, "svm", "storage virtual machine"):
			kind = ErrSVMNotFound
		default:
			kind = ErrVolumeNotFound
		}
	case http.StatusConflict:
		switch {
		case containsAny(message, "busy", "in use", "has clones", "dependent"):
			kind = ErrResourceBusy
		case containsAny(message, "snapshot"):
			kind = ErrSnapshotAlreadyExists
		case containsAny(message, "export policy", "export-policy"):
			kind = ErrExportPolicyAlreadyExists
		default:
			kind = ErrVolumeAlreadyExists
		}
	case http.StatusServiceUnavailable:
		kind = ErrUnavailable
	}
	return NewAPIError(statusCode, message, kind)
}

// IsNotFoundError checks if an error is a "not found" error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSVMNotFound) ||
		errors.Is(err, ErrVolumeNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrExportPolicyNotFound) ||
		errors.Is(err, ErrReplicationNotFound)
}

// IsAlreadyExistsError checks if an error is an "already exists" error
func IsAlreadyExistsError(err error) bool {
	return errors.Is(err, ErrVolumeAlreadyExists) ||
		errors.Is(err, ErrSnapshotAlreadyExists) ||
		errors.Is(err, ErrExportPolicyAlreadyExists)
}

// toOpsError maps a client error into the opserr taxonomy.
func toOpsError(op, resource string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	switch {
	case IsNotFoundError(err):
		return opserr.New(opserr.ErrNotFound, op, resource, err)
	case IsAlreadyExistsError(err), errors.Is(err, ErrResourceBusy):
		return opserr.New(opserr.ErrConflict, op, resource, err)
	case errors.Is(err, context.DeadlineExceeded):
		return opserr.New(opserr.ErrTimeout, op, resource, err)
	case errors.Is(err, context.Canceled):
		return &opserr.Error{Op: op, Resource: resource, Err: err}
	case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity):
		return opserr.New(opserr.ErrValidation, op, resource, err)
	}
	return opserr.New(opserr.ErrConnection, op, resource, err)
}

// containsAny checks if s contains any of the substrings, ignoring case
func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, substr := range substrs {
		if strings.Contains(s, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
