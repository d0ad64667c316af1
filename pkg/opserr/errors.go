// SPDX-License-Identifier: Apache-2.0

// Package opserr defines the error taxonomy shared by the backends and the
// orchestrator. Backends map their native failures into these kinds at the
// adapter boundary so callers only ever match on the sentinels below.
package opserr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection indicates the backend is unreachable or answered with a non-success response
	ErrConnection = errors.New("backend connection error")

	// ErrConfiguration indicates missing or invalid local connection configuration
	ErrConfiguration = errors.New("invalid configuration")

	// ErrValidation indicates malformed arguments or mutually exclusive options
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the referenced volume, snapshot or relationship does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates the target name already exists where uniqueness is required
	ErrConflict = errors.New("resource already exists")

	// ErrBackendState indicates an asynchronous operation reported a failed or unknown terminal state
	ErrBackendState = errors.New("unexpected backend state")

	// ErrTimeout indicates a readiness poll exceeded its deadline
	ErrTimeout = errors.New("operation timed out")

	// ErrUnsupported indicates the backend lacks the capability an operation needs
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrInvalidSnapshotParameter indicates a clone was given an unusable snapshot reference
	ErrInvalidSnapshotParameter = errors.New("invalid snapshot parameter")

	// ErrInvalidVolumeParameter indicates a clone was given an unusable volume reference
	ErrInvalidVolumeParameter = errors.New("invalid volume parameter")
)

// Error carries the operation, target resource and failing step of a failure.
type Error struct {
	// Op is the orchestrator or backend operation, e.g. "clone" or "create volume".
	Op string
	// Resource names the target, e.g. "svm0/project1".
	Resource string
	// Step is set for multi-step operations.
	Step string
	// Kind is one of the sentinel errors of this package.
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " (step %q)", e.Step)
	}
	b.WriteString(": ")
	switch {
	case e.Err != nil && e.Kind != nil && !errors.Is(e.Err, e.Kind):
		fmt.Fprintf(&b, "%v: %v", e.Kind, e.Err)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New returns an error of the given kind for op on resource.
func New(kind error, op, resource string, err error) *Error {
	return &Error{Op: op, Resource: resource, Kind: kind, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind error, op, resource, format string, args ...interface{}) *Error {
	return New(kind, op, resource, fmt.Errorf(format, args...))
}

// WithStep annotates err with the multi-step operation it failed in. The
// original kind is preserved.
func WithStep(op, resource, step string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Resource: resource, Step: step, Kind: KindOf(err), Err: err}
}

// KindOf returns the taxonomy sentinel err belongs to, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrTimeout, ErrNotFound, ErrConflict, ErrValidation, ErrConfiguration,
		ErrBackendState, ErrUnsupported, ErrInvalidSnapshotParameter,
		ErrInvalidVolumeParameter, ErrConnection,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsNotFound returns true if the error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is an "already exists" error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTimeout returns true if a poll deadline expired
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsConnection returns true for transport and non-success API failures
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsValidation returns true for argument validation failures
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
