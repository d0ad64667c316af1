// SPDX-License-Identifier: Apache-2.0

package kube

import (
	"context"
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

// mapKubernetesError maps Kubernetes API errors into the opserr taxonomy
func mapKubernetesError(err error, op, resource string) error {
	if err == nil {
		return nil
	}

	switch {
	case apierrors.IsNotFound(err):
		return opserr.New(opserr.ErrNotFound, op, resource, err)
	case apierrors.IsAlreadyExists(err), apierrors.IsConflict(err):
		return opserr.New(opserr.ErrConflict, op, resource, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return opserr.New(opserr.ErrValidation, op, resource, err)
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return opserr.New(opserr.ErrTimeout, op, resource, err)
	case errors.Is(err, context.Canceled):
		return &opserr.Error{Op: op, Resource: resource, Err: err}
	}

	// Unavailable, forbidden, transport failures
	return opserr.New(opserr.ErrConnection, op, resource, err)
}
