// SPDX-License-Identifier: Apache-2.0

// Package provenance encodes clone lineage into backend-native metadata and
// resolves it back into a view whose source references are checked against
// the backend at read time.
package provenance

import (
	"context"
	"fmt"
)

const (
	// Deleted is reported in place of a source that no longer exists.
	Deleted = "*deleted*"

	// DefaultCreatedBy marks objects created by this tool.
	DefaultCreatedBy = "arca-dataops"

	// LegacyCreatedBy marks objects written by the comment grammar of the
	// previous toolkit generation.
	LegacyCreatedBy = "netapp-dataops"
)

// Operation records which verb produced a volume.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationClone   Operation = "clone"
	OperationRestore Operation = "restore"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationClone, OperationRestore:
		return true
	}
	return false
}

// Lineage is the provenance record embedded in a volume's metadata. It is
// written once at creation and never mutated.
type Lineage struct {
	CreatedBy string
	Operation Operation

	// SourceScope is the namespace or SVM of the source objects.
	SourceScope    string
	SourceVolume   string
	SourceSnapshot string

	// CloneVolume and CloneSnapshot name the transient snapshot an earlier
	// clone was cut from, in SourceScope, when a restore replaced that clone.
	CloneVolume   string
	CloneSnapshot string
}

// IsZero reports whether no lineage was recorded.
func (l Lineage) IsZero() bool {
	return l == Lineage{}
}

// HasSource reports whether the volume was derived from another object.
func (l Lineage) HasSource() bool {
	return l.SourceVolume != "" || l.SourceSnapshot != ""
}

// OwnedBy reports whether the lineage carries one of the given creator markers.
func (l Lineage) OwnedBy(markers ...string) bool {
	for _, m := range markers {
		if m != "" && l.CreatedBy == m {
			return true
		}
	}
	return false
}

// Resolver checks whether lineage sources still exist.
type Resolver interface {
	VolumeExists(ctx context.Context, scope, name string) (bool, error)
	SnapshotExists(ctx context.Context, scope, volume, name string) (bool, error)
}

// View is a lineage whose source names have been checked against the backend.
// SourceVolume and SourceSnapshot hold either the recorded name or Deleted.
type View struct {
	Lineage        Lineage
	SourceVolume   string
	SourceSnapshot string
}

// Resolve dereferences the sources of l. A missing source is reported as the
// Deleted sentinel; a failing lookup is returned as an error.
func Resolve(ctx context.Context, l Lineage, r Resolver) (View, error) {
	view := View{Lineage: l}

	if l.SourceVolume != "" {
		ok, err := r.VolumeExists(ctx, l.SourceScope, l.SourceVolume)
		if err != nil {
			return View{}, fmt.Errorf("failed to resolve source volume %s: %w", l.SourceVolume, err)
		}
		view.SourceVolume = l.SourceVolume
		if !ok {
			view.SourceVolume = Deleted
		}
	}

	if l.SourceSnapshot != "" {
		ok, err := r.SnapshotExists(ctx, l.SourceScope, l.SourceVolume, l.SourceSnapshot)
		if err != nil {
			return View{}, fmt.Errorf("failed to resolve source snapshot %s: %w", l.SourceSnapshot, err)
		}
		view.SourceSnapshot = l.SourceSnapshot
		if !ok {
			view.SourceSnapshot = Deleted
		}
	}

	return view, nil
}
