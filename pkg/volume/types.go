// SPDX-License-Identifier: Apache-2.0

// Package volume holds the backend-neutral volume and snapshot model.
package volume

import (
	"time"

	"github.com/akam1o/arca-dataops/pkg/provenance"
)

// Kind identifies a backend substrate.
type Kind string

const (
	// KindClaim is the container-orchestration backend (PVCs and VolumeSnapshots).
	KindClaim Kind = "claim"
	// KindArray is the storage-array management backend (SVM-scoped volumes).
	KindArray Kind = "array"
)

// Ref names a volume inside a namespace or storage VM.
type Ref struct {
	Scope string
	Name  string
}

func (r Ref) String() string {
	if r.Scope == "" {
		return r.Name
	}
	return r.Scope + "/" + r.Name
}

// SnapshotRef names a snapshot of a volume.
type SnapshotRef struct {
	Volume Ref
	Name   string
}

func (r SnapshotRef) String() string {
	return r.Volume.String() + "@" + r.Name
}

// Status is the readiness of a volume.
type Status string

const (
	StatusPending Status = "Pending"
	StatusBound   Status = "Bound"
	StatusError   Status = "Error"
)

// Volume is a named, sized storage unit bound to one backend resource.
type Volume struct {
	Ref Ref

	SizeBytes int64
	// Size is the size as the backend reports it, e.g. "10Gi" or "10GiB".
	Size string

	// StorageClass is the claim storage class; Aggregates are the array aggregates.
	StorageClass string
	Aggregates   []string
	AccessMode   string
	Style        Style

	ExportPolicy   string
	SnapshotPolicy string
	JunctionPath   string

	Status        Status
	StatusMessage string

	IsClone        bool
	SourceVolume   *Ref
	SourceSnapshot *SnapshotRef

	// Lineage is the decoded provenance record, zero when none was written.
	Lineage provenance.Lineage

	UID       string
	CreatedAt time.Time
}

// Snapshot is an immutable point-in-time reference to a volume's content.
type Snapshot struct {
	Ref SnapshotRef

	CreatedAt        time.Time
	ReadyToUse       bool
	RestoreSizeBytes int64
	ReplicationLabel string

	// Error is the backend-reported failure message, if any.
	Error string

	UID string
}

// SnapshotEntry is a listed snapshot with its parent volume checked for
// existence. SourceVolume is the parent's name or provenance.Deleted.
type SnapshotEntry struct {
	Snapshot     Snapshot
	SourceVolume string
}

// VolumeEntry is a listed volume with its lineage resolved.
type VolumeEntry struct {
	Volume Volume
	View   provenance.View
}
