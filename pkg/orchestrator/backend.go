// SPDX-License-Identifier: Apache-2.0

// Package orchestrator sequences multi-step backend operations into the
// provision, snapshot, clone, restore and replication verbs.
//
// Every call is synchronous: each backend request is issued only after the
// previous step's postcondition has been observed, and every wait is bounded
// by the configured poll timeout and the caller's context.
package orchestrator

import (
	"context"

	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// Backend is the storage substrate the orchestrator drives. Implementations
// map their native failures into the opserr taxonomy; in particular a missing
// object must be reported as opserr.ErrNotFound and nothing else.
type Backend interface {
	provenance.Resolver

	Kind() volume.Kind
	Capabilities() volume.Capabilities

	// CreateVolume issues the create call and returns without waiting for
	// the volume to bind.
	CreateVolume(ctx context.Context, spec volume.Spec) (*volume.Volume, error)
	GetVolume(ctx context.Context, ref volume.Ref) (*volume.Volume, error)
	ListVolumes(ctx context.Context, scope string) ([]volume.Volume, error)
	// DeleteVolume issues the delete call and returns without waiting for
	// the volume to disappear. Snapshots are left to the caller.
	DeleteVolume(ctx context.Context, ref volume.Ref) error

	CreateSnapshot(ctx context.Context, spec volume.SnapshotSpec) (*volume.Snapshot, error)
	GetSnapshot(ctx context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error)
	// ListSnapshots lists the snapshots of ref.Name, or of every volume in
	// ref.Scope when the name is empty.
	ListSnapshots(ctx context.Context, ref volume.Ref) ([]volume.Snapshot, error)
	DeleteSnapshot(ctx context.Context, ref volume.SnapshotRef) error

	// RevertToSnapshot restores a volume in place. Backends without
	// Capabilities.InPlaceRevert return opserr.ErrUnsupported.
	RevertToSnapshot(ctx context.Context, ref volume.SnapshotRef) error
	// SplitClone starts detaching a clone from its parent and returns
	// without waiting. Backends without Capabilities.CloneSplit return
	// opserr.ErrUnsupported.
	SplitClone(ctx context.Context, ref volume.Ref) error
}

// Replicator is implemented by backends that manage asynchronous
// replication relationships.
type Replicator interface {
	CreateReplication(ctx context.Context, spec volume.ReplicationSpec) (*volume.Replication, error)
	GetReplication(ctx context.Context, uuid string) (*volume.Replication, error)
	ListReplications(ctx context.Context, scope string) ([]volume.Replication, error)
	StartTransfer(ctx context.Context, uuid string) (*volume.Transfer, error)
	GetTransfer(ctx context.Context, uuid, transferUUID string) (*volume.Transfer, error)
}

// Locker serializes operations on one volume across processes.
type Locker interface {
	// Acquire blocks until the named lock is held and returns its release func.
	Acquire(ctx context.Context, name string) (release func(context.Context) error, err error)
}
