// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// RestoreOrchestrator reverts a volume to a snapshot while keeping its name.
//
// The volume must not be in use by any consumer during a restore. This is
// the caller's responsibility and is not checked.
type RestoreOrchestrator struct {
	*env
	volumes   *VolumeProvisioner
	snapshots *SnapshotManager
}

// RestoreError reports a restore that failed after it began changing the
// volume. VolumeLost is set once the delete of the volume was accepted and
// the volume could not be recreated; no rollback is attempted.
type RestoreError struct {
	Volume     volume.Ref
	Snapshot   volume.SnapshotRef
	Step       string
	VolumeLost bool
	Err        error
}

func (e *RestoreError) Error() string {
	if e.VolumeLost {
		return fmt.Sprintf("restore %s: volume was deleted and could not be recreated from snapshot %s (step %q): %v",
			e.Volume, e.Snapshot.Name, e.Step, e.Err)
	}
	return fmt.Sprintf("restore %s from snapshot %s (step %q): %v", e.Volume, e.Snapshot.Name, e.Step, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

// Restore reverts ref to the named snapshot. Backends that can revert in
// place do so in one call, which also removes every snapshot newer than the
// restore point. Other backends delete the volume, keeping its snapshots,
// and recreate it under the same name from the snapshot; the volume does not
// exist between those two steps.
func (r *RestoreOrchestrator) Restore(ctx context.Context, ref volume.Ref, snapshot string) (*volume.Volume, error) {
	const op = "restore"
	snapRef := volume.SnapshotRef{Volume: ref, Name: snapshot}

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, ref.String())
		if err != nil {
			return nil, opserr.WithStep(op, ref.String(), "acquire lock", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				klog.Warningf("Failed to release restore lock for %s: %v", ref, err)
			}
		}()
	}

	current := r.lookupVolume(ctx, ref)
	switch current.Outcome {
	case opserr.Absent:
		return nil, opserr.New(opserr.ErrNotFound, op, ref.String(), current.Err)
	case opserr.Failed:
		return nil, opserr.WithStep(op, ref.String(), "get volume", current.Err)
	}

	snap := r.lookupSnapshot(ctx, snapRef)
	switch snap.Outcome {
	case opserr.Absent:
		return nil, opserr.New(opserr.ErrNotFound, op, snapRef.String(), snap.Err)
	case opserr.Failed:
		return nil, opserr.WithStep(op, snapRef.String(), "get snapshot", snap.Err)
	}
	if !snap.Value.ReadyToUse {
		return nil, opserr.Newf(opserr.ErrBackendState, op, snapRef.String(), "snapshot is not ready to use")
	}

	caps := r.backend.Capabilities()
	switch {
	case caps.InPlaceRevert:
		return r.revertInPlace(ctx, snapRef)
	case caps.SnapshotsOutliveVolume:
		return r.recreate(ctx, current.Value, snap.Value)
	}
	return nil, opserr.Newf(opserr.ErrUnsupported, op, ref.String(),
		"backend can neither revert in place nor keep snapshots of a deleted volume")
}

func (r *RestoreOrchestrator) revertInPlace(ctx context.Context, snapRef volume.SnapshotRef) (*volume.Volume, error) {
	ref := snapRef.Volume
	if err := r.backend.RevertToSnapshot(ctx, snapRef); err != nil {
		return nil, opserr.WithStep("restore", ref.String(), "revert", err)
	}
	vol, err := r.waitVolumeBound(ctx, ref)
	if err != nil {
		return nil, opserr.WithStep("restore", ref.String(), "wait for volume", err)
	}
	klog.Infof("Volume %s restored in place to snapshot %s", ref, snapRef.Name)
	return vol, nil
}

func (r *RestoreOrchestrator) recreate(ctx context.Context, current *volume.Volume, snap *volume.Snapshot) (*volume.Volume, error) {
	ref, snapRef := current.Ref, snap.Ref

	spec := volume.Spec{
		Ref:            ref,
		Size:           current.Size,
		StorageClass:   current.StorageClass,
		AccessMode:     current.AccessMode,
		SourceSnapshot: &snapRef,
		Lineage: provenance.Lineage{
			CreatedBy:      r.createdBy,
			Operation:      provenance.OperationRestore,
			SourceScope:    ref.Scope,
			SourceVolume:   ref.Name,
			SourceSnapshot: snapRef.Name,
		},
	}
	if t := r.volumes.transientSource(current); t != nil {
		spec.Lineage.CloneVolume = t.Volume.Name
		spec.Lineage.CloneSnapshot = t.Name
	}
	if snap.RestoreSizeBytes > current.SizeBytes {
		spec.Size = resource.NewQuantity(snap.RestoreSizeBytes, resource.BinarySI).String()
	}
	if err := spec.Validate(r.backend.Kind()); err != nil {
		return nil, &RestoreError{Volume: ref, Snapshot: snapRef, Step: "prepare", Err: err}
	}

	klog.V(4).Infof("Restoring %s: deleting volume (keeping snapshots)", ref)
	if err := r.backend.DeleteVolume(ctx, ref); err != nil && !opserr.IsNotFound(err) {
		return nil, &RestoreError{Volume: ref, Snapshot: snapRef, Step: "delete volume", Err: err}
	}
	if err := r.waitVolumeGone(ctx, ref); err != nil {
		klog.Errorf("Restore of %s failed after the volume delete was accepted; check it and recreate it from snapshot %s if needed: %v",
			ref, snapRef.Name, err)
		return nil, &RestoreError{Volume: ref, Snapshot: snapRef, Step: "wait for deletion", VolumeLost: true, Err: err}
	}

	vol, err := r.volumes.Create(ctx, spec)
	if err != nil {
		klog.Errorf("Restore of %s failed after the volume was deleted; it must be recreated from snapshot %s manually: %v",
			ref, snapRef.Name, err)
		return nil, &RestoreError{Volume: ref, Snapshot: snapRef, Step: "recreate volume", VolumeLost: true, Err: err}
	}

	klog.Infof("Volume %s restored from snapshot %s", ref, snapRef.Name)
	return vol, nil
}
