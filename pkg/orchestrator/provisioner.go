// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"

	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// VolumeProvisioner creates and deletes base volumes and owns the bind and
// disappearance waits.
type VolumeProvisioner struct {
	*env
	snapshots *SnapshotManager
}

// DeleteOptions controls VolumeProvisioner.Delete.
type DeleteOptions struct {
	// CascadeSnapshots deletes every snapshot of the volume before the volume.
	// It implies DropCloneSnapshot.
	CascadeSnapshots bool
	// DropCloneSnapshot deletes the transient snapshot the volume was cloned
	// from, once nothing else depends on it.
	DropCloneSnapshot bool
}

// Create validates spec, issues the create call and blocks until the volume
// is Bound. A volume without recorded lineage is tagged as created by this
// tool.
func (p *VolumeProvisioner) Create(ctx context.Context, spec volume.Spec) (*volume.Volume, error) {
	const op = "create volume"
	kind := p.backend.Kind()
	if err := spec.Validate(kind); err != nil {
		return nil, err
	}
	if spec.Lineage.IsZero() {
		spec.Lineage = provenance.Lineage{CreatedBy: p.createdBy, Operation: provenance.OperationCreate}
	}
	ref := spec.Ref

	existing := p.lookupVolume(ctx, ref)
	switch existing.Outcome {
	case opserr.Found:
		return nil, opserr.Newf(opserr.ErrConflict, op, ref.String(), "volume already exists")
	case opserr.Failed:
		return nil, opserr.WithStep(op, ref.String(), "check existing volume", existing.Err)
	}

	klog.V(4).Infof("Creating volume %s (size=%q, source=%v)", ref, spec.Size, spec.SourceSnapshot)
	if _, err := p.backend.CreateVolume(ctx, spec); err != nil {
		return nil, opserr.WithStep(op, ref.String(), "create", err)
	}

	vol, err := p.waitVolumeBound(ctx, ref)
	if err != nil {
		return nil, opserr.WithStep(op, ref.String(), "wait for bind", err)
	}

	klog.Infof("Volume %s created (size=%s)", ref, vol.Size)
	return vol, nil
}

// Get returns a volume with its lineage sources resolved.
func (p *VolumeProvisioner) Get(ctx context.Context, ref volume.Ref) (*volume.VolumeEntry, error) {
	vol, err := p.backend.GetVolume(ctx, ref)
	if err != nil {
		return nil, err
	}
	view, err := provenance.Resolve(ctx, vol.Lineage, p.backend)
	if err != nil {
		return nil, err
	}
	return &volume.VolumeEntry{Volume: *vol, View: view}, nil
}

// List returns the volumes of scope with their lineage sources resolved. A
// deleted source is reported as provenance.Deleted.
func (p *VolumeProvisioner) List(ctx context.Context, scope string) ([]volume.VolumeEntry, error) {
	vols, err := p.backend.ListVolumes(ctx, scope)
	if err != nil {
		return nil, err
	}

	resolver := p.resolver()
	entries := make([]volume.VolumeEntry, 0, len(vols))
	for _, vol := range vols {
		view, err := provenance.Resolve(ctx, vol.Lineage, resolver)
		if err != nil {
			return nil, err
		}
		entries = append(entries, volume.VolumeEntry{Volume: vol, View: view})
	}
	return entries, nil
}

// Delete removes a volume and waits for it to disappear. With
// CascadeSnapshots every snapshot of the volume is deleted first, each one
// confirmed gone before the next request. The transient clone snapshot is
// deleted after the volume when the backend refuses to delete it earlier.
func (p *VolumeProvisioner) Delete(ctx context.Context, ref volume.Ref, opts DeleteOptions) error {
	const op = "delete volume"

	existing := p.lookupVolume(ctx, ref)
	switch existing.Outcome {
	case opserr.Absent:
		return opserr.New(opserr.ErrNotFound, op, ref.String(), existing.Err)
	case opserr.Failed:
		return opserr.WithStep(op, ref.String(), "check volume", existing.Err)
	}

	var deferred *volume.SnapshotRef
	if opts.CascadeSnapshots {
		snaps, err := p.backend.ListSnapshots(ctx, ref)
		if err != nil {
			return opserr.WithStep(op, ref.String(), "list snapshots", err)
		}
		for _, snap := range snaps {
			if err := p.snapshots.Delete(ctx, snap.Ref); err != nil && !opserr.IsNotFound(err) {
				return opserr.WithStep(op, ref.String(), "delete snapshot "+snap.Ref.Name, err)
			}
		}
	}

	if opts.CascadeSnapshots || opts.DropCloneSnapshot {
		if transient := p.transientSource(existing.Value); transient != nil {
			err := p.snapshots.Delete(ctx, *transient)
			switch {
			case opserr.IsConflict(err):
				// The backend refuses while the clone still depends on it.
				deferred = transient
			case err != nil && !opserr.IsNotFound(err):
				return opserr.WithStep(op, ref.String(), "delete clone snapshot "+transient.Name, err)
			}
		}
	}

	if err := p.backend.DeleteVolume(ctx, ref); err != nil {
		if !opserr.IsNotFound(err) {
			return opserr.WithStep(op, ref.String(), "delete", err)
		}
		klog.Warningf("Volume %s disappeared before delete", ref)
	} else if err := p.waitVolumeGone(ctx, ref); err != nil {
		return opserr.WithStep(op, ref.String(), "wait for deletion", err)
	}

	if deferred != nil {
		if err := p.snapshots.Delete(ctx, *deferred); err != nil && !opserr.IsNotFound(err) {
			return opserr.WithStep(op, ref.String(), "delete clone snapshot "+deferred.Name, err)
		}
	}

	klog.Infof("Volume %s deleted (cascade=%v)", ref, opts.CascadeSnapshots)
	return nil
}

// transientSource returns the snapshot taken to clone vol from a live
// volume, or nil when vol was not created that way. A volume recreated by a
// restore still owns the transient snapshot of the clone it replaced.
func (p *VolumeProvisioner) transientSource(vol *volume.Volume) *volume.SnapshotRef {
	l := vol.Lineage
	if !p.ownedBy(l) {
		return nil
	}
	var source, snap string
	switch l.Operation {
	case provenance.OperationClone:
		source, snap = l.SourceVolume, l.SourceSnapshot
	case provenance.OperationRestore:
		source, snap = l.CloneVolume, l.CloneSnapshot
	}
	if source == "" || !strings.HasPrefix(snap, p.transientPrefix()) {
		return nil
	}
	scope := l.SourceScope
	if scope == "" {
		scope = vol.Ref.Scope
	}
	return &volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: source}, Name: snap}
}
