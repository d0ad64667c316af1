// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// CloneOrchestrator derives new volumes from a volume or a snapshot. A clone
// is always created from a snapshot: cloning a live volume first snapshots it.
type CloneOrchestrator struct {
	*env
	volumes   *VolumeProvisioner
	snapshots *SnapshotManager
}

// Source is the origin of a clone. Exactly one field is set.
type Source struct {
	Volume   *volume.Ref
	Snapshot *volume.SnapshotRef
}

// FromVolume clones the current content of a volume.
func FromVolume(ref volume.Ref) Source {
	return Source{Volume: &ref}
}

// FromSnapshot clones an existing snapshot.
func FromSnapshot(ref volume.SnapshotRef) Source {
	return Source{Snapshot: &ref}
}

// CloneOptions controls CloneOrchestrator.Clone.
type CloneOptions struct {
	// Size overrides the size inherited from the source (claim backend).
	Size         string
	StorageClass string
	AccessMode   string

	UnixUID         string
	UnixGID         string
	UnixPermissions string
	ExportPolicy    string
	ExportHosts     []string
	SnapshotPolicy  string
	JunctionPath    string

	// SnapshotClass is used for the transient snapshot of a volume source.
	SnapshotClass string

	// Refresh replaces an existing target volume that carries this tool's
	// lineage marker.
	Refresh bool
	// Split detaches the clone from its parent after creation without
	// waiting for the split to finish.
	Split bool
}

// Clone creates target from source. A clone lives in its source's scope:
// when only one of the two scopes is set, the other takes its value.
func (c *CloneOrchestrator) Clone(ctx context.Context, target volume.Ref, source Source, opts CloneOptions) (*volume.Volume, error) {
	const op = "clone"
	kind := c.backend.Kind()
	caps := c.backend.Capabilities()

	sourceScope, err := source.scope()
	if err != nil {
		return nil, err
	}
	switch {
	case target.Scope == "":
		target.Scope = sourceScope
	case sourceScope == "":
		source = source.inScope(target.Scope)
		sourceScope = target.Scope
	}
	if target.Scope != sourceScope {
		return nil, opserr.Newf(opserr.ErrValidation, op, target.String(),
			"clone must be in the source scope %q", sourceScope)
	}
	if source.Volume != nil && *source.Volume == target {
		return nil, opserr.Newf(opserr.ErrInvalidVolumeParameter, op, target.String(), "volume cannot be cloned onto itself")
	}
	if opts.Refresh && kind != volume.KindArray {
		return nil, opserr.Newf(opserr.ErrUnsupported, op, target.String(), "refresh is only supported on the array backend")
	}
	if opts.Split && !caps.CloneSplit {
		return nil, opserr.Newf(opserr.ErrUnsupported, op, target.String(), "backend cannot split clones")
	}

	// Validate every option before touching the backend; the source
	// snapshot is a placeholder until it is known.
	spec := c.buildSpec(target, opts)
	spec.SourceSnapshot = &volume.SnapshotRef{Name: "pending"}
	if err := spec.Validate(kind); err != nil {
		return nil, err
	}

	replaced, err := c.checkTarget(ctx, target, opts.Refresh)
	if err != nil {
		return nil, err
	}

	parent, snap, err := c.resolveSource(ctx, source)
	if err != nil {
		return nil, err
	}

	if replaced != nil {
		klog.Infof("Refreshing clone %s: deleting existing volume", target)
		del := DeleteOptions{DropCloneSnapshot: true}
		if t := c.volumes.transientSource(replaced); t != nil && snap != nil && *t == snap.Ref {
			// The new clone is cut from the same snapshot.
			del.DropCloneSnapshot = false
		}
		if err := c.volumes.Delete(ctx, target, del); err != nil {
			return nil, opserr.WithStep(op, target.String(), "delete refreshed volume", err)
		}
	}

	if snap == nil {
		name := c.transientPrefix() + stamp(c.clock.Now())
		snap, err = c.snapshots.Create(ctx, *source.Volume, SnapshotOptions{Name: name, SnapshotClass: opts.SnapshotClass})
		if err != nil {
			return nil, opserr.WithStep(op, target.String(), "snapshot source volume", err)
		}
		klog.V(4).Infof("Created snapshot %s for clone %s", snap.Ref, target)
	}

	spec.SourceSnapshot = &snap.Ref
	spec.Lineage = provenance.Lineage{
		CreatedBy:      c.createdBy,
		Operation:      provenance.OperationClone,
		SourceScope:    snap.Ref.Volume.Scope,
		SourceVolume:   snap.Ref.Volume.Name,
		SourceSnapshot: snap.Ref.Name,
	}
	if kind == volume.KindClaim {
		inheritClaimOptions(&spec, parent, snap)
	}

	vol, err := c.volumes.Create(ctx, spec)
	if err != nil {
		return nil, opserr.WithStep(op, target.String(), "create clone volume", err)
	}

	if opts.Split {
		if err := c.backend.SplitClone(ctx, target); err != nil {
			return nil, opserr.WithStep(op, target.String(), "start clone split", err)
		}
		klog.Infof("Started split of clone %s from %s", target, snap.Ref.Volume)
	}

	klog.Infof("Clone %s created from %s", target, snap.Ref)
	return vol, nil
}

func (s Source) scope() (string, error) {
	switch {
	case s.Volume != nil && s.Snapshot != nil:
		return "", opserr.Newf(opserr.ErrValidation, "clone", "", "source must be a volume or a snapshot, not both")
	case s.Volume != nil:
		if s.Volume.Name == "" {
			return "", opserr.Newf(opserr.ErrInvalidVolumeParameter, "clone", "", "source volume name is empty")
		}
		return s.Volume.Scope, nil
	case s.Snapshot != nil:
		if s.Snapshot.Name == "" || s.Snapshot.Volume.Name == "" {
			return "", opserr.Newf(opserr.ErrInvalidSnapshotParameter, "clone", "", "source snapshot and its volume must be named")
		}
		return s.Snapshot.Volume.Scope, nil
	}
	return "", opserr.Newf(opserr.ErrValidation, "clone", "", "a source volume or snapshot is required")
}

// inScope returns s with its scope set to scope.
func (s Source) inScope(scope string) Source {
	if s.Volume != nil {
		ref := *s.Volume
		ref.Scope = scope
		return FromVolume(ref)
	}
	ref := *s.Snapshot
	ref.Volume.Scope = scope
	return FromSnapshot(ref)
}

func (c *CloneOrchestrator) buildSpec(target volume.Ref, opts CloneOptions) volume.Spec {
	return volume.Spec{
		Ref:             target,
		Size:            opts.Size,
		StorageClass:    opts.StorageClass,
		AccessMode:      opts.AccessMode,
		UnixUID:         opts.UnixUID,
		UnixGID:         opts.UnixGID,
		UnixPermissions: opts.UnixPermissions,
		ExportPolicy:    opts.ExportPolicy,
		ExportHosts:     opts.ExportHosts,
		SnapshotPolicy:  opts.SnapshotPolicy,
		JunctionPath:    opts.JunctionPath,
	}
}

// checkTarget returns the existing target volume that must be replaced, or
// nil when there is none. Without refresh an existing target is a conflict;
// with refresh it must carry this tool's lineage marker.
func (c *CloneOrchestrator) checkTarget(ctx context.Context, target volume.Ref, refresh bool) (*volume.Volume, error) {
	const op = "clone"
	existing := c.lookupVolume(ctx, target)
	switch existing.Outcome {
	case opserr.Absent:
		return nil, nil
	case opserr.Failed:
		return nil, opserr.WithStep(op, target.String(), "check target volume", existing.Err)
	}

	if !refresh {
		return nil, opserr.Newf(opserr.ErrConflict, op, target.String(), "volume already exists")
	}
	if !c.ownedBy(existing.Value.Lineage) {
		return nil, opserr.Newf(opserr.ErrConflict, op, target.String(),
			"refusing to refresh a volume that was not created by this tool")
	}
	return existing.Value, nil
}

// resolveSource fetches the source snapshot (nil for a volume source, which
// is snapshotted later) and the parent volume. The parent may be nil when
// the snapshot outlived it.
func (c *CloneOrchestrator) resolveSource(ctx context.Context, source Source) (*volume.Volume, *volume.Snapshot, error) {
	const op = "clone"

	if source.Volume != nil {
		parent := c.lookupVolume(ctx, *source.Volume)
		switch parent.Outcome {
		case opserr.Absent:
			return nil, nil, opserr.New(opserr.ErrInvalidVolumeParameter, op, source.Volume.String(), parent.Err)
		case opserr.Failed:
			return nil, nil, opserr.WithStep(op, source.Volume.String(), "get source volume", parent.Err)
		}
		return parent.Value, nil, nil
	}

	ref := *source.Snapshot
	snap := c.lookupSnapshot(ctx, ref)
	switch snap.Outcome {
	case opserr.Absent:
		return nil, nil, opserr.New(opserr.ErrInvalidSnapshotParameter, op, ref.String(), snap.Err)
	case opserr.Failed:
		return nil, nil, opserr.WithStep(op, ref.String(), "get source snapshot", snap.Err)
	}
	s := snap.Value
	if !s.ReadyToUse {
		ready, err := c.waitSnapshotReady(ctx, ref)
		if err != nil {
			return nil, nil, opserr.WithStep(op, ref.String(), "wait for source snapshot", err)
		}
		s = ready
	}

	parent := c.lookupVolume(ctx, ref.Volume)
	switch parent.Outcome {
	case opserr.Found:
		return parent.Value, s, nil
	case opserr.Absent:
		klog.V(4).Infof("Parent volume %s of snapshot %s no longer exists", ref.Volume, ref.Name)
		return nil, s, nil
	}
	return nil, nil, opserr.WithStep(op, ref.String(), "get parent volume", parent.Err)
}

// inheritClaimOptions fills size, storage class and access mode from the
// parent volume, falling back to the snapshot's restore size.
func inheritClaimOptions(spec *volume.Spec, parent *volume.Volume, snap *volume.Snapshot) {
	if parent != nil {
		if spec.Size == "" {
			spec.Size = parent.Size
		}
		if spec.StorageClass == "" {
			spec.StorageClass = parent.StorageClass
		}
		if spec.AccessMode == "" {
			spec.AccessMode = parent.AccessMode
		}
	}
	if spec.Size == "" && snap.RestoreSizeBytes > 0 {
		spec.Size = resource.NewQuantity(snap.RestoreSizeBytes, resource.BinarySI).String()
	}
}
