// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"regexp"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// SnapshotManager creates, lists and deletes snapshots and enforces
// retention on snapshot families.
type SnapshotManager struct {
	*env
}

// Retention bounds a snapshot family either by count or by age.
type Retention struct {
	// Count keeps the newest Count family members.
	Count int
	// Days keeps the family members created within the last Days days.
	Days int
}

func (r *Retention) validate() error {
	if r.Count < 0 || r.Days < 0 {
		return opserr.Newf(opserr.ErrValidation, "validate retention", "", "retention must not be negative")
	}
	if (r.Count > 0) == (r.Days > 0) {
		return opserr.Newf(opserr.ErrValidation, "validate retention", "", "exactly one of count and days must be set")
	}
	return nil
}

// SnapshotOptions controls SnapshotManager.Create.
type SnapshotOptions struct {
	// Name is the snapshot name, or the family base name when Retention is
	// set. Empty selects "<prefix>.<timestamp>".
	Name string

	Retention        *Retention
	ReplicationLabel string
	SnapshotClass    string
}

// Create snapshots a volume and blocks until the snapshot is ready to use.
// With Retention the name gets a timestamp suffix and, once the new snapshot
// is ready, older family members outside the window are deleted.
func (m *SnapshotManager) Create(ctx context.Context, ref volume.Ref, opts SnapshotOptions) (*volume.Snapshot, error) {
	const op = "create snapshot"

	if opts.Retention != nil {
		if err := opts.Retention.validate(); err != nil {
			return nil, err
		}
	}

	base, name := opts.Name, opts.Name
	if base == "" {
		base = m.prefix
	}
	if name == "" || opts.Retention != nil {
		name = base + "." + stamp(m.clock.Now())
	}
	kind := m.backend.Kind()
	if err := volume.ValidateSnapshotName(kind, name); err != nil {
		return nil, err
	}
	snapRef := volume.SnapshotRef{Volume: ref, Name: name}

	parent := m.lookupVolume(ctx, ref)
	switch parent.Outcome {
	case opserr.Absent:
		return nil, opserr.New(opserr.ErrNotFound, op, snapRef.String(), parent.Err)
	case opserr.Failed:
		return nil, opserr.WithStep(op, snapRef.String(), "check volume", parent.Err)
	}

	class := opts.SnapshotClass
	if class == "" {
		class = m.snapshotClass
	}
	spec := volume.SnapshotSpec{Ref: snapRef, ReplicationLabel: opts.ReplicationLabel, SnapshotClass: class}
	if _, err := m.backend.CreateSnapshot(ctx, spec); err != nil {
		return nil, opserr.WithStep(op, snapRef.String(), "create", err)
	}

	snap, err := m.waitSnapshotReady(ctx, snapRef)
	if err != nil {
		return nil, opserr.WithStep(op, snapRef.String(), "wait for ready", err)
	}
	klog.Infof("Snapshot %s created", snapRef)

	if opts.Retention != nil {
		if err := m.enforceRetention(ctx, ref, base, *opts.Retention); err != nil {
			return snap, opserr.WithStep(op, snapRef.String(), "enforce retention", err)
		}
	}
	return snap, nil
}

// familyMember is one snapshot of a retention family.
type familyMember struct {
	ref     volume.SnapshotRef
	stamp   string
	created time.Time
}

// family returns the snapshots named "<base>.<timestamp>", oldest first.
func (m *SnapshotManager) family(ctx context.Context, ref volume.Ref, base string) ([]familyMember, error) {
	snaps, err := m.backend.ListSnapshots(ctx, ref)
	if err != nil {
		return nil, err
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `\.(\d{20})$`)
	var members []familyMember
	for _, s := range snaps {
		match := pattern.FindStringSubmatch(s.Ref.Name)
		if match == nil {
			continue
		}
		created, err := parseStamp(match[1])
		if err != nil {
			klog.Warningf("Skipping snapshot %s with unparsable timestamp: %v", s.Ref, err)
			continue
		}
		members = append(members, familyMember{ref: s.Ref, stamp: match[1], created: created})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].stamp < members[j].stamp })
	return members, nil
}

// enforceRetention deletes the family members of base outside r.
func (m *SnapshotManager) enforceRetention(ctx context.Context, ref volume.Ref, base string, r Retention) error {
	members, err := m.family(ctx, ref, base)
	if err != nil {
		return err
	}

	var expired []familyMember
	switch {
	case r.Count > 0:
		if len(members) > r.Count {
			expired = members[:len(members)-r.Count]
		}
	case r.Days > 0:
		cutoff := m.clock.Now().Add(-time.Duration(r.Days) * 24 * time.Hour)
		for _, member := range members {
			if member.created.Before(cutoff) {
				expired = append(expired, member)
			}
		}
	}

	for _, member := range expired {
		klog.V(4).Infof("Retention: deleting snapshot %s", member.ref)
		if err := m.Delete(ctx, member.ref); err != nil && !opserr.IsNotFound(err) {
			return err
		}
	}
	if len(expired) > 0 {
		klog.Infof("Retention removed %d snapshot(s) of family %s on %s", len(expired), base, ref)
	}
	return nil
}

// Get returns a single snapshot.
func (m *SnapshotManager) Get(ctx context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error) {
	return m.backend.GetSnapshot(ctx, ref)
}

// List returns the snapshots of ref (or of every volume in ref.Scope when
// ref.Name is empty), each with its parent volume checked for existence. A
// missing parent is reported as provenance.Deleted.
func (m *SnapshotManager) List(ctx context.Context, ref volume.Ref) ([]volume.SnapshotEntry, error) {
	snaps, err := m.backend.ListSnapshots(ctx, ref)
	if err != nil {
		return nil, err
	}

	resolver := m.resolver()
	entries := make([]volume.SnapshotEntry, 0, len(snaps))
	for _, s := range snaps {
		parent := s.Ref.Volume
		exists, err := resolver.VolumeExists(ctx, parent.Scope, parent.Name)
		if err != nil {
			return nil, err
		}
		source := parent.Name
		if !exists {
			source = provenance.Deleted
		}
		entries = append(entries, volume.SnapshotEntry{Snapshot: s, SourceVolume: source})
	}
	return entries, nil
}

// Delete removes a snapshot and waits for it to disappear.
func (m *SnapshotManager) Delete(ctx context.Context, ref volume.SnapshotRef) error {
	const op = "delete snapshot"

	existing := m.lookupSnapshot(ctx, ref)
	switch existing.Outcome {
	case opserr.Absent:
		return opserr.New(opserr.ErrNotFound, op, ref.String(), existing.Err)
	case opserr.Failed:
		return opserr.WithStep(op, ref.String(), "check snapshot", existing.Err)
	}

	if err := m.backend.DeleteSnapshot(ctx, ref); err != nil && !opserr.IsNotFound(err) {
		return opserr.WithStep(op, ref.String(), "delete", err)
	}
	if err := m.waitSnapshotGone(ctx, ref); err != nil {
		return opserr.WithStep(op, ref.String(), "wait for deletion", err)
	}

	klog.Infof("Snapshot %s deleted", ref)
	return nil
}
