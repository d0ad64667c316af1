// SPDX-License-Identifier: Apache-2.0

package arca

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// exportPolicyPrefix names the per-volume policy built from export hosts.
const exportPolicyPrefix = "dataops-"

// Defaults are applied to new volumes that do not set the option themselves.
// Clones inherit from their parent on the array and only receive the SVM.
type Defaults struct {
	SVM             string
	Style           volume.Style
	Aggregates      []string
	ExportPolicy    string
	SnapshotPolicy  string
	SnapshotReserve *int32
	UnixUID         string
	UnixGID         string
	UnixPermissions string
}

// Backend drives SVM-scoped volumes on an ARCA array.
type Backend struct {
	client   *Client
	defaults Defaults
}

// NewBackend creates an array backend on top of client
func NewBackend(client *Client, defaults Defaults) *Backend {
	return &Backend{client: client, defaults: defaults}
}

// Client returns the underlying REST client
func (b *Backend) Client() *Client {
	return b.client
}

func (b *Backend) Kind() volume.Kind { return volume.KindArray }

func (b *Backend) Capabilities() volume.Capabilities {
	return volume.Capabilities{InPlaceRevert: true, CloneSplit: true}
}

func (b *Backend) scope(scope string) string {
	if scope == "" {
		return b.defaults.SVM
	}
	return scope
}

// CreateVolume creates a volume or, when spec.SourceSnapshot is set, a clone.
func (b *Backend) CreateVolume(ctx context.Context, spec volume.Spec) (*volume.Volume, error) {
	const op = "create volume"
	svm := b.scope(spec.Ref.Scope)
	resource := svm + "/" + spec.Ref.Name

	req := &CreateVolumeRequest{
		SVM:             svm,
		Name:            spec.Ref.Name,
		Style:           string(spec.Style),
		Aggregates:      spec.Aggregates,
		Comment:         provenance.EncodeComment(spec.Lineage),
		ExportPolicy:    spec.ExportPolicy,
		SnapshotPolicy:  spec.SnapshotPolicy,
		SnapshotReserve: spec.SnapshotReserve,
		UnixPermissions: spec.UnixPermissions,
		JunctionPath:    spec.JunctionPath,
	}
	uid, gid := spec.UnixUID, spec.UnixGID

	if src := spec.SourceSnapshot; src != nil {
		req.Clone = &CloneRequest{
			ParentSVM:      b.scope(src.Volume.Scope),
			ParentVolume:   src.Volume.Name,
			ParentSnapshot: src.Name,
		}
	} else {
		b.applyDefaults(req)
		if uid == "" {
			uid = b.defaults.UnixUID
		}
		if gid == "" {
			gid = b.defaults.UnixGID
		}
	}

	if spec.Size != "" {
		size, err := volume.ParseArraySize(spec.Size)
		if err != nil {
			return nil, err
		}
		req.Size = size
	}

	var err error
	if req.UnixUID, err = parseID(uid); err != nil {
		return nil, opserr.New(opserr.ErrValidation, op, resource, err)
	}
	if req.UnixGID, err = parseID(gid); err != nil {
		return nil, opserr.New(opserr.ErrValidation, op, resource, err)
	}

	if len(spec.ExportHosts) > 0 {
		policy, err := b.ensureExportPolicy(ctx, svm, spec.Ref.Name, spec.ExportHosts)
		if err != nil {
			return nil, toOpsError(op, resource, err)
		}
		req.ExportPolicy = policy
	}

	klog.V(4).Infof("Creating volume %s (size=%d, clone=%v)", resource, req.Size, req.Clone != nil)
	vol, err := b.client.CreateVolume(ctx, req)
	if err != nil {
		return nil, toOpsError(op, resource, err)
	}
	out := toVolume(vol)
	return &out, nil
}

func (b *Backend) applyDefaults(req *CreateVolumeRequest) {
	if req.Style == "" {
		req.Style = string(b.defaults.Style)
	}
	if len(req.Aggregates) == 0 {
		req.Aggregates = b.defaults.Aggregates
	}
	if req.ExportPolicy == "" {
		req.ExportPolicy = b.defaults.ExportPolicy
	}
	if req.SnapshotPolicy == "" {
		req.SnapshotPolicy = b.defaults.SnapshotPolicy
	}
	if req.SnapshotReserve == nil {
		req.SnapshotReserve = b.defaults.SnapshotReserve
	}
	if req.UnixPermissions == "" {
		req.UnixPermissions = b.defaults.UnixPermissions
	}
}

// ensureExportPolicy creates the volume's own export policy granting hosts
// read-write access and returns its name.
func (b *Backend) ensureExportPolicy(ctx context.Context, svm, volumeName string, hosts []string) (string, error) {
	name := exportPolicyPrefix + volumeName
	policy := &ExportPolicy{
		Name: name,
		SVM:  svm,
		Rules: []ExportRule{{
			Clients:   hosts,
			Protocols: []string{"nfs"},
			RORule:    []string{"sys"},
			RWRule:    []string{"sys"},
			Superuser: []string{"sys"},
		}},
	}
	if err := b.client.CreateExportPolicy(ctx, policy); err != nil {
		return "", fmt.Errorf("failed to create export policy %s: %w", name, err)
	}
	klog.V(4).Infof("Export policy %s/%s allows %s", svm, name, strings.Join(hosts, ","))
	return name, nil
}

func (b *Backend) GetVolume(ctx context.Context, ref volume.Ref) (*volume.Volume, error) {
	svm := b.scope(ref.Scope)
	vol, err := b.client.GetVolume(ctx, svm, ref.Name)
	if err != nil {
		return nil, toOpsError("get volume", svm+"/"+ref.Name, err)
	}
	out := toVolume(vol)
	return &out, nil
}

func (b *Backend) ListVolumes(ctx context.Context, scope string) ([]volume.Volume, error) {
	svm := b.scope(scope)
	vols, err := b.client.ListVolumes(ctx, svm)
	if err != nil {
		return nil, toOpsError("list volumes", svm, err)
	}
	out := make([]volume.Volume, 0, len(vols))
	for i := range vols {
		out = append(out, toVolume(&vols[i]))
	}
	return out, nil
}

// DeleteVolume deletes the volume and, best effort, the export policy
// created for it from export hosts.
func (b *Backend) DeleteVolume(ctx context.Context, ref volume.Ref) error {
	svm := b.scope(ref.Scope)
	resource := svm + "/" + ref.Name

	vol, err := b.client.GetVolume(ctx, svm, ref.Name)
	if err != nil {
		return toOpsError("delete volume", resource, err)
	}
	if err := b.client.DeleteVolume(ctx, svm, ref.Name); err != nil {
		return toOpsError("delete volume", resource, err)
	}

	if vol.ExportPolicy == exportPolicyPrefix+ref.Name {
		if err := b.client.DeleteExportPolicy(ctx, svm, vol.ExportPolicy); err != nil {
			klog.Warningf("Failed to delete export policy %s/%s: %v", svm, vol.ExportPolicy, err)
		}
	}
	return nil
}

func (b *Backend) CreateSnapshot(ctx context.Context, spec volume.SnapshotSpec) (*volume.Snapshot, error) {
	svm := b.scope(spec.Ref.Volume.Scope)
	snap, err := b.client.CreateSnapshot(ctx, svm, spec.Ref.Volume.Name, &CreateSnapshotRequest{
		Name:            spec.Ref.Name,
		SnapMirrorLabel: spec.ReplicationLabel,
	})
	if err != nil {
		return nil, toOpsError("create snapshot", spec.Ref.String(), err)
	}
	out := toSnapshot(snap)
	return &out, nil
}

func (b *Backend) GetSnapshot(ctx context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error) {
	svm := b.scope(ref.Volume.Scope)
	snap, err := b.client.GetSnapshot(ctx, svm, ref.Volume.Name, ref.Name)
	if err != nil {
		return nil, toOpsError("get snapshot", ref.String(), err)
	}
	out := toSnapshot(snap)
	return &out, nil
}

func (b *Backend) ListSnapshots(ctx context.Context, ref volume.Ref) ([]volume.Snapshot, error) {
	svm := b.scope(ref.Scope)

	var snaps []Snapshot
	var err error
	if ref.Name == "" {
		snaps, err = b.client.ListSVMSnapshots(ctx, svm)
	} else {
		snaps, err = b.client.ListSnapshots(ctx, svm, ref.Name)
	}
	if err != nil {
		return nil, toOpsError("list snapshots", svm+"/"+ref.Name, err)
	}

	out := make([]volume.Snapshot, 0, len(snaps))
	for i := range snaps {
		out = append(out, toSnapshot(&snaps[i]))
	}
	return out, nil
}

func (b *Backend) DeleteSnapshot(ctx context.Context, ref volume.SnapshotRef) error {
	svm := b.scope(ref.Volume.Scope)
	if err := b.client.DeleteSnapshot(ctx, svm, ref.Volume.Name, ref.Name); err != nil {
		return toOpsError("delete snapshot", ref.String(), err)
	}
	return nil
}

// RevertToSnapshot restores the volume in place; newer snapshots are lost.
func (b *Backend) RevertToSnapshot(ctx context.Context, ref volume.SnapshotRef) error {
	svm := b.scope(ref.Volume.Scope)
	err := b.client.PatchVolume(ctx, svm, ref.Volume.Name, &PatchVolumeRequest{RestoreToSnapshot: ref.Name})
	if err != nil {
		return toOpsError("revert volume", ref.String(), err)
	}
	return nil
}

func (b *Backend) SplitClone(ctx context.Context, ref volume.Ref) error {
	svm := b.scope(ref.Scope)
	if err := b.client.PatchVolume(ctx, svm, ref.Name, &PatchVolumeRequest{SplitClone: true}); err != nil {
		return toOpsError("split clone", svm+"/"+ref.Name, err)
	}
	return nil
}

func (b *Backend) VolumeExists(ctx context.Context, scope, name string) (bool, error) {
	return exists(b.GetVolume(ctx, volume.Ref{Scope: scope, Name: name}))
}

func (b *Backend) SnapshotExists(ctx context.Context, scope, vol, name string) (bool, error) {
	return exists(b.GetSnapshot(ctx, volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: vol}, Name: name}))
}

func exists[T any](_ T, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case opserr.IsNotFound(err):
		return false, nil
	}
	return false, err
}

func (b *Backend) CreateReplication(ctx context.Context, spec volume.ReplicationSpec) (*volume.Replication, error) {
	rel, err := b.client.CreateReplication(ctx, &CreateReplicationRequest{
		Source:            Endpoint{SVM: b.scope(spec.Source.Scope), Volume: spec.Source.Name},
		Destination:       Endpoint{SVM: b.scope(spec.Destination.Scope), Volume: spec.Destination.Name},
		Policy:            spec.Policy,
		Schedule:          spec.Schedule,
		CreateDestination: spec.CreateDestination,
	})
	if err != nil {
		return nil, toOpsError("create replication", spec.Destination.String(), err)
	}
	out := toReplication(rel)
	return &out, nil
}

func (b *Backend) GetReplication(ctx context.Context, uuid string) (*volume.Replication, error) {
	rel, err := b.client.GetReplication(ctx, uuid)
	if err != nil {
		return nil, toOpsError("get replication", uuid, err)
	}
	out := toReplication(rel)
	return &out, nil
}

func (b *Backend) ListReplications(ctx context.Context, scope string) ([]volume.Replication, error) {
	svm := b.scope(scope)
	rels, err := b.client.ListReplications(ctx, svm)
	if err != nil {
		return nil, toOpsError("list replications", svm, err)
	}
	out := make([]volume.Replication, 0, len(rels))
	for i := range rels {
		out = append(out, toReplication(&rels[i]))
	}
	return out, nil
}

func (b *Backend) StartTransfer(ctx context.Context, uuid string) (*volume.Transfer, error) {
	t, err := b.client.StartTransfer(ctx, uuid)
	if err != nil {
		return nil, toOpsError("start transfer", uuid, err)
	}
	out := toTransfer(t)
	return &out, nil
}

func (b *Backend) GetTransfer(ctx context.Context, uuid, transferUUID string) (*volume.Transfer, error) {
	t, err := b.client.GetTransfer(ctx, uuid, transferUUID)
	if err != nil {
		return nil, toOpsError("get transfer", uuid+"/"+transferUUID, err)
	}
	out := toTransfer(t)
	return &out, nil
}

func toVolume(v *Volume) volume.Volume {
	out := volume.Volume{
		Ref:            volume.Ref{Scope: v.SVM, Name: v.Name},
		SizeBytes:      v.Size,
		Size:           volume.PrettySize(v.Size),
		Aggregates:     v.Aggregates,
		Style:          volume.Style(v.Style),
		ExportPolicy:   v.ExportPolicy,
		SnapshotPolicy: v.SnapshotPolicy,
		JunctionPath:   v.JunctionPath,
		UID:            v.UUID,
		CreatedAt:      v.CreatedAt,
	}

	switch v.State {
	case VolumeStateOnline:
		out.Status = volume.StatusBound
	case VolumeStateError:
		out.Status = volume.StatusError
		out.StatusMessage = v.ErrorMessage
	default:
		out.Status = volume.StatusPending
	}

	if c := v.Clone; c != nil && c.IsClone {
		out.IsClone = true
		parent := volume.Ref{Scope: c.ParentSVM, Name: c.ParentVolume}
		out.SourceVolume = &parent
		if c.ParentSnapshot != "" {
			out.SourceSnapshot = &volume.SnapshotRef{Volume: parent, Name: c.ParentSnapshot}
		}
	}

	lineage, ok, err := provenance.DecodeComment(v.Comment)
	if err != nil {
		klog.Warningf("Ignoring lineage of volume %s/%s: %v", v.SVM, v.Name, err)
	} else if ok {
		out.Lineage = lineage
	}
	return out
}

func toSnapshot(s *Snapshot) volume.Snapshot {
	out := volume.Snapshot{
		Ref: volume.SnapshotRef{
			Volume: volume.Ref{Scope: s.SVM, Name: s.Volume},
			Name:   s.Name,
		},
		CreatedAt:        s.CreatedAt,
		ReadyToUse:       s.State == SnapshotStateValid,
		RestoreSizeBytes: s.Size,
		ReplicationLabel: s.SnapMirrorLabel,
		UID:              s.UUID,
	}
	if s.State == SnapshotStateInvalid {
		out.Error = "snapshot is invalid"
	}
	return out
}

func toReplication(r *Replication) volume.Replication {
	out := volume.Replication{
		UUID:        r.UUID,
		Source:      volume.Ref{Scope: r.Source.SVM, Name: r.Source.Volume},
		Destination: volume.Ref{Scope: r.Destination.SVM, Name: r.Destination.Volume},
		Policy:      r.Policy,
		State:       r.State,
		Healthy:     r.Healthy,
	}
	if r.LastTransfer != nil {
		t := toTransfer(r.LastTransfer)
		out.LastTransfer = &t
	}
	return out
}

func toTransfer(t *Transfer) volume.Transfer {
	out := volume.Transfer{
		UUID:         t.UUID,
		State:        t.State,
		Bytes:        t.BytesTransferred,
		ErrorMessage: t.ErrorMessage,
	}
	if t.EndTime != nil {
		out.EndTime = *t.EndTime
	}
	return out
}

func parseID(id string) (*int64, error) {
	if id == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid unix id %q: %w", id, err)
	}
	return &n, nil
}
