package arca

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

func newTestBackend(t *testing.T) (*Backend, *fakeArray) {
	f := newFakeArray(t)
	return NewBackend(f.client(t), Defaults{
		SVM:             "svm0",
		Style:           volume.StyleFlexVol,
		Aggregates:      []string{"aggr1"},
		ExportPolicy:    "default",
		SnapshotPolicy:  "none",
		SnapshotReserve: ptr.To[int32](5),
		UnixUID:         "1000",
		UnixGID:         "1000",
		UnixPermissions: "0755",
	}), f
}

func TestBackendCreateVolumeAppliesDefaults(t *testing.T) {
	b, f := newTestBackend(t)

	vol, err := b.CreateVolume(context.Background(), volume.Spec{
		Ref:     volume.Ref{Name: "vol1"},
		Size:    "10GB",
		Lineage: provenance.Lineage{CreatedBy: provenance.DefaultCreatedBy, Operation: provenance.OperationCreate},
	})
	require.NoError(t, err)

	req := f.lastCreate
	require.NotNil(t, req)
	assert.Equal(t, "svm0", req.SVM)
	assert.Equal(t, int64(10<<30), req.Size)
	assert.Equal(t, "flexvol", req.Style)
	assert.Equal(t, []string{"aggr1"}, req.Aggregates)
	assert.Equal(t, "default", req.ExportPolicy)
	assert.Equal(t, "none", req.SnapshotPolicy)
	assert.Equal(t, ptr.To[int32](5), req.SnapshotReserve)
	assert.Equal(t, ptr.To[int64](1000), req.UnixUID)
	assert.Equal(t, "0755", req.UnixPermissions)
	assert.Nil(t, req.Clone)

	assert.Equal(t, volume.Ref{Scope: "svm0", Name: "vol1"}, vol.Ref)
	assert.Equal(t, volume.StatusBound, vol.Status)
	assert.Equal(t, "10GiB", vol.Size)
	assert.Equal(t, provenance.OperationCreate, vol.Lineage.Operation)
}

func TestBackendCreateVolumeWithExportHosts(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()
	ref := volume.Ref{Scope: "svm0", Name: "vol1"}

	_, err := b.CreateVolume(ctx, volume.Spec{Ref: ref, Size: "1GB", ExportHosts: []string{"10.0.0.1", "10.0.0.2"}})
	require.NoError(t, err)
	assert.Equal(t, "dataops-vol1", f.lastCreate.ExportPolicy)

	policy := f.policies["svm0/dataops-vol1"]
	require.NotNil(t, policy)
	require.Len(t, policy.Rules, 1)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, policy.Rules[0].Clients)

	require.NoError(t, b.DeleteVolume(ctx, ref))
	assert.NotContains(t, f.policies, "svm0/dataops-vol1")
}

func TestBackendCreateCloneSkipsDefaults(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()
	parent := volume.Ref{Scope: "svm0", Name: "parent"}

	_, err := b.CreateVolume(ctx, volume.Spec{Ref: parent, Size: "1GB"})
	require.NoError(t, err)
	_, err = b.CreateSnapshot(ctx, volume.SnapshotSpec{Ref: volume.SnapshotRef{Volume: parent, Name: "s1"}})
	require.NoError(t, err)

	lineage := provenance.Lineage{
		CreatedBy:      provenance.DefaultCreatedBy,
		Operation:      provenance.OperationClone,
		SourceScope:    "svm0",
		SourceVolume:   "parent",
		SourceSnapshot: "s1",
	}
	vol, err := b.CreateVolume(ctx, volume.Spec{
		Ref:            volume.Ref{Scope: "svm0", Name: "child"},
		SourceSnapshot: &volume.SnapshotRef{Volume: parent, Name: "s1"},
		Lineage:        lineage,
	})
	require.NoError(t, err)

	req := f.lastCreate
	assert.Equal(t, &CloneRequest{ParentSVM: "svm0", ParentVolume: "parent", ParentSnapshot: "s1"}, req.Clone)
	assert.Empty(t, req.ExportPolicy)
	assert.Nil(t, req.UnixUID)
	assert.Equal(t, provenance.EncodeComment(lineage), req.Comment)

	assert.True(t, vol.IsClone)
	assert.Equal(t, &parent, vol.SourceVolume)
	assert.Equal(t, &volume.SnapshotRef{Volume: parent, Name: "s1"}, vol.SourceSnapshot)
	assert.Equal(t, lineage, vol.Lineage)
	assert.Equal(t, int64(1<<30), vol.SizeBytes)
}

func TestBackendErrorMapping(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()
	ref := volume.Ref{Scope: "svm0", Name: "vol1"}

	_, err := b.GetVolume(ctx, ref)
	assert.True(t, opserr.IsNotFound(err))

	_, err = b.CreateVolume(ctx, volume.Spec{Ref: ref, Size: "1GB"})
	require.NoError(t, err)
	_, err = b.CreateVolume(ctx, volume.Spec{Ref: ref, Size: "1GB"})
	assert.True(t, opserr.IsConflict(err))

	f.failNext(http.MethodGet, "/v1/volumes", http.StatusInternalServerError, "boom", 10)
	_, err = b.ListVolumes(ctx, "svm0")
	assert.True(t, opserr.IsConnection(err))

	exists, err := b.VolumeExists(ctx, "svm0", "vol1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = b.SnapshotExists(ctx, "svm0", "vol1", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackendVolumeStatus(t *testing.T) {
	tests := []struct {
		state string
		want  volume.Status
	}{
		{state: VolumeStateOnline, want: volume.StatusBound},
		{state: VolumeStateCreating, want: volume.StatusPending},
		{state: VolumeStateOffline, want: volume.StatusPending},
		{state: VolumeStateError, want: volume.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			vol := toVolume(&Volume{Name: "v", SVM: "svm0", State: tt.state, ErrorMessage: "aggr offline"})
			assert.Equal(t, tt.want, vol.Status)
		})
	}

	vol := toVolume(&Volume{Name: "v", SVM: "svm0", Comment: "dataops-lineage/v9?op=clone"})
	assert.True(t, vol.Lineage.IsZero())
}

func TestBackendRevertAndSplit(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()
	ref := volume.Ref{Scope: "svm0", Name: "vol1"}

	_, err := b.CreateVolume(ctx, volume.Spec{Ref: ref, Size: "1GB"})
	require.NoError(t, err)
	_, err = b.CreateSnapshot(ctx, volume.SnapshotSpec{Ref: volume.SnapshotRef{Volume: ref, Name: "s1"}, ReplicationLabel: "daily"})
	require.NoError(t, err)

	require.NoError(t, b.RevertToSnapshot(ctx, volume.SnapshotRef{Volume: ref, Name: "s1"}))
	assert.Equal(t, "s1", f.lastPatch.RestoreToSnapshot)

	err = b.RevertToSnapshot(ctx, volume.SnapshotRef{Volume: ref, Name: "missing"})
	assert.True(t, opserr.IsNotFound(err))

	err = b.SplitClone(ctx, ref)
	assert.True(t, opserr.IsValidation(err))

	snaps, err := b.ListSnapshots(ctx, volume.Ref{Scope: "svm0"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "daily", snaps[0].ReplicationLabel)
	assert.True(t, snaps[0].ReadyToUse)
}

func TestBackendReplication(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	rel, err := b.CreateReplication(ctx, volume.ReplicationSpec{
		Source:            volume.Ref{Scope: "svm0", Name: "vol1"},
		Destination:       volume.Ref{Scope: "svm1", Name: "vol1_dst"},
		Policy:            "MirrorAllSnapshots",
		CreateDestination: true,
	})
	require.NoError(t, err)
	assert.Equal(t, volume.Ref{Scope: "svm1", Name: "vol1_dst"}, rel.Destination)

	transfer, err := b.StartTransfer(ctx, rel.UUID)
	require.NoError(t, err)
	assert.Equal(t, volume.TransferQueued, transfer.State)

	transfer, err = b.GetTransfer(ctx, rel.UUID, transfer.UUID)
	require.NoError(t, err)
	assert.Equal(t, volume.TransferSuccess, transfer.State)
	assert.Equal(t, int64(4096), transfer.Bytes)
	assert.False(t, transfer.EndTime.IsZero())

	_, err = b.GetReplication(ctx, "missing")
	assert.True(t, opserr.IsNotFound(err))
}

func TestOrchestratorOverArray(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()
	o := orchestrator.New(b, orchestrator.Options{PollInterval: time.Millisecond, PollTimeout: time.Second})
	parent := volume.Ref{Scope: "svm0", Name: "project1"}
	child := volume.Ref{Scope: "svm0", Name: "project1_clone"}

	_, err := o.Volumes.Create(ctx, volume.Spec{Ref: parent, Size: "10GB"})
	require.NoError(t, err)

	clone, err := o.Clones.Clone(ctx, child, orchestrator.FromVolume(parent), orchestrator.CloneOptions{})
	require.NoError(t, err)
	assert.True(t, clone.IsClone)
	require.NotNil(t, clone.SourceSnapshot)
	transient := clone.SourceSnapshot.Name
	assert.True(t, strings.HasPrefix(transient, "dataops.for-clone."))

	// The array refuses to delete the clone's source snapshot until the clone is gone.
	require.NoError(t, o.Volumes.Delete(ctx, child, orchestrator.DeleteOptions{CascadeSnapshots: true}))
	assert.NotContains(t, f.snapshots, snapKey("svm0", "project1", transient))
	assert.NotContains(t, f.volumes, volKey("svm0", "project1_clone"))
	assert.Contains(t, f.volumes, volKey("svm0", "project1"))

	snap, err := o.Snapshots.Create(ctx, parent, orchestrator.SnapshotOptions{})
	require.NoError(t, err)
	restored, err := o.Restores.Restore(ctx, parent, snap.Ref.Name)
	require.NoError(t, err)
	assert.Equal(t, volume.StatusBound, restored.Status)
	assert.Equal(t, snap.Ref.Name, f.lastPatch.RestoreToSnapshot)
}
