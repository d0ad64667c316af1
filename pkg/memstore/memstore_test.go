package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

func TestPendingReads(t *testing.T) {
	s := New(volume.KindClaim, WithPendingReads(2))
	ref := volume.Ref{Scope: "default", Name: "v"}

	vol, err := s.CreateVolume(context.Background(), volume.Spec{Ref: ref, Size: "1Gi"})
	require.NoError(t, err)
	assert.Equal(t, volume.StatusPending, vol.Status)

	vol, err = s.GetVolume(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, volume.StatusPending, vol.Status)
	vol, err = s.GetVolume(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, volume.StatusBound, vol.Status)

	require.NoError(t, s.DeleteVolume(context.Background(), ref))
	_, err = s.GetVolume(context.Background(), ref)
	assert.NoError(t, err)
	_, err = s.GetVolume(context.Background(), ref)
	assert.NoError(t, err)
	_, err = s.GetVolume(context.Background(), ref)
	assert.True(t, opserr.IsNotFound(err))
}

func TestFailOn(t *testing.T) {
	s := New(volume.KindArray)
	boom := errors.New("boom")
	s.FailOn(OpListVolumes, boom, 2)

	for i := 0; i < 2; i++ {
		_, err := s.ListVolumes(context.Background(), "")
		assert.ErrorIs(t, err, boom)
	}
	_, err := s.ListVolumes(context.Background(), "")
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Calls(OpListVolumes))

	s.FailOn(OpListVolumes, boom, 0)
	s.ClearFailures()
	_, err = s.ListVolumes(context.Background(), "")
	assert.NoError(t, err)
}

func TestFailOnAfter(t *testing.T) {
	s := New(volume.KindArray)
	boom := errors.New("boom")
	s.FailOnAfter(OpListVolumes, boom, 1, 1)

	_, err := s.ListVolumes(context.Background(), "")
	assert.NoError(t, err)
	_, err = s.ListVolumes(context.Background(), "")
	assert.ErrorIs(t, err, boom)
	_, err = s.ListVolumes(context.Background(), "")
	assert.NoError(t, err)
}

func TestArrayDeleteDropsSnapshots(t *testing.T) {
	s := New(volume.KindArray)
	ref := volume.Ref{Scope: "svm0", Name: "v"}
	_, err := s.CreateVolume(context.Background(), volume.Spec{Ref: ref, Size: "1GB"})
	require.NoError(t, err)
	_, err = s.CreateSnapshot(context.Background(), volume.SnapshotSpec{Ref: volume.SnapshotRef{Volume: ref, Name: "s1"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteVolume(context.Background(), ref))
	snaps, err := s.ListSnapshots(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestLineageEncoding(t *testing.T) {
	lineage := provenance.Lineage{
		CreatedBy:      provenance.DefaultCreatedBy,
		Operation:      provenance.OperationClone,
		SourceScope:    "svm0",
		SourceVolume:   "p",
		SourceSnapshot: "s",
	}

	arr := New(volume.KindArray)
	src := volume.Ref{Scope: "svm0", Name: "p"}
	_, err := arr.CreateVolume(context.Background(), volume.Spec{Ref: src, Size: "1GB"})
	require.NoError(t, err)
	_, err = arr.CreateSnapshot(context.Background(), volume.SnapshotSpec{Ref: volume.SnapshotRef{Volume: src, Name: "s"}})
	require.NoError(t, err)

	ref := volume.Ref{Scope: "svm0", Name: "c"}
	vol, err := arr.CreateVolume(context.Background(), volume.Spec{
		Ref:            ref,
		SourceSnapshot: &volume.SnapshotRef{Volume: src, Name: "s"},
		Lineage:        lineage,
	})
	require.NoError(t, err)
	assert.Equal(t, lineage, vol.Lineage)
	assert.Equal(t, provenance.EncodeComment(lineage), arr.Comment(ref))
	assert.True(t, vol.IsClone)
	assert.Equal(t, int64(1024*1024*1024), vol.SizeBytes)
}
