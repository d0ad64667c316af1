package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/akam1o/arca-dataops/pkg/config"
	"github.com/akam1o/arca-dataops/pkg/memstore"
	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

const testConfig = `
backend: array
arca:
  base_url: http://array.invalid
  svm: svm0
orchestrator:
  poll_interval: 1ms
  poll_timeout: 2s
`

type harness struct {
	store      *memstore.Store
	configPath string
	// backend is the backend name the factory was last called with.
	backend string
}

func newHarness(t *testing.T, kind volume.Kind) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return &harness{store: memstore.New(kind), configPath: path}
}

func (h *harness) run(args ...string) (string, error) {
	cmd := newRootCommand(func(_ context.Context, cfg *config.Config, _ string) (orchestrator.Backend, orchestrator.Locker, error) {
		h.backend = cfg.Backend
		return h.store, nil, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", h.configPath))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(args...)
	require.NoError(t, err, out)
	return out
}

func TestVolumeLifecycle(t *testing.T) {
	h := newHarness(t, volume.KindArray)

	out := h.mustRun(t, "volume", "create", "project1", "--size", "10GB", "-s", "svm0")
	assert.Contains(t, out, "project1")
	assert.Contains(t, out, string(volume.StatusBound))

	h.mustRun(t, "clone", "project1-dev", "--from-volume", "project1", "--source-scope", "svm0")

	out = h.mustRun(t, "volume", "list", "-s", "svm0", "-o", "yaml")
	var views []volumeView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)

	byName := map[string]volumeView{}
	for _, v := range views {
		byName[v.Name] = v
	}
	dev := byName["project1-dev"]
	assert.True(t, dev.Clone)
	assert.Equal(t, "clone", dev.Operation)
	assert.Equal(t, "project1", dev.SourceVolume)
	assert.Contains(t, dev.SourceSnapshot, "dataops.for-clone.")
	assert.False(t, byName["project1"].Clone)

	out = h.mustRun(t, "volume", "delete", "project1-dev", "-s", "svm0")
	assert.Contains(t, out, "volume svm0/project1-dev deleted")

	_, err := h.run("volume", "get", "project1-dev", "-s", "svm0")
	assert.True(t, opserr.IsNotFound(err))
	assert.Equal(t, 3, exitCode(err))
}

func TestSnapshotAndRestore(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	h.mustRun(t, "volume", "create", "v1", "--size", "1GB", "-s", "svm0")
	ref := volume.Ref{Scope: "svm0", Name: "v1"}
	require.NoError(t, h.store.Write(ref, "first"))

	out := h.mustRun(t, "snapshot", "create", "v1", "--name", "s1", "-s", "svm0")
	assert.Contains(t, out, "s1")
	require.NoError(t, h.store.Write(ref, "second"))

	out = h.mustRun(t, "snapshot", "list", "v1", "-s", "svm0", "-o", "yaml")
	var snaps []snapshotView
	require.NoError(t, yaml.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "s1", snaps[0].Name)
	assert.Equal(t, "v1", snaps[0].Volume)
	assert.True(t, snaps[0].Ready)

	h.mustRun(t, "restore", "v1", "s1", "-s", "svm0")
	content, err := h.store.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, "first", content)

	out = h.mustRun(t, "snapshot", "delete", "v1", "s1", "-s", "svm0")
	assert.Contains(t, out, "snapshot svm0/v1@s1 deleted")
}

func TestSnapshotRetentionFlags(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	h.mustRun(t, "volume", "create", "v1", "--size", "1GB", "-s", "svm0")

	_, err := h.run("snapshot", "create", "v1", "-s", "svm0", "--retention-count", "2", "--retention-days", "3")
	assert.Error(t, err)

	h.mustRun(t, "snapshot", "create", "v1", "-s", "svm0", "--name", "nightly", "--retention-count", "1")
	out := h.mustRun(t, "snapshot", "list", "v1", "-s", "svm0")
	assert.Contains(t, out, "nightly.")
}

func TestCloneArguments(t *testing.T) {
	h := newHarness(t, volume.KindArray)

	tests := []struct {
		name string
		args []string
		kind error
	}{
		{
			name: "no source",
			args: []string{"clone", "c1"},
		},
		{
			name: "both sources",
			args: []string{"clone", "c1", "--from-volume", "a", "--from-snapshot", "a@s"},
		},
		{
			name: "malformed snapshot",
			args: []string{"clone", "c1", "--from-snapshot", "nosnap"},
			kind: opserr.ErrInvalidSnapshotParameter,
		},
		{
			name: "missing source volume",
			args: []string{"clone", "c1", "--from-volume", "ghost", "--source-scope", "svm0"},
			kind: opserr.ErrInvalidVolumeParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			require.Error(t, err)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

func TestCloneScopeFromTarget(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	h.mustRun(t, "volume", "create", "project1", "--size", "10GB", "-s", "svm0")

	out := h.mustRun(t, "clone", "project1-dev", "--from-volume", "project1", "-s", "svm0", "-o", "yaml")
	var views []volumeView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "svm0", views[0].Scope)
	assert.Equal(t, "clone", views[0].Operation)

	_, err := h.run("clone", "project1-dev2", "--from-volume", "project1", "-s", "svm0", "--source-scope", "svm1")
	assert.ErrorIs(t, err, opserr.ErrValidation)
}

func TestReplicationCommands(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	h.mustRun(t, "volume", "create", "src", "--size", "1GB", "-s", "svm0")

	out := h.mustRun(t, "replication", "create", "src", "dst",
		"--source-scope", "svm0", "--destination-scope", "svm1", "--create-destination", "--sync", "-o", "yaml")
	var views []replicationView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "svm0/src", views[0].Source)
	assert.Equal(t, "svm1/dst", views[0].Destination)

	uuid := views[0].UUID
	out = h.mustRun(t, "replication", "sync", uuid)
	assert.Contains(t, out, fmt.Sprintf("replication %s transferred", uuid))

	out = h.mustRun(t, "replication", "list", "-s", "svm1")
	assert.Contains(t, out, uuid)
}

func TestBackendOverride(t *testing.T) {
	h := newHarness(t, volume.KindClaim)
	h.mustRun(t, "volume", "list", "--backend", "claim", "-s", "default")
	assert.Equal(t, config.BackendClaim, h.backend)

	_, err := h.run("volume", "list", "--backend", "tape")
	assert.ErrorIs(t, err, opserr.ErrConfiguration)
	assert.Equal(t, 2, exitCode(err))
}

func TestReplicationUnsupportedOnClaims(t *testing.T) {
	h := newHarness(t, volume.KindClaim)
	h.mustRun(t, "volume", "create", "src", "--backend", "claim", "-s", "default",
		"--size", "1Gi", "--storage-class", "gold", "--access-mode", "ReadWriteMany")

	_, err := h.run("replication", "create", "src", "dst", "--backend", "claim",
		"--source-scope", "default", "--destination-scope", "default")
	assert.ErrorIs(t, err, opserr.ErrUnsupported)
}

func TestCLIPassthroughNeedsArray(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	_, err := h.run("cli", "volume", "show")
	assert.ErrorIs(t, err, opserr.ErrUnsupported)
	assert.Equal(t, 6, exitCode(err))
}

func TestOutputFlag(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	_, err := h.run("volume", "list", "-o", "json")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	h := newHarness(t, volume.KindArray)
	out := h.mustRun(t, "version")
	assert.Equal(t, "arca-dataops "+version+"\n", out)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{opserr.New(opserr.ErrValidation, "create volume", "v", nil), 2},
		{opserr.New(opserr.ErrConfiguration, "load config", "", nil), 2},
		{opserr.New(opserr.ErrNotFound, "get volume", "v", nil), 3},
		{opserr.New(opserr.ErrConflict, "create volume", "v", nil), 4},
		{opserr.New(opserr.ErrTimeout, "create volume", "v", nil), 5},
		{opserr.New(opserr.ErrUnsupported, "split clone", "v", nil), 6},
		{opserr.New(opserr.ErrConnection, "list volumes", "", nil), 1},
		{fmt.Errorf("plain"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}
