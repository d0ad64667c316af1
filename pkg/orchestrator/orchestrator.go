// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/poll"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

const (
	// DefaultPrefix is the default name prefix of generated snapshots.
	DefaultPrefix = "dataops"

	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second

	// stampLayout is the second-granular part of a generated timestamp;
	// six digits of microseconds follow it.
	stampLayout = "20060102150405"
	stampDigits = len(stampLayout) + 6
)

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// Prefix is prepended to generated snapshot names.
	Prefix string
	// CreatedBy is the lineage marker written on new volumes.
	CreatedBy string

	PollInterval time.Duration
	PollTimeout  time.Duration

	// SnapshotClass is used for claim snapshots when a call names none.
	SnapshotClass string

	// Locker, when set, serializes restores of the same volume.
	Locker Locker

	ResolverCacheSize int
	ResolverCacheTTL  time.Duration

	Clock clock.Clock
}

// Orchestrator bundles the components bound to a single backend.
type Orchestrator struct {
	Volumes     *VolumeProvisioner
	Snapshots   *SnapshotManager
	Clones      *CloneOrchestrator
	Restores    *RestoreOrchestrator
	Replication *ReplicationManager
}

// New wires every component to backend.
func New(backend Backend, opts Options) *Orchestrator {
	e := newEnv(backend, opts)
	snapshots := &SnapshotManager{env: e}
	volumes := &VolumeProvisioner{env: e, snapshots: snapshots}
	return &Orchestrator{
		Volumes:     volumes,
		Snapshots:   snapshots,
		Clones:      &CloneOrchestrator{env: e, volumes: volumes, snapshots: snapshots},
		Restores:    &RestoreOrchestrator{env: e, volumes: volumes, snapshots: snapshots},
		Replication: &ReplicationManager{env: e},
	}
}

// env is the state shared by all components of one Orchestrator. It is
// read-only after construction.
type env struct {
	backend Backend
	poller  *poll.Poller
	clock   clock.Clock
	locker  Locker

	prefix        string
	createdBy     string
	snapshotClass string

	cacheSize int
	cacheTTL  time.Duration
}

func newEnv(backend Backend, opts Options) *env {
	e := &env{
		backend:       backend,
		poller:        poll.New(opts.PollInterval, opts.PollTimeout),
		clock:         opts.Clock,
		locker:        opts.Locker,
		prefix:        opts.Prefix,
		createdBy:     opts.CreatedBy,
		snapshotClass: opts.SnapshotClass,
		cacheSize:     opts.ResolverCacheSize,
		cacheTTL:      opts.ResolverCacheTTL,
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.prefix == "" {
		e.prefix = DefaultPrefix
	}
	if e.createdBy == "" {
		e.createdBy = provenance.DefaultCreatedBy
	}
	if e.cacheSize <= 0 {
		e.cacheSize = defaultCacheSize
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = defaultCacheTTL
	}
	return e
}

// stamp renders t as a 20-digit UTC timestamp with microsecond resolution.
func stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%06d", t.Format(stampLayout), t.Nanosecond()/int(time.Microsecond))
}

// parseStamp is the inverse of stamp.
func parseStamp(s string) (time.Time, error) {
	if len(s) != stampDigits {
		return time.Time{}, fmt.Errorf("timestamp %q has %d digits, want %d", s, len(s), stampDigits)
	}
	t, err := time.ParseInLocation(stampLayout, s[:len(stampLayout)], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	micros, err := strconv.Atoi(s[len(stampLayout):])
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.Add(time.Duration(micros) * time.Microsecond), nil
}

// resolver returns a short-lived cached resolver for one listing call.
func (e *env) resolver() provenance.Resolver {
	r, err := provenance.NewCachingResolver(e.backend, e.cacheTTL, e.cacheSize, provenance.WithCacheClock(e.clock))
	if err != nil {
		return e.backend
	}
	return r
}

// transientPrefix starts the names of snapshots taken to clone a live volume.
func (e *env) transientPrefix() string {
	return e.prefix + ".for-clone."
}

// ownedBy lists the lineage markers this orchestrator treats as its own.
func (e *env) ownedBy(l provenance.Lineage) bool {
	return l.OwnedBy(e.createdBy, provenance.DefaultCreatedBy, provenance.LegacyCreatedBy)
}

// lookupVolume fetches a volume as a tagged result.
func (e *env) lookupVolume(ctx context.Context, ref volume.Ref) opserr.Lookup[*volume.Volume] {
	v, err := e.backend.GetVolume(ctx, ref)
	return opserr.Classify(v, err)
}

// lookupSnapshot fetches a snapshot as a tagged result.
func (e *env) lookupSnapshot(ctx context.Context, ref volume.SnapshotRef) opserr.Lookup[*volume.Snapshot] {
	s, err := e.backend.GetSnapshot(ctx, ref)
	return opserr.Classify(s, err)
}

// waitVolumeBound blocks until ref reports Bound and returns its final state.
func (e *env) waitVolumeBound(ctx context.Context, ref volume.Ref) (*volume.Volume, error) {
	var bound *volume.Volume
	err := e.poller.UntilReady(ctx, "volume "+ref.String(), func(ctx context.Context) (poll.State, error) {
		return poll.Observe(e.lookupVolume(ctx, ref), func(v *volume.Volume) (bool, error) {
			switch v.Status {
			case volume.StatusBound:
				bound = v
				return true, nil
			case volume.StatusError:
				return false, opserr.Newf(opserr.ErrBackendState, "wait for volume", ref.String(),
					"volume failed to bind: %s", v.StatusMessage)
			}
			return false, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return bound, nil
}

// waitVolumeGone blocks until ref is reported absent.
func (e *env) waitVolumeGone(ctx context.Context, ref volume.Ref) error {
	return e.poller.UntilGone(ctx, "volume "+ref.String(), func(ctx context.Context) (poll.State, error) {
		return poll.Observe(e.lookupVolume(ctx, ref), func(*volume.Volume) (bool, error) { return false, nil })
	})
}

// waitSnapshotReady blocks until ref reports readyToUse.
func (e *env) waitSnapshotReady(ctx context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error) {
	var ready *volume.Snapshot
	err := e.poller.UntilReady(ctx, "snapshot "+ref.String(), func(ctx context.Context) (poll.State, error) {
		return poll.Observe(e.lookupSnapshot(ctx, ref), func(s *volume.Snapshot) (bool, error) {
			if s.Error != "" {
				return false, opserr.Newf(opserr.ErrBackendState, "wait for snapshot", ref.String(),
					"snapshot failed: %s", s.Error)
			}
			if s.ReadyToUse {
				ready = s
			}
			return s.ReadyToUse, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ready, nil
}

// waitSnapshotGone blocks until ref is reported absent.
func (e *env) waitSnapshotGone(ctx context.Context, ref volume.SnapshotRef) error {
	return e.poller.UntilGone(ctx, "snapshot "+ref.String(), func(ctx context.Context) (poll.State, error) {
		return poll.Observe(e.lookupSnapshot(ctx, ref), func(*volume.Snapshot) (bool, error) { return false, nil })
	})
}
