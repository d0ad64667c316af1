// Package memstore is an in-memory Backend for tests. It models
// either backend kind: claim stores keep snapshots of deleted volumes, array
// stores revert in place and split clones. Lineage round-trips through the
// same encodings the real backends use.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/clock"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// Operation names accepted by FailOn.
const (
	OpCreateVolume     = "CreateVolume"
	OpGetVolume        = "GetVolume"
	OpListVolumes      = "ListVolumes"
	OpDeleteVolume     = "DeleteVolume"
	OpCreateSnapshot   = "CreateSnapshot"
	OpGetSnapshot      = "GetSnapshot"
	OpListSnapshots    = "ListSnapshots"
	OpDeleteSnapshot   = "DeleteSnapshot"
	OpRevertToSnapshot = "RevertToSnapshot"
	OpSplitClone       = "SplitClone"
	OpStartTransfer    = "StartTransfer"
	OpGetTransfer      = "GetTransfer"
)

type volumeRecord struct {
	vol volume.Volume

	// Lineage as the backend stores it.
	comment     string
	labels      map[string]string
	annotations map[string]string

	content  string
	pending  int
	deleting int
}

type snapshotRecord struct {
	snap     volume.Snapshot
	seq      int
	content  string
	pending  int
	deleting int
}

type transferRecord struct {
	transfer volume.Transfer
	pending  int
}

type failure struct {
	err   error
	skip  int
	count int
}

// Store is an in-memory Backend.
type Store struct {
	kind  volume.Kind
	caps  volume.Capabilities
	clock clock.Clock

	pendingReads    int
	transferOutcome string

	volumes      map[volume.Ref]*volumeRecord
	snapshots    map[volume.SnapshotRef]*snapshotRecord
	replications map[string]*volume.Replication
	transfers    map[string]*transferRecord
	failures     map[string]*failure
	calls        map[string]int

	seq int
	mu  sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCapabilities overrides the kind's default capabilities.
func WithCapabilities(caps volume.Capabilities) Option {
	return func(s *Store) { s.caps = caps }
}

// WithPendingReads keeps new objects pending, and deleted objects visible,
// for n reads.
func WithPendingReads(n int) Option {
	return func(s *Store) { s.pendingReads = n }
}

// WithClock sets the clock used for creation times.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTransferOutcome sets the terminal state of replication transfers.
func WithTransferOutcome(state string) Option {
	return func(s *Store) { s.transferOutcome = state }
}

// New creates an empty store of the given kind.
func New(kind volume.Kind, opts ...Option) *Store {
	s := &Store{
		kind:            kind,
		clock:           clock.RealClock{},
		transferOutcome: volume.TransferSuccess,
		volumes:         make(map[volume.Ref]*volumeRecord),
		snapshots:       make(map[volume.SnapshotRef]*snapshotRecord),
		replications:    make(map[string]*volume.Replication),
		transfers:       make(map[string]*transferRecord),
		failures:        make(map[string]*failure),
		calls:           make(map[string]int),
	}
	if kind == volume.KindArray {
		s.caps = volume.Capabilities{InPlaceRevert: true, CloneSplit: true}
	} else {
		s.caps = volume.Capabilities{SnapshotsOutliveVolume: true}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOn makes the next count calls of op return err. A count of zero or
// less fails every call until ClearFailures.
func (s *Store) FailOn(op string, err error, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{err: err, count: count}
}

// FailOnAfter is FailOn, but lets the next skip calls of op succeed first.
func (s *Store) FailOnAfter(op string, err error, skip, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{err: err, skip: skip, count: count}
}

// ClearFailures removes every injected failure.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*failure)
}

// Calls returns how often op was called.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// call records op and returns an injected failure. Callers hold s.mu.
func (s *Store) call(op string) error {
	s.calls[op]++
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	if f.count > 0 {
		f.count--
		if f.count == 0 {
			delete(s.failures, op)
		}
	}
	return f.err
}

func (s *Store) nextUID() string {
	s.seq++
	return fmt.Sprintf("%08d", s.seq)
}

// Kind implements Backend
func (s *Store) Kind() volume.Kind { return s.kind }

// Capabilities implements Backend
func (s *Store) Capabilities() volume.Capabilities { return s.caps }

// Write replaces the content of a volume.
func (s *Store) Write(ref volume.Ref, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.volumes[ref]
	if !ok {
		return opserr.New(opserr.ErrNotFound, "write", ref.String(), nil)
	}
	rec.content = content
	return nil
}

// Read returns the content of a volume.
func (s *Store) Read(ref volume.Ref) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.volumes[ref]
	if !ok {
		return "", opserr.New(opserr.ErrNotFound, "read", ref.String(), nil)
	}
	return rec.content, nil
}

// Comment returns the raw lineage comment of an array volume.
func (s *Store) Comment(ref volume.Ref) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.volumes[ref]; ok {
		return rec.comment
	}
	return ""
}

// SetComment overwrites the raw lineage comment of an array volume.
func (s *Store) SetComment(ref volume.Ref, comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.volumes[ref]; ok {
		rec.comment = comment
	}
}

// CreateVolume implements Backend
func (s *Store) CreateVolume(_ context.Context, spec volume.Spec) (*volume.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpCreateVolume); err != nil {
		return nil, err
	}
	if _, ok := s.volumes[spec.Ref]; ok {
		return nil, opserr.New(opserr.ErrConflict, "create volume", spec.Ref.String(), nil)
	}

	rec := &volumeRecord{
		vol: volume.Volume{
			Ref:            spec.Ref,
			StorageClass:   spec.StorageClass,
			Aggregates:     spec.Aggregates,
			AccessMode:     spec.AccessMode,
			Style:          spec.Style,
			ExportPolicy:   spec.ExportPolicy,
			SnapshotPolicy: spec.SnapshotPolicy,
			JunctionPath:   spec.JunctionPath,
			Status:         volume.StatusPending,
			UID:            s.nextUID(),
			CreatedAt:      s.clock.Now(),
		},
		pending: s.pendingReads,
	}

	if spec.SourceSnapshot != nil {
		src, ok := s.snapshots[*spec.SourceSnapshot]
		if !ok {
			return nil, opserr.New(opserr.ErrNotFound, "create volume", spec.SourceSnapshot.String(), nil)
		}
		rec.content = src.content
		rec.vol.IsClone = true
		rec.vol.SourceSnapshot = spec.SourceSnapshot
		parent := spec.SourceSnapshot.Volume
		rec.vol.SourceVolume = &parent
		rec.vol.SizeBytes = src.snap.RestoreSizeBytes
	}

	if spec.Size != "" {
		n, err := spec.SizeBytes(s.kind)
		if err != nil {
			return nil, err
		}
		rec.vol.SizeBytes = n
	}
	if s.kind == volume.KindClaim {
		rec.vol.Size = resource.NewQuantity(rec.vol.SizeBytes, resource.BinarySI).String()
		md := provenance.EncodeMetadata(spec.Lineage)
		rec.labels, rec.annotations = md.Labels, md.Annotations
	} else {
		rec.vol.Size = volume.PrettySize(rec.vol.SizeBytes)
		rec.comment = provenance.EncodeComment(spec.Lineage)
	}
	if rec.pending == 0 {
		rec.vol.Status = volume.StatusBound
	}

	s.volumes[spec.Ref] = rec
	v := s.render(rec)
	return &v, nil
}

// render decodes the stored lineage into a Volume. Callers hold s.mu.
func (s *Store) render(rec *volumeRecord) volume.Volume {
	v := rec.vol
	if s.kind == volume.KindClaim {
		v.Lineage, _ = provenance.DecodeMetadata(rec.labels, rec.annotations)
	} else if l, ok, err := provenance.DecodeComment(rec.comment); err == nil && ok {
		v.Lineage = l
	}
	return v
}

// GetVolume implements Backend
func (s *Store) GetVolume(_ context.Context, ref volume.Ref) (*volume.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpGetVolume); err != nil {
		return nil, err
	}
	rec, ok := s.volumes[ref]
	if !ok {
		return nil, opserr.New(opserr.ErrNotFound, "get volume", ref.String(), nil)
	}
	if rec.deleting > 0 {
		rec.deleting--
		if rec.deleting == 0 {
			delete(s.volumes, ref)
		}
	} else if rec.pending > 0 {
		rec.pending--
		if rec.pending == 0 {
			rec.vol.Status = volume.StatusBound
		}
	}
	v := s.render(rec)
	return &v, nil
}

// ListVolumes implements Backend
func (s *Store) ListVolumes(_ context.Context, scope string) ([]volume.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpListVolumes); err != nil {
		return nil, err
	}
	var result []volume.Volume
	for ref, rec := range s.volumes {
		if rec.deleting > 0 || (scope != "" && ref.Scope != scope) {
			continue
		}
		result = append(result, s.render(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ref.String() < result[j].Ref.String() })
	return result, nil
}

// DeleteVolume implements Backend. Array stores drop the volume's snapshots
// with it.
func (s *Store) DeleteVolume(_ context.Context, ref volume.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpDeleteVolume); err != nil {
		return err
	}
	rec, ok := s.volumes[ref]
	if !ok || rec.deleting > 0 {
		return opserr.New(opserr.ErrNotFound, "delete volume", ref.String(), nil)
	}
	if s.pendingReads > 0 {
		rec.deleting = s.pendingReads
	} else {
		delete(s.volumes, ref)
	}

	if !s.caps.SnapshotsOutliveVolume {
		for snapRef := range s.snapshots {
			if snapRef.Volume == ref {
				delete(s.snapshots, snapRef)
			}
		}
	}
	return nil
}

// CreateSnapshot implements Backend
func (s *Store) CreateSnapshot(_ context.Context, spec volume.SnapshotSpec) (*volume.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpCreateSnapshot); err != nil {
		return nil, err
	}
	parent, ok := s.volumes[spec.Ref.Volume]
	if !ok || parent.deleting > 0 {
		return nil, opserr.New(opserr.ErrNotFound, "create snapshot", spec.Ref.Volume.String(), nil)
	}
	if _, ok := s.snapshots[spec.Ref]; ok {
		return nil, opserr.New(opserr.ErrConflict, "create snapshot", spec.Ref.String(), nil)
	}

	s.seq++
	rec := &snapshotRecord{
		snap: volume.Snapshot{
			Ref:              spec.Ref,
			CreatedAt:        s.clock.Now(),
			ReadyToUse:       s.pendingReads == 0,
			RestoreSizeBytes: parent.vol.SizeBytes,
			ReplicationLabel: spec.ReplicationLabel,
			UID:              fmt.Sprintf("%08d", s.seq),
		},
		seq:     s.seq,
		content: parent.content,
		pending: s.pendingReads,
	}
	s.snapshots[spec.Ref] = rec
	snap := rec.snap
	return &snap, nil
}

// GetSnapshot implements Backend
func (s *Store) GetSnapshot(_ context.Context, ref volume.SnapshotRef) (*volume.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpGetSnapshot); err != nil {
		return nil, err
	}
	rec, ok := s.snapshots[ref]
	if !ok {
		return nil, opserr.New(opserr.ErrNotFound, "get snapshot", ref.String(), nil)
	}
	if rec.deleting > 0 {
		rec.deleting--
		if rec.deleting == 0 {
			delete(s.snapshots, ref)
		}
	} else if rec.pending > 0 {
		rec.pending--
		rec.snap.ReadyToUse = rec.pending == 0
	}
	snap := rec.snap
	return &snap, nil
}

// ListSnapshots implements Backend
func (s *Store) ListSnapshots(_ context.Context, ref volume.Ref) ([]volume.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpListSnapshots); err != nil {
		return nil, err
	}
	var records []*snapshotRecord
	for snapRef, rec := range s.snapshots {
		if rec.deleting > 0 || snapRef.Volume.Scope != ref.Scope {
			continue
		}
		if ref.Name != "" && snapRef.Volume.Name != ref.Name {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	result := make([]volume.Snapshot, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.snap)
	}
	return result, nil
}

// DeleteSnapshot implements Backend
func (s *Store) DeleteSnapshot(_ context.Context, ref volume.SnapshotRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpDeleteSnapshot); err != nil {
		return err
	}
	rec, ok := s.snapshots[ref]
	if !ok || rec.deleting > 0 {
		return opserr.New(opserr.ErrNotFound, "delete snapshot", ref.String(), nil)
	}
	if s.pendingReads > 0 {
		rec.deleting = s.pendingReads
	} else {
		delete(s.snapshots, ref)
	}
	return nil
}

// RevertToSnapshot implements Backend. Snapshots newer than the restore
// point are dropped.
func (s *Store) RevertToSnapshot(_ context.Context, ref volume.SnapshotRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpRevertToSnapshot); err != nil {
		return err
	}
	if !s.caps.InPlaceRevert {
		return opserr.New(opserr.ErrUnsupported, "revert volume", ref.Volume.String(), nil)
	}
	vol, ok := s.volumes[ref.Volume]
	if !ok {
		return opserr.New(opserr.ErrNotFound, "revert volume", ref.Volume.String(), nil)
	}
	target, ok := s.snapshots[ref]
	if !ok {
		return opserr.New(opserr.ErrNotFound, "revert volume", ref.String(), nil)
	}

	vol.content = target.content
	for snapRef, rec := range s.snapshots {
		if snapRef.Volume == ref.Volume && rec.seq > target.seq {
			delete(s.snapshots, snapRef)
		}
	}
	return nil
}

// SplitClone implements Backend
func (s *Store) SplitClone(_ context.Context, ref volume.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpSplitClone); err != nil {
		return err
	}
	if !s.caps.CloneSplit {
		return opserr.New(opserr.ErrUnsupported, "split clone", ref.String(), nil)
	}
	rec, ok := s.volumes[ref]
	if !ok {
		return opserr.New(opserr.ErrNotFound, "split clone", ref.String(), nil)
	}
	if !rec.vol.IsClone {
		return opserr.Newf(opserr.ErrValidation, "split clone", ref.String(), "volume is not a clone")
	}
	rec.vol.IsClone = false
	return nil
}

// VolumeExists implements provenance.Resolver
func (s *Store) VolumeExists(ctx context.Context, scope, name string) (bool, error) {
	_, err := s.GetVolume(ctx, volume.Ref{Scope: scope, Name: name})
	if opserr.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// SnapshotExists implements provenance.Resolver
func (s *Store) SnapshotExists(ctx context.Context, scope, vol, name string) (bool, error) {
	_, err := s.GetSnapshot(ctx, volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: vol}, Name: name})
	if opserr.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// CreateReplication implements orchestrator.Replicator
func (s *Store) CreateReplication(_ context.Context, spec volume.ReplicationSpec) (*volume.Replication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != volume.KindArray {
		return nil, opserr.New(opserr.ErrUnsupported, "create replication", spec.Source.String(), nil)
	}
	src, ok := s.volumes[spec.Source]
	if !ok {
		return nil, opserr.New(opserr.ErrNotFound, "create replication", spec.Source.String(), nil)
	}
	if _, ok := s.volumes[spec.Destination]; !ok {
		if !spec.CreateDestination {
			return nil, opserr.New(opserr.ErrNotFound, "create replication", spec.Destination.String(), nil)
		}
		s.volumes[spec.Destination] = &volumeRecord{vol: volume.Volume{
			Ref:       spec.Destination,
			SizeBytes: src.vol.SizeBytes,
			Size:      src.vol.Size,
			Status:    volume.StatusBound,
			UID:       s.nextUID(),
			CreatedAt: s.clock.Now(),
		}}
	}
	for _, rel := range s.replications {
		if rel.Destination == spec.Destination {
			return nil, opserr.New(opserr.ErrConflict, "create replication", spec.Destination.String(), nil)
		}
	}

	rel := &volume.Replication{
		UUID:        "rel-" + s.nextUID(),
		Source:      spec.Source,
		Destination: spec.Destination,
		Policy:      spec.Policy,
		State:       "snapmirrored",
		Healthy:     true,
	}
	s.replications[rel.UUID] = rel
	out := *rel
	return &out, nil
}

// GetReplication implements orchestrator.Replicator
func (s *Store) GetReplication(_ context.Context, uuid string) (*volume.Replication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.replications[uuid]
	if !ok {
		return nil, opserr.New(opserr.ErrNotFound, "get replication", uuid, nil)
	}
	out := *rel
	return &out, nil
}

// ListReplications implements orchestrator.Replicator
func (s *Store) ListReplications(_ context.Context, scope string) ([]volume.Replication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []volume.Replication
	for _, rel := range s.replications {
		if scope == "" || rel.Source.Scope == scope || rel.Destination.Scope == scope {
			result = append(result, *rel)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UUID < result[j].UUID })
	return result, nil
}

// StartTransfer implements orchestrator.Replicator
func (s *Store) StartTransfer(_ context.Context, uuid string) (*volume.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpStartTransfer); err != nil {
		return nil, err
	}
	if _, ok := s.replications[uuid]; !ok {
		return nil, opserr.New(opserr.ErrNotFound, "start transfer", uuid, nil)
	}
	rec := &transferRecord{
		transfer: volume.Transfer{UUID: "xfer-" + s.nextUID(), State: volume.TransferTransferring},
		pending:  s.pendingReads,
	}
	s.transfers[uuid+"/"+rec.transfer.UUID] = rec
	if rec.pending == 0 {
		s.finishTransfer(uuid, rec)
	}
	out := rec.transfer
	return &out, nil
}

// GetTransfer implements orchestrator.Replicator
func (s *Store) GetTransfer(_ context.Context, uuid, transferUUID string) (*volume.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.call(OpGetTransfer); err != nil {
		return nil, err
	}
	rec, ok := s.transfers[uuid+"/"+transferUUID]
	if !ok {
		return nil, opserr.New(opserr.ErrNotFound, "get transfer", transferUUID, nil)
	}
	if rec.pending > 0 {
		rec.pending--
		if rec.pending == 0 {
			s.finishTransfer(uuid, rec)
		}
	}
	out := rec.transfer
	return &out, nil
}

// finishTransfer applies the configured outcome. Callers hold s.mu.
func (s *Store) finishTransfer(uuid string, rec *transferRecord) {
	rec.transfer.State = s.transferOutcome
	rec.transfer.EndTime = s.clock.Now()
	rel := s.replications[uuid]
	if s.transferOutcome == volume.TransferSuccess {
		if src, ok := s.volumes[rel.Source]; ok {
			if dst, ok := s.volumes[rel.Destination]; ok {
				dst.content = src.content
				rec.transfer.Bytes = int64(len(src.content))
			}
		}
	} else {
		rec.transfer.ErrorMessage = "transfer " + s.transferOutcome
		rel.Healthy = false
	}
	last := rec.transfer
	rel.LastTransfer = &last
}
