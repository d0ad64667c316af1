package orchestrator

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/poll"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// ReplicationManager manages asynchronous replication relationships on
// backends implementing Replicator.
type ReplicationManager struct {
	*env
}

// ReplicationOptions controls CreateRelationship.
type ReplicationOptions struct {
	Policy   string
	Schedule string
	// CreateDestination provisions the destination volume on the backend.
	CreateDestination bool
	// Sync triggers and waits for the initial transfer.
	Sync bool
}

func (m *ReplicationManager) replicator(op string) (Replicator, error) {
	r, ok := m.backend.(Replicator)
	if !ok {
		return nil, opserr.Newf(opserr.ErrUnsupported, op, "", "%s backend does not support replication", m.backend.Kind())
	}
	return r, nil
}

// CreateRelationship creates a relationship from source to destination.
func (m *ReplicationManager) CreateRelationship(ctx context.Context, source, destination volume.Ref, opts ReplicationOptions) (*volume.Replication, error) {
	const op = "create replication"
	r, err := m.replicator(op)
	if err != nil {
		return nil, err
	}
	if err := volume.ValidateName(m.backend.Kind(), destination.Name); err != nil {
		return nil, err
	}
	if source == destination {
		return nil, opserr.Newf(opserr.ErrValidation, op, source.String(), "source and destination are the same volume")
	}

	parent := m.lookupVolume(ctx, source)
	switch parent.Outcome {
	case opserr.Absent:
		return nil, opserr.New(opserr.ErrNotFound, op, source.String(), parent.Err)
	case opserr.Failed:
		return nil, opserr.WithStep(op, source.String(), "get source volume", parent.Err)
	}

	rel, err := r.CreateReplication(ctx, volume.ReplicationSpec{
		Source:            source,
		Destination:       destination,
		Policy:            opts.Policy,
		Schedule:          opts.Schedule,
		CreateDestination: opts.CreateDestination,
	})
	if err != nil {
		return nil, opserr.WithStep(op, source.String(), "create", err)
	}
	klog.Infof("Replication %s created: %s -> %s", rel.UUID, source, destination)

	if opts.Sync {
		if err := m.Sync(ctx, rel.UUID, true); err != nil {
			return rel, err
		}
	}
	return rel, nil
}

// Get returns a relationship by UUID.
func (m *ReplicationManager) Get(ctx context.Context, uuid string) (*volume.Replication, error) {
	r, err := m.replicator("get replication")
	if err != nil {
		return nil, err
	}
	return r.GetReplication(ctx, uuid)
}

// List returns the relationships whose source or destination is in scope.
func (m *ReplicationManager) List(ctx context.Context, scope string) ([]volume.Replication, error) {
	r, err := m.replicator("list replications")
	if err != nil {
		return nil, err
	}
	return r.ListReplications(ctx, scope)
}

// Sync starts a transfer on a relationship. With wait it blocks until the
// transfer succeeds; a failed, aborted or unknown transfer state is
// opserr.ErrBackendState.
func (m *ReplicationManager) Sync(ctx context.Context, uuid string, wait bool) error {
	const op = "sync replication"
	r, err := m.replicator(op)
	if err != nil {
		return err
	}

	transfer, err := r.StartTransfer(ctx, uuid)
	if err != nil {
		return opserr.WithStep(op, uuid, "start transfer", err)
	}
	klog.Infof("Replication %s: transfer %s started", uuid, transfer.UUID)
	if !wait {
		return nil
	}

	err = m.poller.UntilReady(ctx, "transfer "+transfer.UUID, func(ctx context.Context) (poll.State, error) {
		t, err := r.GetTransfer(ctx, uuid, transfer.UUID)
		lookup := opserr.Classify(t, err)
		if lookup.Outcome == opserr.Absent {
			// A finished transfer may already have been pruned.
			rel, err := r.GetReplication(ctx, uuid)
			if err != nil {
				return poll.Pending, err
			}
			if rel.LastTransfer == nil {
				return poll.Pending, nil
			}
			lookup = opserr.Lookup[*volume.Transfer]{Outcome: opserr.Found, Value: rel.LastTransfer}
		}
		return poll.Observe(lookup, func(t *volume.Transfer) (bool, error) {
			return transferDone(uuid, t)
		})
	})
	if err != nil {
		return opserr.WithStep(op, uuid, "wait for transfer", err)
	}
	klog.Infof("Replication %s: transfer %s finished", uuid, transfer.UUID)
	return nil
}

func transferDone(uuid string, t *volume.Transfer) (bool, error) {
	switch t.State {
	case volume.TransferSuccess, volume.TransferIdle:
		return true, nil
	case volume.TransferQueued, volume.TransferPreparing, volume.TransferTransferring, volume.TransferFinalizing, "":
		return false, nil
	case volume.TransferFailed, volume.TransferAborted, volume.TransferHardAborted:
		return false, opserr.Newf(opserr.ErrBackendState, "sync replication", uuid,
			"transfer %s %s: %s", t.UUID, t.State, t.ErrorMessage)
	}
	return false, opserr.Newf(opserr.ErrBackendState, "sync replication", uuid,
		"transfer %s in unknown state %q", t.UUID, t.State)
}
