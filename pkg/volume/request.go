package volume

import "time"

// Capabilities describes optional backend behavior.
type Capabilities struct {
	// InPlaceRevert means the backend can revert a volume to a snapshot in a
	// single call, invalidating newer snapshots.
	InPlaceRevert bool
	// CloneSplit means the backend can detach a clone from its parent.
	CloneSplit bool
	// SnapshotsOutliveVolume means deleting a volume leaves its snapshots behind.
	SnapshotsOutliveVolume bool
}

// SnapshotSpec describes a snapshot to create.
type SnapshotSpec struct {
	Ref              SnapshotRef
	ReplicationLabel string
	// SnapshotClass selects the claim backend snapshot class.
	SnapshotClass string
}

// ReplicationSpec describes an asynchronous replication relationship.
type ReplicationSpec struct {
	Source      Ref
	Destination Ref
	Policy      string
	Schedule    string
	// CreateDestination asks the backend to provision the destination volume.
	CreateDestination bool
}

// Replication is an asynchronous replication relationship.
type Replication struct {
	UUID        string
	Source      Ref
	Destination Ref
	Policy      string
	State       string
	Healthy     bool

	LastTransfer *Transfer
}

// Transfer states reported by the array.
const (
	TransferQueued       = "queued"
	TransferPreparing    = "preparing"
	TransferTransferring = "transferring"
	TransferFinalizing   = "finalizing"
	TransferSuccess      = "success"
	TransferIdle         = "idle"
	TransferFailed       = "failed"
	TransferAborted      = "aborted"
	TransferHardAborted  = "hard_aborted"
)

// Transfer is one replication transfer.
type Transfer struct {
	UUID         string
	State        string
	Bytes        int64
	ErrorMessage string
	EndTime      time.Time
}
