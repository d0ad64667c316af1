package arca

import "time"

// Volume states reported by the array
const (
	VolumeStateOnline   = "online"
	VolumeStateCreating = "creating"
	VolumeStateOffline  = "offline"
	VolumeStateError    = "error"
)

// Snapshot states reported by the array
const (
	SnapshotStateValid    = "valid"
	SnapshotStateCreating = "creating"
	SnapshotStateInvalid  = "invalid"
)

// SVM represents an ARCA Storage Virtual Machine
type SVM struct {
	Name      string    `json:"name"`
	UUID      string    `json:"uuid"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Volume represents an array volume
type Volume struct {
	UUID            string     `json:"uuid"`
	Name            string     `json:"name"`
	SVM             string     `json:"svm"`
	Size            int64      `json:"size"`
	Style           string     `json:"style"`
	Aggregates      []string   `json:"aggregates,omitempty"`
	State           string     `json:"state"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	ExportPolicy    string     `json:"export_policy,omitempty"`
	SnapshotPolicy  string     `json:"snapshot_policy,omitempty"`
	SnapshotReserve *int32     `json:"snapshot_reserve_percent,omitempty"`
	JunctionPath    string     `json:"junction_path,omitempty"`
	Clone           *CloneInfo `json:"clone,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CloneInfo describes the parent of a cloned volume
type CloneInfo struct {
	IsClone        bool   `json:"is_flexclone"`
	ParentSVM      string `json:"parent_svm,omitempty"`
	ParentVolume   string `json:"parent_volume,omitempty"`
	ParentSnapshot string `json:"parent_snapshot,omitempty"`
	SplitInitiated bool   `json:"split_initiated,omitempty"`
}

// CreateVolumeRequest represents a request to create a volume or a clone
type CreateVolumeRequest struct {
	SVM             string        `json:"svm"`
	Name            string        `json:"name"`
	Size            int64         `json:"size,omitempty"`
	Style           string        `json:"style,omitempty"`
	Aggregates      []string      `json:"aggregates,omitempty"`
	Comment         string        `json:"comment,omitempty"`
	ExportPolicy    string        `json:"export_policy,omitempty"`
	SnapshotPolicy  string        `json:"snapshot_policy,omitempty"`
	SnapshotReserve *int32        `json:"snapshot_reserve_percent,omitempty"`
	UnixUID         *int64        `json:"unix_uid,omitempty"`
	UnixGID         *int64        `json:"unix_gid,omitempty"`
	UnixPermissions string        `json:"unix_permissions,omitempty"`
	JunctionPath    string        `json:"junction_path,omitempty"`
	Clone           *CloneRequest `json:"clone,omitempty"`
}

// CloneRequest names the parent snapshot of a clone
type CloneRequest struct {
	ParentSVM      string `json:"parent_svm"`
	ParentVolume   string `json:"parent_volume"`
	ParentSnapshot string `json:"parent_snapshot"`
}

// PatchVolumeRequest represents a partial volume update
type PatchVolumeRequest struct {
	RestoreToSnapshot string  `json:"restore_to_snapshot,omitempty"`
	SplitClone        bool    `json:"clone_split_initiated,omitempty"`
	Comment           *string `json:"comment,omitempty"`
}

// Snapshot represents a volume snapshot on the array
type Snapshot struct {
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	SVM             string    `json:"svm"`
	Volume          string    `json:"volume"`
	State           string    `json:"state"`
	Size            int64     `json:"size"`
	SnapMirrorLabel string    `json:"snapmirror_label,omitempty"`
	CreatedAt       time.Time `json:"create_time"`
}

// CreateSnapshotRequest represents a request to create a snapshot
type CreateSnapshotRequest struct {
	Name            string `json:"name"`
	SnapMirrorLabel string `json:"snapmirror_label,omitempty"`
}

// ExportPolicy represents an NFS export policy
type ExportPolicy struct {
	Name  string       `json:"name"`
	SVM   string       `json:"svm"`
	Rules []ExportRule `json:"rules,omitempty"`
}

// ExportRule grants a set of clients access to a volume
type ExportRule struct {
	Clients   []string `json:"clients"`
	Protocols []string `json:"protocols,omitempty"`
	RORule    []string `json:"ro_rule,omitempty"`
	RWRule    []string `json:"rw_rule,omitempty"`
	Superuser []string `json:"superuser,omitempty"`
}

// Endpoint is one side of a replication relationship
type Endpoint struct {
	SVM    string `json:"svm"`
	Volume string `json:"volume"`
}

// Replication represents a volume replication relationship
type Replication struct {
	UUID         string    `json:"uuid"`
	Source       Endpoint  `json:"source"`
	Destination  Endpoint  `json:"destination"`
	Policy       string    `json:"policy,omitempty"`
	State        string    `json:"state"`
	Healthy      bool      `json:"healthy"`
	LastTransfer *Transfer `json:"transfer,omitempty"`
}

// CreateReplicationRequest represents a request to create a replication relationship
type CreateReplicationRequest struct {
	Source            Endpoint `json:"source"`
	Destination       Endpoint `json:"destination"`
	Policy            string   `json:"policy,omitempty"`
	Schedule          string   `json:"schedule,omitempty"`
	CreateDestination bool     `json:"create_destination,omitempty"`
}

// Transfer represents one replication transfer
type Transfer struct {
	UUID             string     `json:"uuid"`
	State            string     `json:"state"`
	BytesTransferred int64      `json:"bytes_transferred"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}

// CLIRequest represents a passthrough CLI command
type CLIRequest struct {
	Command string `json:"command"`
}

// CLIResponse holds the output of a passthrough CLI command
type CLIResponse struct {
	Output string `json:"output"`
}

// APIResponse represents a generic API response wrapper
type APIResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}
