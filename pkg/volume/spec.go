package volume

import (
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/provenance"
)

// Style is the array volume layout.
type Style string

const (
	// StyleFlexVol is a volume served by a single node.
	StyleFlexVol Style = "flexvol"
	// StyleFlexGroup is a volume distributed across nodes.
	StyleFlexGroup Style = "flexgroup"
)

// arrayName matches array volume and snapshot names
var arrayName = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_.-]{0,201}[A-Za-z0-9_])?$`)

// Spec describes a volume to create. Only the options of the target backend
// kind may be set.
type Spec struct {
	Ref  Ref
	Size string

	// SourceSnapshot, when set, makes the backend populate the volume from it.
	SourceSnapshot *SnapshotRef
	Lineage        provenance.Lineage

	// Claim options.
	StorageClass string
	AccessMode   string

	// Array options.
	Style           Style
	Aggregates      []string
	ExportPolicy    string
	ExportHosts     []string
	SnapshotPolicy  string
	SnapshotReserve *int32
	UnixUID         string
	UnixGID         string
	UnixPermissions string
	JunctionPath    string
}

// Validate checks the spec for the given backend kind without contacting it.
func (s *Spec) Validate(kind Kind) error {
	op := "validate volume"
	if err := ValidateName(kind, s.Ref.Name); err != nil {
		return err
	}
	if s.Size == "" && s.SourceSnapshot == nil {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(), "size is required")
	}
	if s.Size != "" {
		if _, err := s.SizeBytes(kind); err != nil {
			return err
		}
	}
	if s.SourceSnapshot != nil && s.SourceSnapshot.Name == "" {
		return opserr.Newf(opserr.ErrInvalidSnapshotParameter, op, s.Ref.String(), "source snapshot name is empty")
	}
	if s.Lineage.Operation != "" && !s.Lineage.Operation.Valid() {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(), "unknown lineage operation %q", s.Lineage.Operation)
	}

	switch kind {
	case KindClaim:
		return s.validateClaim()
	case KindArray:
		return s.validateArray()
	}
	return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(), "unknown backend kind %q", kind)
}

func (s *Spec) validateClaim() error {
	op := "validate volume"
	switch corev1.PersistentVolumeAccessMode(s.AccessMode) {
	case "", corev1.ReadWriteOnce, corev1.ReadOnlyMany, corev1.ReadWriteMany, corev1.ReadWriteOncePod:
	default:
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(), "unknown access mode %q", s.AccessMode)
	}

	var arrayOnly []string
	if s.Style != "" {
		arrayOnly = append(arrayOnly, "style")
	}
	if len(s.Aggregates) > 0 {
		arrayOnly = append(arrayOnly, "aggregates")
	}
	if s.ExportPolicy != "" || len(s.ExportHosts) > 0 {
		arrayOnly = append(arrayOnly, "export")
	}
	if s.SnapshotPolicy != "" || s.SnapshotReserve != nil {
		arrayOnly = append(arrayOnly, "snapshot policy")
	}
	if s.UnixUID != "" || s.UnixGID != "" || s.UnixPermissions != "" {
		arrayOnly = append(arrayOnly, "unix ownership")
	}
	if s.JunctionPath != "" {
		arrayOnly = append(arrayOnly, "junction path")
	}
	if len(arrayOnly) > 0 {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"options not supported by the claim backend: %s", strings.Join(arrayOnly, ", "))
	}
	return nil
}

func (s *Spec) validateArray() error {
	op := "validate volume"
	switch s.Style {
	case "", StyleFlexVol, StyleFlexGroup:
	default:
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(), "unknown volume style %q", s.Style)
	}
	if s.StorageClass != "" || s.AccessMode != "" {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"storage class and access mode are not supported by the array backend")
	}
	if s.ExportPolicy != "" && len(s.ExportHosts) > 0 {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"export policy and export hosts are mutually exclusive")
	}
	if s.Style == StyleFlexVol && len(s.Aggregates) > 1 {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"a flexvol volume takes at most one aggregate, got %d", len(s.Aggregates))
	}
	if s.SnapshotReserve != nil && (*s.SnapshotReserve < 0 || *s.SnapshotReserve > 90) {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"snapshot reserve must be between 0 and 90 percent, got %d", *s.SnapshotReserve)
	}
	if s.UnixUID != "" {
		if err := ValidateUnixID("uid", s.UnixUID); err != nil {
			return err
		}
	}
	if s.UnixGID != "" {
		if err := ValidateUnixID("gid", s.UnixGID); err != nil {
			return err
		}
	}
	if s.UnixPermissions != "" {
		if err := ValidatePermissions(s.UnixPermissions); err != nil {
			return err
		}
	}
	if s.JunctionPath != "" && !strings.HasPrefix(s.JunctionPath, "/") {
		return opserr.Newf(opserr.ErrValidation, op, s.Ref.String(),
			"junction path must be absolute, got %q", s.JunctionPath)
	}
	return nil
}

// SizeBytes parses Size according to the backend's size grammar.
func (s *Spec) SizeBytes(kind Kind) (int64, error) {
	if kind == KindClaim {
		q, err := ParseClaimSize(s.Size)
		if err != nil {
			return 0, err
		}
		return q.Value(), nil
	}
	return ParseArraySize(s.Size)
}

// ValidateName checks a volume name for the given backend kind.
func ValidateName(kind Kind, name string) error {
	return validateObjectName(kind, "volume", name)
}

// ValidateSnapshotName checks a snapshot name for the given backend kind.
func ValidateSnapshotName(kind Kind, name string) error {
	return validateObjectName(kind, "snapshot", name)
}

func validateObjectName(kind Kind, what, name string) error {
	op := "validate " + what + " name"
	if name == "" {
		return opserr.Newf(opserr.ErrValidation, op, name, "%s name is required", what)
	}
	if kind == KindClaim {
		if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
			return opserr.Newf(opserr.ErrValidation, op, name, "invalid %s name: %s", what, strings.Join(errs, "; "))
		}
		return nil
	}
	if !arrayName.MatchString(name) {
		return opserr.Newf(opserr.ErrValidation, op, name,
			"invalid %s name %q: use letters, digits, '_', '.' and '-'", what, name)
	}
	return nil
}
