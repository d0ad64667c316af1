package volume

import (
	"regexp"
	"strconv"

	"github.com/docker/go-units"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

// arraySize accepts sizes such as "800MB", "10GB", "1.5TB". Units are binary.
var arraySize = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(MB|GB|TB|PB)$`)

// ParseArraySize converts an array size string to bytes, e.g. "10GB" -> 10*1024^3.
func ParseArraySize(size string) (int64, error) {
	if !arraySize.MatchString(size) {
		return 0, opserr.Newf(opserr.ErrValidation, "parse size", size,
			"invalid size %q: expected a number followed by MB, GB, TB or PB", size)
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, opserr.New(opserr.ErrValidation, "parse size", size, err)
	}
	if n <= 0 {
		return 0, opserr.Newf(opserr.ErrValidation, "parse size", size, "size must be positive")
	}
	return n, nil
}

// ParseClaimSize parses a Kubernetes quantity such as "10Gi".
func ParseClaimSize(size string) (resource.Quantity, error) {
	q, err := resource.ParseQuantity(size)
	if err != nil {
		return resource.Quantity{}, opserr.Newf(opserr.ErrValidation, "parse size", size,
			"invalid size %q: %v", size, err)
	}
	if q.Sign() <= 0 {
		return resource.Quantity{}, opserr.Newf(opserr.ErrValidation, "parse size", size, "size must be positive")
	}
	return q, nil
}

// PrettySize renders bytes in binary units, e.g. 10737418240 -> "10GiB".
func PrettySize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

var permissions = regexp.MustCompile(`^[0-7]{3,4}$`)

// ValidateUnixID checks a uid or gid string.
func ValidateUnixID(field, id string) error {
	if _, err := strconv.ParseUint(id, 10, 32); err != nil {
		return opserr.Newf(opserr.ErrValidation, "validate "+field, id, "%s must be a non-negative integer, got %q", field, id)
	}
	return nil
}

// ValidatePermissions checks an octal unix permission string such as "0755".
func ValidatePermissions(perm string) error {
	if !permissions.MatchString(perm) {
		return opserr.Newf(opserr.ErrValidation, "validate permissions", perm,
			"unix permissions must be 3 or 4 octal digits, got %q", perm)
	}
	return nil
}
