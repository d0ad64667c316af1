package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

func TestParseArraySize(t *testing.T) {
	tests := []struct {
		size    string
		want    int64
		wantErr bool
	}{
		{size: "10GB", want: 10 * 1024 * 1024 * 1024},
		{size: "800MB", want: 800 * 1024 * 1024},
		{size: "1TB", want: 1024 * 1024 * 1024 * 1024},
		{size: "1.5TB", want: 1536 * 1024 * 1024 * 1024},
		{size: "10Gi", wantErr: true},
		{size: "10", wantErr: true},
		{size: "GB", wantErr: true},
		{size: "-1GB", wantErr: true},
		{size: "0GB", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.size, func(t *testing.T) {
			got, err := ParseArraySize(test.size)
			if test.wantErr {
				assert.True(t, opserr.IsValidation(err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestParseClaimSize(t *testing.T) {
	q, err := ParseClaimSize("10Gi")
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024*1024), q.Value())
	assert.Equal(t, "10Gi", q.String())

	for _, size := range []string{"10GB", "", "0", "-5Gi"} {
		_, err := ParseClaimSize(size)
		assert.True(t, opserr.IsValidation(err), size)
	}
}

func TestPrettySize(t *testing.T) {
	assert.Equal(t, "10GiB", PrettySize(10*1024*1024*1024))
	assert.Equal(t, "800MiB", PrettySize(800*1024*1024))
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		spec    Spec
		wantErr error
	}{
		{
			name: "array minimal",
			kind: KindArray,
			spec: Spec{Ref: Ref{Scope: "svm0", Name: "project1"}, Size: "10GB"},
		},
		{
			name: "array full",
			kind: KindArray,
			spec: Spec{
				Ref:             Ref{Scope: "svm0", Name: "project1"},
				Size:            "1TB",
				Style:           StyleFlexGroup,
				Aggregates:      []string{"aggr1", "aggr2"},
				ExportHosts:     []string{"10.0.0.0/24"},
				SnapshotPolicy:  "default",
				SnapshotReserve: ptr.To[int32](5),
				UnixUID:         "1000",
				UnixGID:         "1000",
				UnixPermissions: "0755",
				JunctionPath:    "/project1",
			},
		},
		{
			name:    "array claim size",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10Gi"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "export policy and hosts",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", ExportPolicy: "default", ExportHosts: []string{"host1"}},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "bad uid",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", UnixUID: "root"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "bad gid",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", UnixGID: "-1"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "bad permissions",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", UnixPermissions: "rwxr-xr-x"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "flexvol with two aggregates",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", Style: StyleFlexVol, Aggregates: []string{"a", "b"}},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "unknown style",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, Size: "10GB", Style: "stripe"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "missing size",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}},
			wantErr: opserr.ErrValidation,
		},
		{
			name: "size inherited from snapshot",
			kind: KindArray,
			spec: Spec{Ref: Ref{Name: "v"}, SourceSnapshot: &SnapshotRef{Volume: Ref{Name: "p"}, Name: "s"}},
		},
		{
			name:    "empty source snapshot name",
			kind:    KindArray,
			spec:    Spec{Ref: Ref{Name: "v"}, SourceSnapshot: &SnapshotRef{Volume: Ref{Name: "p"}}},
			wantErr: opserr.ErrInvalidSnapshotParameter,
		},
		{
			name: "claim minimal",
			kind: KindClaim,
			spec: Spec{Ref: Ref{Scope: "default", Name: "project1"}, Size: "10Gi", AccessMode: "ReadWriteOnce"},
		},
		{
			name:    "claim array size",
			kind:    KindClaim,
			spec:    Spec{Ref: Ref{Name: "project1"}, Size: "10GB"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "claim uppercase name",
			kind:    KindClaim,
			spec:    Spec{Ref: Ref{Name: "Project1"}, Size: "10Gi"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "claim with array options",
			kind:    KindClaim,
			spec:    Spec{Ref: Ref{Name: "project1"}, Size: "10Gi", UnixUID: "0"},
			wantErr: opserr.ErrValidation,
		},
		{
			name:    "claim unknown access mode",
			kind:    KindClaim,
			spec:    Spec{Ref: Ref{Name: "project1"}, Size: "10Gi", AccessMode: "ReadWriteSometimes"},
			wantErr: opserr.ErrValidation,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.spec.Validate(test.kind)
			if test.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, test.wantErr)
		})
	}
}

func TestValidateSnapshotName(t *testing.T) {
	assert.NoError(t, ValidateSnapshotName(KindClaim, "dataops.20240101120000000000"))
	assert.NoError(t, ValidateSnapshotName(KindArray, "daily.20240101120000000000"))
	assert.Error(t, ValidateSnapshotName(KindArray, "bad name"))
	assert.Error(t, ValidateSnapshotName(KindClaim, ""))
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "svm0/project1", Ref{Scope: "svm0", Name: "project1"}.String())
	assert.Equal(t, "project1", Ref{Name: "project1"}.String())
	assert.Equal(t, "svm0/project1@snap1", SnapshotRef{Volume: Ref{Scope: "svm0", Name: "project1"}, Name: "snap1"}.String())
}
