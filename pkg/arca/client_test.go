package arca

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(&ClientConfig{})
	assert.Error(t, err)

	c, err := NewClient(&ClientConfig{BaseURL: "https://arca.example"})
	require.NoError(t, err)
	assert.Equal(t, 3, c.retryCount)
	assert.Positive(t, c.timeout)
}

func TestClientRetriesServerErrors(t *testing.T) {
	f := newFakeArray(t)
	c := f.client(t)
	ctx := context.Background()

	_, err := c.CreateVolume(ctx, &CreateVolumeRequest{SVM: "svm0", Name: "vol1", Size: 1 << 30})
	require.NoError(t, err)

	f.failNext(http.MethodGet, "/v1/volumes/svm0/vol1", http.StatusInternalServerError, "internal error", 2)
	vol, err := c.GetVolume(ctx, "svm0", "vol1")
	require.NoError(t, err)
	assert.Equal(t, "vol1", vol.Name)
	assert.Equal(t, 3, f.hitCount(http.MethodGet, "/v1/volumes/svm0/vol1"))
	assert.Equal(t, "Bearer secret", f.authHeader)
}

func TestClientRetryExhausted(t *testing.T) {
	f := newFakeArray(t)
	c := f.client(t)

	f.failNext(http.MethodGet, "/v1/volumes/svm0/vol1", http.StatusServiceUnavailable, "maintenance", 5)
	_, err := c.GetVolume(context.Background(), "svm0", "vol1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, f.hitCount(http.MethodGet, "/v1/volumes/svm0/vol1"))
}

func TestClientRetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantHits int
	}{
		{name: "bad request", status: http.StatusBadRequest, wantHits: 1},
		{name: "not found", status: http.StatusNotFound, wantHits: 1},
		{name: "conflict", status: http.StatusConflict, wantHits: 1},
		{name: "request timeout", status: http.StatusRequestTimeout, wantHits: 3},
		{name: "rate limited", status: http.StatusTooManyRequests, wantHits: 3},
		{name: "bad gateway", status: http.StatusBadGateway, wantHits: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeArray(t)
			c := f.client(t)
			f.failNext(http.MethodGet, "/v1/svms/svm0", tt.status, "failed", 10)

			_, err := c.GetSVM(context.Background(), "svm0")
			require.Error(t, err)
			assert.Equal(t, tt.wantHits, f.hitCount(http.MethodGet, "/v1/svms/svm0"))
		})
	}
}

func TestMapHTTPStatusToError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    error
	}{
		{name: "volume not found", status: 404, message: "volume not found", want: ErrVolumeNotFound},
		{name: "snapshot not found", status: 404, message: "Snapshot daily of volume v1 not found", want: ErrSnapshotNotFound},
		{name: "relationship not found", status: 404, message: "relationship not found", want: ErrReplicationNotFound},
		{name: "policy not found", status: 404, message: "export policy not found", want: ErrExportPolicyNotFound},
		{name: "svm not found", status: 404, message: "SVM not found", want: ErrSVMNotFound},
		{name: "snapshot busy", status: 409, message: "snapshot is in use by a clone", want: ErrResourceBusy},
		{name: "snapshot exists", status: 409, message: "snapshot already exists", want: ErrSnapshotAlreadyExists},
		{name: "policy exists", status: 409, message: "export policy already exists", want: ErrExportPolicyAlreadyExists},
		{name: "volume exists", status: 409, message: "duplicate name", want: ErrVolumeAlreadyExists},
		{name: "unavailable", status: 503, message: "down", want: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPStatusToError(tt.status, tt.message)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}

	err := MapHTTPStatusToError(http.StatusInternalServerError, "boom")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Nil(t, apiErr.Err)
	assert.Contains(t, err.Error(), "boom")
}

func TestToOpsError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: MapHTTPStatusToError(404, "volume not found"), want: opserr.ErrNotFound},
		{name: "exists", err: MapHTTPStatusToError(409, "volume already exists"), want: opserr.ErrConflict},
		{name: "busy", err: MapHTTPStatusToError(409, "busy"), want: opserr.ErrConflict},
		{name: "bad request", err: MapHTTPStatusToError(400, "bad size"), want: opserr.ErrValidation},
		{name: "unprocessable", err: MapHTTPStatusToError(422, "bad style"), want: opserr.ErrValidation},
		{name: "server error", err: MapHTTPStatusToError(500, "boom"), want: opserr.ErrConnection},
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: opserr.ErrConnection},
		{name: "deadline", err: context.DeadlineExceeded, want: opserr.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toOpsError("get volume", "svm0/vol1", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, toOpsError("get volume", "svm0/vol1", nil))
	assert.Nil(t, opserr.KindOf(toOpsError("get volume", "svm0/vol1", context.Canceled)))
}

func TestRunCLI(t *testing.T) {
	f := newFakeArray(t)
	c := f.client(t)

	out, err := c.RunCLI(context.Background(), "  volume show -vserver svm0 ")
	require.NoError(t, err)
	assert.Equal(t, "ran: volume show -vserver svm0", out)

	_, err = c.RunCLI(context.Background(), " ")
	assert.Error(t, err)
}

func TestGetSVM(t *testing.T) {
	f := newFakeArray(t)
	c := f.client(t)

	svm, err := c.GetSVM(context.Background(), "svm0")
	require.NoError(t, err)
	assert.Equal(t, "svm-uuid", svm.UUID)

	_, err = c.GetSVM(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSVMNotFound)
}

func TestExportPolicyIdempotent(t *testing.T) {
	f := newFakeArray(t)
	c := f.client(t)
	ctx := context.Background()

	policy := &ExportPolicy{Name: "p1", SVM: "svm0"}
	require.NoError(t, c.CreateExportPolicy(ctx, policy))
	require.NoError(t, c.CreateExportPolicy(ctx, policy))
	require.NoError(t, c.DeleteExportPolicy(ctx, "svm0", "p1"))
	require.NoError(t, c.DeleteExportPolicy(ctx, "svm0", "p1"))
}
