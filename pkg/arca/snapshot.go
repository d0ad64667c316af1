package arca

import (
	"context"
	"net/http"
	"net/url"
)

// CreateSnapshot creates a snapshot of a volume
func (c *Client) CreateSnapshot(ctx context.Context, svmName, volumeName string, req *CreateSnapshotRequest) (*Snapshot, error) {
	var snap Snapshot
	path := "/v1/volumes" + escape(svmName, volumeName, "snapshots")
	if err := c.getData(ctx, http.MethodPost, path, req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetSnapshot retrieves a snapshot by name
func (c *Client) GetSnapshot(ctx context.Context, svmName, volumeName, name string) (*Snapshot, error) {
	var snap Snapshot
	path := "/v1/volumes" + escape(svmName, volumeName, "snapshots", name)
	if err := c.getData(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshots lists the snapshots of a volume
func (c *Client) ListSnapshots(ctx context.Context, svmName, volumeName string) ([]Snapshot, error) {
	var snaps []Snapshot
	path := "/v1/volumes" + escape(svmName, volumeName, "snapshots")
	if err := c.getData(ctx, http.MethodGet, path, nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// ListSVMSnapshots lists the snapshots of every volume in an SVM
func (c *Client) ListSVMSnapshots(ctx context.Context, svmName string) ([]Snapshot, error) {
	params := url.Values{}
	params.Set("svm", svmName)

	var snaps []Snapshot
	if err := c.getData(ctx, http.MethodGet, "/v1/snapshots", nil, &snaps, params); err != nil {
		return nil, err
	}
	return snaps, nil
}

// DeleteSnapshot deletes a snapshot. A snapshot backing a clone fails with
// ErrResourceBusy.
func (c *Client) DeleteSnapshot(ctx context.Context, svmName, volumeName, name string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/volumes"+escape(svmName, volumeName, "snapshots", name), nil)
	return err
}
