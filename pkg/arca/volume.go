package arca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateVolume creates a volume, or a clone when req.Clone is set
func (c *Client) CreateVolume(ctx context.Context, req *CreateVolumeRequest) (*Volume, error) {
	var vol Volume
	if err := c.getData(ctx, http.MethodPost, "/v1/volumes", req, &vol); err != nil {
		return nil, err
	}
	return &vol, nil
}

// GetVolume retrieves a volume by SVM and name
func (c *Client) GetVolume(ctx context.Context, svmName, name string) (*Volume, error) {
	var vol Volume
	if err := c.getData(ctx, http.MethodGet, "/v1/volumes"+escape(svmName, name), nil, &vol); err != nil {
		return nil, err
	}
	return &vol, nil
}

// ListVolumes lists the volumes of an SVM
func (c *Client) ListVolumes(ctx context.Context, svmName string) ([]Volume, error) {
	params := url.Values{}
	params.Set("svm", svmName)

	var vols []Volume
	if err := c.getData(ctx, http.MethodGet, "/v1/volumes", nil, &vols, params); err != nil {
		return nil, err
	}
	return vols, nil
}

// PatchVolume applies a partial update to a volume
func (c *Client) PatchVolume(ctx context.Context, svmName, name string, req *PatchVolumeRequest) error {
	_, err := c.doRequest(ctx, http.MethodPatch, "/v1/volumes"+escape(svmName, name), req)
	if err != nil {
		return fmt.Errorf("failed to update volume %s/%s: %w", svmName, name, err)
	}
	return nil
}

// DeleteVolume deletes a volume. Unlike the export policy calls it is not
// idempotent: a missing volume returns ErrVolumeNotFound.
func (c *Client) DeleteVolume(ctx context.Context, svmName, name string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/volumes"+escape(svmName, name), nil)
	return err
}
