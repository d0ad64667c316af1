package arca

import (
	"context"
	"net/http"
	"net/url"
)

// CreateReplication creates a replication relationship
func (c *Client) CreateReplication(ctx context.Context, req *CreateReplicationRequest) (*Replication, error) {
	var rel Replication
	if err := c.getData(ctx, http.MethodPost, "/v1/replications", req, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// GetReplication retrieves a replication relationship by UUID
func (c *Client) GetReplication(ctx context.Context, uuid string) (*Replication, error) {
	var rel Replication
	if err := c.getData(ctx, http.MethodGet, "/v1/replications"+escape(uuid), nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ListReplications lists the relationships whose destination is in an SVM
func (c *Client) ListReplications(ctx context.Context, svmName string) ([]Replication, error) {
	params := url.Values{}
	params.Set("destination_svm", svmName)

	var rels []Replication
	if err := c.getData(ctx, http.MethodGet, "/v1/replications", nil, &rels, params); err != nil {
		return nil, err
	}
	return rels, nil
}

// StartTransfer starts an update transfer on a relationship
func (c *Client) StartTransfer(ctx context.Context, uuid string) (*Transfer, error) {
	var transfer Transfer
	if err := c.getData(ctx, http.MethodPost, "/v1/replications"+escape(uuid, "transfers"), struct{}{}, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// GetTransfer retrieves a transfer of a relationship
func (c *Client) GetTransfer(ctx context.Context, uuid, transferUUID string) (*Transfer, error) {
	var transfer Transfer
	if err := c.getData(ctx, http.MethodGet, "/v1/replications"+escape(uuid, "transfers", transferUUID), nil, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}
