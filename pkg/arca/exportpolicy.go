package arca

import (
	"context"
	"errors"
	"net/http"
)

// CreateExportPolicy creates an export policy (idempotent)
func (c *Client) CreateExportPolicy(ctx context.Context, policy *ExportPolicy) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/export-policies", policy)
	if err != nil {
		if errors.Is(err, ErrExportPolicyAlreadyExists) {
			return nil // Idempotent
		}
		return err
	}
	return nil
}

// GetExportPolicy retrieves an export policy by SVM and name
func (c *Client) GetExportPolicy(ctx context.Context, svmName, name string) (*ExportPolicy, error) {
	var policy ExportPolicy
	if err := c.getData(ctx, http.MethodGet, "/v1/export-policies"+escape(svmName, name), nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// DeleteExportPolicy deletes an export policy (idempotent)
func (c *Client) DeleteExportPolicy(ctx context.Context, svmName, name string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/export-policies"+escape(svmName, name), nil)
	if err != nil {
		if errors.Is(err, ErrExportPolicyNotFound) {
			return nil // Idempotent
		}
		return err
	}
	return nil
}
