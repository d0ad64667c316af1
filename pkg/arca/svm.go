package arca

import (
	"context"
	"net/http"
)

// GetSVM retrieves SVM information
func (c *Client) GetSVM(ctx context.Context, name string) (*SVM, error) {
	var svm SVM
	if err := c.getData(ctx, http.MethodGet, "/v1/svms"+escape(name), nil, &svm); err != nil {
		return nil, err
	}
	return &svm, nil
}
