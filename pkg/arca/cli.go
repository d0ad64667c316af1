package arca

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// RunCLI runs an array CLI command through the REST passthrough endpoint
// and returns its output.
func (c *Client) RunCLI(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("cli command is required")
	}

	var resp CLIResponse
	if err := c.getData(ctx, http.MethodPost, "/v1/cli", &CLIRequest{Command: command}, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}
