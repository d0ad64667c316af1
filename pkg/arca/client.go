package arca

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// Client is an ARCA array management REST API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	retryCount   int
	retryBackoff time.Duration
	authToken    string
}

// ClientConfig holds configuration for the ARCA client
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	// RetryBackoff is the first retry delay; it doubles on every attempt.
	RetryBackoff time.Duration
	AuthToken    string
	TLSConfig    *TLSConfig
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
	InsecureSkip   bool
}

// NewClient creates a new ARCA API client
func NewClient(config *ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("arca base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid arca base URL: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryCount == 0 {
		config.RetryCount = 3
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
	}

	// Configure TLS if provided
	if config.TLSConfig != nil {
		tlsConfig, err := buildTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   httpClient,
		timeout:      config.Timeout,
		retryCount:   config.RetryCount,
		retryBackoff: config.RetryBackoff,
		authToken:    config.AuthToken,
	}, nil
}

// buildTLSConfig builds TLS configuration from file paths
func buildTLSConfig(config *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.InsecureSkip,
	}

	// Load CA certificate
	if config.CACertPath != "" {
		caCert, err := os.ReadFile(config.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Load client certificate and key
	if config.ClientCertPath != "" && config.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCertPath, config.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// doRequest performs HTTP request with exponential backoff retry
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, queryParams ...url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff << uint(attempt-1)
			klog.V(4).Infof("Retrying %s %s (attempt %d/%d) after %v", method, path, attempt+1, c.retryCount+1, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequestOnce(ctx, method, path, body, queryParams...)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry on certain errors
		if isNonRetryableError(err) || ctx.Err() != nil {
			klog.V(4).Infof("Non-retryable error: %v", err)
			return nil, err
		}

		klog.V(4).Infof("Request failed (attempt %d/%d): %v", attempt+1, c.retryCount+1, err)
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryCount+1, lastErr)
}

// doRequestOnce performs a single HTTP request
func (c *Client) doRequestOnce(ctx context.Context, method, path string, body interface{}, queryParams ...url.Values) ([]byte, error) {
	// Build URL
	reqURL := c.baseURL + path
	if len(queryParams) > 0 && queryParams[0] != nil {
		reqURL += "?" + queryParams[0].Encode()
	}

	// Marshal body
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	// Execute request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Check status code
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Try to parse error message from response
		var apiResp APIResponse
		if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.Error != "" {
			return nil, MapHTTPStatusToError(resp.StatusCode, apiResp.Error)
		}
		return nil, MapHTTPStatusToError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// isNonRetryableError checks if an error should not be retried
func isNonRetryableError(err error) bool {
	// Don't retry on 4xx errors except 408 (timeout) and 429 (rate limit)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode != http.StatusRequestTimeout && apiErr.StatusCode != http.StatusTooManyRequests
		}
	}

	return IsNotFoundError(err) || IsAlreadyExistsError(err) || errors.Is(err, ErrResourceBusy)
}

// getData performs a request and decodes the "data" field of the response
func (c *Client) getData(ctx context.Context, method, path string, body, out interface{}, queryParams ...url.Values) error {
	respBody, err := c.doRequest(ctx, method, path, body, queryParams...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	response := struct {
		Data interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// escape joins path segments, escaping each one
func escape(segments ...string) string {
	var b bytes.Buffer
	for _, s := range segments {
		b.WriteString("/")
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
