// Package transport provides the shared HTTP primitives used by all paintopia
// API clients: JSON POST with per-operation timeouts, multipart upload, and the
// common error kinds surfaced by response handling.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Common error kinds. Endpoint clients wrap these so callers can classify
// failures with errors.Is.
var (
	// ErrNoData means the response body was empty.
	ErrNoData = errors.New("empty response body")

	// ErrInvalidData means the response body could not be decoded as the
	// expected JSON shape.
	ErrInvalidData = errors.New("invalid response data")

	// ErrServerReported means the response parsed successfully but carried an
	// explicit error field.
	ErrServerReported = errors.New("server reported error")
)

// errorBody is the generic error envelope some endpoints return on non-2xx.
type errorBody struct {
	Error string `json:"error"`
}

// Client wraps an http.Client with a base URL. Timeouts are applied per
// operation via context deadlines, not on the http.Client itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a transport client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON marshals body, POSTs it to path and returns the raw response body.
// A nil body sends an empty JSON object. The timeout applies only when the
// caller's context carries no deadline of its own.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, timeout time.Duration) ([]byte, error) {
	var payload []byte
	if body == nil {
		payload = []byte("{}")
	} else {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, cancel, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Get issues a GET request to path and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	req, cancel, err := c.newRequest(ctx, http.MethodGet, path, nil, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return c.do(req)
}

// PostMultipart uploads file as a multipart/form-data field and returns the
// raw response body.
func (c *Client) PostMultipart(ctx context.Context, path, field, filename string, file []byte, timeout time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, cancel, err := c.newRequest(ctx, http.MethodPost, path, &buf, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

// Probe issues a POST to path and reports the HTTP status code without
// interpreting the body. Used for connectivity checks where any live response
// counts as reachable.
func (c *Client) Probe(ctx context.Context, path string, timeout time.Duration) (int, error) {
	req, cancel, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader("{}"), timeout)
	if err != nil {
		return 0, err
	}
	defer cancel()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, timeout time.Duration) (*http.Request, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, cancel, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorBody
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%w [%d]: %s", ErrServerReported, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if len(respBody) == 0 {
		return nil, ErrNoData
	}

	return respBody, nil
}

// DecodeJSON decodes data into out, surfacing decode failures as
// ErrInvalidData.
func DecodeJSON(data []byte, out interface{}) error {
	if len(data) == 0 {
		return ErrNoData
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}
