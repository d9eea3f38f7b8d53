// Package doodle provides the one-shot doodle analysis client. The analyze
// endpoint has shipped two response shapes over time; decoding tries the
// structured shape first and falls back to the legacy single-result shape,
// producing one normalized Result either way. The superseded task/polling API
// is kept for compatibility with older deployments.
package doodle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ChenSRFurina/Paintopia/internal/transport"
)

const (
	healthTimeout  = 10 * time.Second
	analyzeTimeout = 60 * time.Second
	taskTimeout    = 30 * time.Second
)

// DefaultPrompt is sent when the caller supplies no analysis prompt.
const DefaultPrompt = "请分析这幅画并给出建议"

// Canned follow-up text synthesized when the server answers in the legacy
// single-result shape.
const (
	legacySuggestion  = "根据AI识别的内容，你可以尝试添加更多细节和色彩让画面更丰富。"
	legacyStoryPrefix = "基于你的画作，AI识别出："
	legacyStorySuffix = "\n\n这是一个很有创意的开始！继续发挥你的想象力，为这个作品添加更多元素吧。"
)

// Result is the normalized outcome of a doodle analysis.
type Result struct {
	Recognition string `json:"recognition"`
	Suggestion  string `json:"suggestion"`
	Story       string `json:"story"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// analyzeResponse is the current structured response shape. Success is a
// pointer so its mere presence distinguishes the shape from the legacy one.
type analyzeResponse struct {
	Success     *bool  `json:"success"`
	Recognition string `json:"recognition"`
	Suggestion  string `json:"suggestion"`
	Story       string `json:"story"`
	Error       string `json:"error,omitempty"`
}

// legacyResponse is the older single-result shape.
type legacyResponse struct {
	Result string `json:"result"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// TaskStatus describes a polled task on the superseded task API.
type TaskStatus struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type submitTaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the doodle analysis endpoints.
type Client struct {
	tc *transport.Client
}

// NewClient creates a doodle client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{tc: transport.New(baseURL)}
}

// Health checks the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	data, err := c.tc.Get(ctx, "/api/health", healthTimeout)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	var resp healthResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("health check: unexpected status %q", resp.Status)
	}
	return nil
}

// Analyze uploads a doodle for recognition, a suggestion, and a story in one
// call. An empty prompt falls back to DefaultPrompt.
func (c *Client) Analyze(ctx context.Context, image []byte, prompt string) (*Result, error) {
	reqID := uuid.New().String()[:8]
	if prompt == "" {
		prompt = DefaultPrompt
	}
	log.Printf("[%s] analyzing doodle, image %d bytes", reqID, len(image))

	body := map[string]string{
		"image_data": base64.StdEncoding.EncodeToString(image),
		"text":       prompt,
	}
	data, err := c.tc.PostJSON(ctx, "/api/image/analyze", body, analyzeTimeout)
	if err != nil {
		return nil, fmt.Errorf("analyze doodle: %w", err)
	}

	return decodeResult(data)
}

// decodeResult normalizes the two historical response shapes into one Result.
func decodeResult(data []byte) (*Result, error) {
	var resp analyzeResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("analyze doodle: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("analyze doodle: %w: %s", transport.ErrServerReported, resp.Error)
	}

	if resp.Success != nil {
		return &Result{
			Recognition: resp.Recognition,
			Suggestion:  resp.Suggestion,
			Story:       resp.Story,
			Success:     *resp.Success,
		}, nil
	}

	var legacy legacyResponse
	if err := transport.DecodeJSON(data, &legacy); err != nil || legacy.Result == "" {
		return nil, fmt.Errorf("analyze doodle: %w: unrecognized response shape", transport.ErrInvalidData)
	}

	return &Result{
		Recognition: legacy.Result,
		Suggestion:  legacySuggestion,
		Story:       legacyStoryPrefix + legacy.Result + legacyStorySuffix,
		Success:     true,
	}, nil
}

// SubmitTask starts an analysis task on the superseded polling API.
func (c *Client) SubmitTask(ctx context.Context, image []byte) (string, error) {
	body := map[string]string{
		"image_data": base64.StdEncoding.EncodeToString(image),
	}
	data, err := c.tc.PostJSON(ctx, "/api/doodle", body, taskTimeout)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}

	var resp submitTaskResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if !resp.Success || resp.TaskID == "" {
		return "", fmt.Errorf("submit task: %w: %s", transport.ErrServerReported, resp.Error)
	}
	return resp.TaskID, nil
}

// FetchTaskStatus polls the status of a submitted task.
func (c *Client) FetchTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := c.tc.Get(ctx, "/api/doodle/status/"+taskID, taskTimeout)
	if err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}

	var resp TaskStatus
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}
	return &resp, nil
}

// FetchTaskResult retrieves the result of a completed task.
func (c *Client) FetchTaskResult(ctx context.Context, taskID string) (*Result, error) {
	data, err := c.tc.Get(ctx, "/api/doodle/result/"+taskID, taskTimeout)
	if err != nil {
		return nil, fmt.Errorf("task result: %w", err)
	}
	return decodeResult(data)
}
