// Package client is an HTTP client for the pipeline worker API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// ErrRedeliver is returned when the worker asks for the event to be sent again
var ErrRedeliver = errors.New("worker requested redelivery")

// Client is an HTTP client for triggering pipeline processing
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: 60 * time.Second})
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Process runs or enqueues a job for one object
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	return c.post(ctx, "/v1/process", req)
}

// SendEvent delivers an "object finalized" event. A transient failure on the
// worker side is returned together with ErrRedeliver.
func (c *Client) SendEvent(ctx context.Context, ev pipeline.ObjectEvent) (*pipeline.ProcessResponse, error) {
	return c.post(ctx, "/v1/events", ev)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*pipeline.ProcessResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusServiceUnavailable:
	default:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var processResp pipeline.ProcessResponse
	if err := json.NewDecoder(resp.Body).Decode(&processResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return &processResp, fmt.Errorf("%w: %s", ErrRedeliver, processResp.Reason)
	}
	return &processResp, nil
}

// RunStatus is the durable status of a queued run
type RunStatus struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status fetches the status of a queued run
func (c *Client) Status(ctx context.Context, runID string) (*RunStatus, error) {
	var status RunStatus
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Runs lists recent runs, newest first
func (c *Client) Runs(ctx context.Context, limit int) ([]RunStatus, error) {
	var runs []RunStatus
	if err := c.get(ctx, fmt.Sprintf("/v1/runs?limit=%d", limit), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
