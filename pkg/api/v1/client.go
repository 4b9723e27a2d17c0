package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the solvd HTTP API as one caller.
type Client struct {
	baseURL string
	caller  string
	http    *http.Client
}

// NewClient creates a client for baseURL identifying as caller.
func NewClient(baseURL, caller string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		caller:  caller,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a new solve.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/solve", req, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the caller's solves, newest first. limit <= 0 uses the
// server default.
func (c *Client) List(ctx context.Context, limit int) ([]Solve, error) {
	path := "/solve"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp SolveList
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Solves, nil
}

// Get returns one solve with its runs.
func (c *Client) Get(ctx context.Context, id string) (*SolveDetail, error) {
	var resp SolveDetail
	if err := c.do(ctx, http.MethodGet, "/solve/"+url.PathEscape(id), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs returns the runs of one solve.
func (c *Client) Runs(ctx context.Context, id string) ([]Run, error) {
	var resp RunList
	if err := c.do(ctx, http.MethodGet, "/solve/"+url.PathEscape(id)+"/runs", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(CallerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr ErrorResponse
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != "" {
			return apiErr.Err()
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
