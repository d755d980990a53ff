// Package remote implements the submit/poll/wait wrapper around one remote
// GPU worker endpoint (spec §4.1/§6). One Client is constructed per worker
// kind (voice synthesis, lip-sync, face swap): bare net/http +
// encoding/json, no wrapper library, for submitting and polling a JSON
// endpoint with bearer auth.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config is the per-worker-kind construction input. Every string field is
// sanitized (control characters below space and delete stripped, then
// trimmed); an empty result after sanitization is a construction error.
type Config struct {
	EndpointID string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
}

// sanitizeConfigString strips bytes below 0x20 and the 0x7f delete byte,
// then trims surrounding whitespace.
func sanitizeConfigString(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("empty after sanitization")
	}
	return out, nil
}

// Client is a submit/poll/wait wrapper around one remote worker endpoint.
type Client struct {
	endpointID string
	apiKey     string
	baseURL    string
	timeout    time.Duration

	httpClient *http.Client
}

// New validates and sanitizes cfg and constructs a Client. A nil *Client is
// never returned on success; callers treat a nil *Client field on the Job
// Manager as "this worker kind is unconfigured."
func New(cfg Config) (*Client, error) {
	endpointID, err := sanitizeConfigString(cfg.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("endpoint_id: %w", err)
	}
	apiKey, err := sanitizeConfigString(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("api_key: %w", err)
	}
	baseURL, err := sanitizeConfigString(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		endpointID: endpointID,
		apiKey:     apiKey,
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// Submit POSTs payload to <base>/<endpointID>/run and extracts the job ID
// from the first of id, jobId, job_id present in the response.
func (c *Client) Submit(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(map[string]any{"input": payload})
	if err != nil {
		return "", submitFailed(err.Error(), err)
	}

	url := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", submitFailed(err.Error(), err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", submitFailed(err.Error(), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", submitFailed(string(raw), fmt.Errorf("status %d", resp.StatusCode))
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", submitFailed(string(raw), err)
	}
	for _, key := range []string{"id", "jobId", "job_id"} {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, nil
			}
			return fmt.Sprint(v), nil
		}
	}
	return "", submitFailed(obj, fmt.Errorf("no id/jobId/job_id in response"))
}

// Status GETs <base>/<endpointID>/status/<jobID>, falling back to a POST
// with an empty body on a 405.
func (c *Client) Status(ctx context.Context, jobID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, jobID)

	obj, status, err := c.doStatus(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusMethodNotAllowed {
		obj, _, err = c.doStatus(ctx, http.MethodPost, url, []byte("{}"))
		if err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (c *Client) doStatus(ctx context.Context, method, url string, body []byte) (map[string]any, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, statusFailed(err.Error(), err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, statusFailed(err.Error(), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, statusFailed(string(raw), fmt.Errorf("status %d", resp.StatusCode))
	}

	var obj map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, resp.StatusCode, statusFailed(string(raw), err)
		}
	}
	return obj, resp.StatusCode, nil
}

// statusTag extracts and upper-cases the first present of status/state.
func statusTag(obj map[string]any) string {
	for _, key := range []string{"status", "state"} {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return strings.ToUpper(strings.TrimSpace(s))
			}
		}
	}
	return ""
}

var successTags = map[string]bool{
	"COMPLETED":         true,
	"COMPLETED_SUCCESS": true,
	"SUCCEEDED":         true,
}

var failureTags = map[string]bool{
	"FAILED":          true,
	"FAILED_INTERNAL": true,
	"CANCELLED":       true,
	"ERROR":           true,
}

// Wait polls Status until the job reaches a terminal state, fails, or the
// elapsed monotonic time exceeds timeout. pollInterval is floored at 1s.
func (c *Client) Wait(ctx context.Context, jobID string, pollInterval, timeout time.Duration) (map[string]any, error) {
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	start := time.Now()
	var lastTag string

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		obj, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}

		tag := statusTag(obj)
		lastTag = tag
		output := obj["output"]

		if outMap, ok := output.(map[string]any); ok {
			if _, hasErr := outMap["error"]; hasErr {
				return nil, outputError(outMap)
			}
		}

		if successTags[tag] || (tag == "" && output != nil) {
			return obj, nil
		}
		if failureTags[tag] {
			if outMap, ok := output.(map[string]any); ok {
				return nil, jobFailed(outMap)
			}
			return nil, jobFailed(obj)
		}

		if time.Since(start) > timeout {
			return nil, jobTimeout(jobID, lastTag)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Close releases the client's idle connections. It does not abort requests
// already in flight: those end when their ctx is cancelled or the transport
// timeout elapses, and pending Wait calls observe cancellation at their next
// poll boundary via ctx.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
