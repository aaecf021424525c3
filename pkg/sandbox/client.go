// Package sandbox is a client for the remote compute sandbox service.
// A sandbox is an ephemeral execution environment exposing a filesystem
// and process API; this package wraps its REST surface and adds a
// process-local handle cache and a bounded poller for asynchronous
// remote operations.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"
)

const (
	clientMaxRetries = 3

	// StatusDeploying means the sandbox is being provisioned.
	StatusDeploying = "deploying"
	// StatusDeployed means the sandbox is ready to serve requests.
	StatusDeployed = "deployed"
	// StatusFailed means provisioning failed.
	StatusFailed = "failed"
)

// Metadata describes a sandbox as reported by the remote service.
type Metadata struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	URL       string            `json:"url"`
	Image     string            `json:"image,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// PortConfig declares a port exposed by a sandbox.
type PortConfig struct {
	Name     string `json:"name"`
	Target   int    `json:"target"`
	Protocol string `json:"protocol"`
}

// EnvVar is an environment variable injected at sandbox creation.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateConfig configures a new sandbox.
type CreateConfig struct {
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	MemoryMB int               `json:"memory,omitempty"`
	Envs     []EnvVar          `json:"envs,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Ports    []PortConfig      `json:"ports,omitempty"`
}

// Client talks to the sandbox service control plane.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a sandbox service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Handle is a live connection to one sandbox. Filesystem and process
// operations go to the sandbox's own URL, not the control plane.
type Handle struct {
	// Meta is the sandbox metadata at resolution time.
	Meta Metadata

	client  *Client
	baseURL string // per-sandbox API root
}

// Name returns the sandbox name this handle is bound to.
func (h *Handle) Name() string { return h.Meta.Name }

// Create provisions a new sandbox and returns a handle to it. The
// sandbox may still be deploying; use WaitReady before depending on it.
func (c *Client) Create(ctx context.Context, cfg CreateConfig) (*Handle, error) {
	var meta Metadata
	if err := c.doRequest(ctx, "create", http.MethodPost, c.baseURL+"/sandboxes", cfg, &meta); err != nil {
		return nil, err
	}
	return c.handleFor(meta), nil
}

// Get looks up an existing sandbox by name.
func (c *Client) Get(ctx context.Context, name string) (*Handle, error) {
	var meta Metadata
	u := c.baseURL + "/sandboxes/" + url.PathEscape(name)
	if err := c.doRequest(ctx, "get", http.MethodGet, u, nil, &meta); err != nil {
		return nil, err
	}
	return c.handleFor(meta), nil
}

// List returns metadata for all sandboxes known to the service.
func (c *Client) List(ctx context.Context) ([]Metadata, error) {
	var out struct {
		Sandboxes []Metadata `json:"sandboxes"`
	}
	if err := c.doRequest(ctx, "list", http.MethodGet, c.baseURL+"/sandboxes", nil, &out); err != nil {
		return nil, err
	}
	return out.Sandboxes, nil
}

// Delete removes a sandbox. Deleting a sandbox that no longer exists
// returns an error wrapping ErrNotFound; callers that want
// delete-if-present semantics should check IsNotFound.
func (c *Client) Delete(ctx context.Context, name string) error {
	u := c.baseURL + "/sandboxes/" + url.PathEscape(name)
	return c.doRequest(ctx, "delete", http.MethodDelete, u, nil, nil)
}

// Connect builds a handle for a sandbox reachable at a fixed address,
// bypassing the control plane. Used for locally-forced sandboxes.
func (c *Client) Connect(name, forcedURL string) *Handle {
	return &Handle{
		Meta:    Metadata{Name: name, Status: StatusDeployed, URL: forcedURL},
		client:  c,
		baseURL: forcedURL,
	}
}

// WaitReady polls the sandbox status until it is deployed. It returns a
// ReadyTimeoutError if ctx expires first and an error if provisioning
// failed.
func (c *Client) WaitReady(ctx context.Context, name string) (*Handle, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		h, err := c.Get(ctx, name)
		if err == nil {
			switch h.Meta.Status {
			case StatusDeployed:
				return h, nil
			case StatusFailed:
				return nil, fmt.Errorf("sandbox %q failed to provision", name)
			}
		}

		select {
		case <-ctx.Done():
			return nil, &ReadyTimeoutError{Name: name}
		case <-ticker.C:
		}
	}
}

func (c *Client) handleFor(meta Metadata) *Handle {
	return &Handle{Meta: meta, client: c, baseURL: meta.URL}
}

// doRequest performs a JSON request against the service, retrying rate
// limits and server errors with exponential backoff.
func (c *Client) doRequest(ctx context.Context, op, method, u string, reqBody, result any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < clientMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &APIError{Op: op, Message: err.Error(), IsRetryable: true}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = errorFromResponse(op, resp)
			_ = resp.Body.Close()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := errorFromResponse(op, resp)
			_ = resp.Body.Close()
			return err
		}

		if result == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil
		}

		err = json.NewDecoder(resp.Body).Decode(result)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("sandbox %s: decode response: %w", op, err)
		}
		return nil
	}

	return lastErr
}

func errorFromResponse(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := string(body)
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	return &APIError{
		Op:          op,
		StatusCode:  resp.StatusCode,
		Message:     msg,
		IsRetryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
}
