package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FileInfo describes one entry in a sandbox directory tree.
type FileInfo struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// ReadFile reads the file at path inside the sandbox filesystem.
func (h *Handle) ReadFile(ctx context.Context, path string) ([]byte, error) {
	req, err := h.fsRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.http.Do(req)
	if err != nil {
		return nil, &APIError{Op: "fs.read", Message: err.Error(), IsRetryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse("fs.read", resp)
	}

	return io.ReadAll(resp.Body)
}

// WriteFile writes content to path inside the sandbox filesystem,
// creating or overwriting the file in a single call.
func (h *Handle) WriteFile(ctx context.Context, path string, content []byte) error {
	req, err := h.fsRequest(ctx, http.MethodPut, path, bytes.NewReader(content))
	if err != nil {
		return err
	}

	resp, err := h.client.http.Do(req)
	if err != nil {
		return &APIError{Op: "fs.write", Message: err.Error(), IsRetryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse("fs.write", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListDir returns the entries under path inside the sandbox filesystem.
func (h *Handle) ListDir(ctx context.Context, path string) ([]FileInfo, error) {
	req, err := h.fsRequest(ctx, http.MethodGet, "/tree"+normalizePath(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.http.Do(req)
	if err != nil {
		return nil, &APIError{Op: "fs.list", Message: err.Error(), IsRetryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse("fs.list", resp)
	}

	var out struct {
		Entries []FileInfo `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sandbox fs.list: decode response: %w", err)
	}
	return out.Entries, nil
}

func (h *Handle) fsRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := h.baseURL + "/filesystem" + normalizePath(path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if h.client.apiKey != "" {
		req.Header.Set("X-Api-Key", h.client.apiKey)
	}
	return req, nil
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
