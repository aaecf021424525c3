package sandbox

import (
	"context"
	"net/url"
	"time"
)

// Preview is a public route to a port inside a sandbox.
type Preview struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// PreviewConfig configures a new preview.
type PreviewConfig struct {
	Name            string            `json:"name"`
	Port            int               `json:"port"`
	Public          bool              `json:"public"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
}

// TerminalSession grants time-bounded terminal access to a sandbox.
type TerminalSession struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreatePreview exposes a sandbox port behind a public URL.
func (h *Handle) CreatePreview(ctx context.Context, cfg PreviewConfig) (*Preview, error) {
	var preview Preview
	u := h.client.baseURL + "/sandboxes/" + url.PathEscape(h.Meta.Name) + "/previews"
	if err := h.client.doRequest(ctx, "preview.create", "POST", u, cfg, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// ListPreviews returns the previews configured for this sandbox.
func (h *Handle) ListPreviews(ctx context.Context) ([]Preview, error) {
	var out struct {
		Previews []Preview `json:"previews"`
	}
	u := h.client.baseURL + "/sandboxes/" + url.PathEscape(h.Meta.Name) + "/previews"
	if err := h.client.doRequest(ctx, "preview.list", "GET", u, nil, &out); err != nil {
		return nil, err
	}
	return out.Previews, nil
}

// CreateTerminalSession creates (or renews) a terminal session expiring
// at the given time.
func (h *Handle) CreateTerminalSession(ctx context.Context, expiresAt time.Time) (*TerminalSession, error) {
	var sess TerminalSession
	body := map[string]any{"expiresAt": expiresAt}
	u := h.client.baseURL + "/sandboxes/" + url.PathEscape(h.Meta.Name) + "/sessions"
	if err := h.client.doRequest(ctx, "session.create", "POST", u, body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
