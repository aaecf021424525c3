package sandbox

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/covalabs/coval/pkg/retry"
)

const (
	// ProcessRunning means the process is still executing.
	ProcessRunning = "running"
	// ProcessCompleted means the process exited successfully.
	ProcessCompleted = "completed"
	// ProcessFailed means the process exited with an error.
	ProcessFailed = "failed"
)

// ProcessInfo is the status of a process inside a sandbox.
type ProcessInfo struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Logs     string `json:"logs,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Terminal reports whether the process has finished.
func (p *ProcessInfo) Terminal() bool {
	return p.Status == ProcessCompleted || p.Status == ProcessFailed
}

// ExecConfig configures a process execution inside a sandbox.
type ExecConfig struct {
	Name              string            `json:"name"`
	Command           string            `json:"command"`
	WorkingDir        string            `json:"workingDir,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
	WaitForCompletion bool              `json:"waitForCompletion,omitempty"`
}

// Exec starts a process inside the sandbox. With WaitForCompletion set
// the returned info is terminal and carries the accumulated logs.
func (h *Handle) Exec(ctx context.Context, cfg ExecConfig) (*ProcessInfo, error) {
	var info ProcessInfo
	if err := h.client.doRequest(ctx, "process.exec", "POST", h.baseURL+"/process", cfg, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetProcess fetches the current status of a named process.
func (h *Handle) GetProcess(ctx context.Context, name string) (*ProcessInfo, error) {
	var info ProcessInfo
	u := h.baseURL + "/process/" + url.PathEscape(name)
	if err := h.client.doRequest(ctx, "process.get", "GET", u, nil, &info); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProcessNotFound
		}
		return nil, err
	}
	return &info, nil
}

// WaitProcess blocks on the remote wait primitive for up to maxWait and
// returns the latest process info, which may still be non-terminal if
// the bound elapsed first.
func (h *Handle) WaitProcess(ctx context.Context, name string, maxWait time.Duration) (*ProcessInfo, error) {
	var info ProcessInfo
	u := h.baseURL + "/process/" + url.PathEscape(name) + "/wait?maxWait=" + strconv.FormatInt(maxWait.Milliseconds(), 10)
	if err := h.client.doRequest(ctx, "process.wait", "POST", u, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AwaitTerminal polls a named process until it reaches a terminal
// state. Background processes (such as a repository clone started at
// sandbox boot) may not be registered yet when first queried, so fetch
// failures count as a retried attempt rather than an error. When the
// process reports running, the call blocks on the remote wait primitive
// for up to maxWait. Exhausting the policy's attempts yields a
// ProcessTimeoutError naming the process.
func (h *Handle) AwaitTerminal(ctx context.Context, name string, p retry.Policy, maxWait time.Duration) (*ProcessInfo, error) {
	var result *ProcessInfo

	err := retry.Poll(ctx, p, func(ctx context.Context) (bool, error) {
		info, err := h.GetProcess(ctx, name)
		if err != nil {
			return false, err
		}
		if info.Terminal() {
			result = info
			return true, nil
		}
		if info.Status == ProcessRunning {
			waited, err := h.WaitProcess(ctx, name, maxWait)
			if err != nil {
				return false, err
			}
			if waited.Terminal() {
				result = waited
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			return nil, &ProcessTimeoutError{Name: name}
		}
		return nil, err
	}

	return result, nil
}
