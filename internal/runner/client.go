// Package runner is the HTTP client for the external task runner. The
// runner is independently deployed and loosely specified, so every
// response is normalized into either a parsed JSON body or one of four
// tagged failures; a malformed remote response never reaches a caller
// as anything but an error value.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotConfigured is returned when no runner base URL is available.
// No network attempt is made in that case.
var ErrNotConfigured = errors.New("runner is not configured: set the runner URL in settings or RUNNER_BASE_URL")

// UnreachableError wraps a dial or timeout failure.
type UnreachableError struct {
	Cause error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("failed to reach runner: %v", e.Cause)
}

func (e *UnreachableError) Unwrap() error { return e.Cause }

// RunnerError carries a failure reported by the runner itself, either
// a non-2xx status or a body that signals failure.
type RunnerError struct {
	StatusCode int
	Message    string
}

func (e *RunnerError) Error() string { return e.Message }

// InvalidResponseError is returned for a 2xx response whose body is
// not valid JSON.
type InvalidResponseError struct {
	Message string
	Body    string
}

func (e *InvalidResponseError) Error() string { return e.Message }

// UserAgent and the tunnel header are attached to every outbound
// request; the header suppresses interstitial warning pages that
// tunnel services would otherwise serve instead of the runner.
const (
	UserAgent         = "moi-workstation/1.0"
	tunnelSkipHeader  = "ngrok-skip-browser-warning"
	runnerTokenHeader = "x-runner-token"
)

// Timeout classes per operation kind.
const (
	HealthTimeout = 5 * time.Second
	ReadTimeout   = 10 * time.Second
	ShellTimeout  = 30 * time.Second
	AdminTimeout  = 120 * time.Second
	ExecTimeout   = 60 * time.Second
)

// Config resolves the runner endpoint for a single call. Settings
// values take precedence over the environment fallback.
type Config struct {
	BaseURL string
	Token   string
}

// Configured reports whether a base URL is available.
func (c Config) Configured() bool { return c.BaseURL != "" }

// Client issues requests against the configured runner.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. The per-request timeout is applied via
// context, not the http.Client, because operations have different
// timeout classes.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Body is the parsed JSON response from the runner.
type Body map[string]any

// Str returns the string value for key, or "" when absent or not a
// string.
func (b Body) Str(key string) string {
	s, _ := b[key].(string)
	return s
}

func (c *Client) do(ctx context.Context, cfg Config, method, opPath string, query url.Values, payload any, timeout time.Duration) (Body, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	u := strings.TrimRight(cfg.BaseURL, "/") + opPath
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(tunnelSkipHeader, "true")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Token != "" {
		req.Header.Set(runnerTokenHeader, cfg.Token)
	}

	c.logger.Debug("calling runner", "method", method, "path", opPath)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnreachableError{Cause: err}
	}

	var body Body
	jsonErr := json.Unmarshal(raw, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("runner returned status %d", resp.StatusCode)
		if jsonErr == nil {
			if e := body.Str("error"); e != "" {
				msg = e
			}
		} else if s := strings.TrimSpace(string(raw)); s != "" {
			msg = fmt.Sprintf("runner returned status %d: %s", resp.StatusCode, truncate(s, 200))
		}
		return nil, &RunnerError{StatusCode: resp.StatusCode, Message: msg}
	}

	if jsonErr != nil {
		msg := "runner returned invalid JSON"
		if looksLikeHTML(raw) {
			msg = "runner returned an HTML page instead of JSON: the tunnel URL may have expired, the runner may not be running, or the URL may be wrong"
		}
		return nil, &InvalidResponseError{Message: msg, Body: truncate(string(raw), 200)}
	}

	// Proxy-style bodies signal failure in-band even on a 2xx status.
	if ok, present := body["ok"].(bool); present && !ok {
		msg := body.Str("error")
		if msg == "" {
			msg = "runner reported failure"
		}
		return nil, &RunnerError{StatusCode: resp.StatusCode, Message: msg}
	}

	return body, nil
}

func looksLikeHTML(raw []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(raw)))
	return strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RunTask submits a task execution request.
func (c *Client) RunTask(ctx context.Context, cfg Config, payload any) (Body, error) {
	return c.do(ctx, cfg, http.MethodPost, "/run-task", nil, payload, ExecTimeout)
}

// Health probes the runner's health endpoint.
func (c *Client) Health(ctx context.Context, cfg Config) (Body, error) {
	return c.do(ctx, cfg, http.MethodGet, "/health", nil, nil, HealthTimeout)
}

// Browse lists a directory on the runner's host.
func (c *Client) Browse(ctx context.Context, cfg Config, path, pattern string, recursive bool) (Body, error) {
	q := url.Values{}
	if path != "" {
		q.Set("path", path)
	}
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	if recursive {
		q.Set("recursive", "true")
	}
	return c.do(ctx, cfg, http.MethodGet, "/browse", q, nil, ReadTimeout)
}

// BrowseRead reads a file anywhere on the runner's host.
func (c *Client) BrowseRead(ctx context.Context, cfg Config, path string) (Body, error) {
	q := url.Values{"path": {path}}
	return c.do(ctx, cfg, http.MethodGet, "/browse/read", q, nil, ReadTimeout)
}

// SandboxList lists entries under the runner's sandbox directory.
func (c *Client) SandboxList(ctx context.Context, cfg Config, path string) (Body, error) {
	q := url.Values{}
	if path != "" {
		q.Set("path", path)
	}
	return c.do(ctx, cfg, http.MethodGet, "/sandbox/list", q, nil, ReadTimeout)
}

// SandboxRead reads a sandbox file.
func (c *Client) SandboxRead(ctx context.Context, cfg Config, path string) (Body, error) {
	q := url.Values{"path": {path}}
	return c.do(ctx, cfg, http.MethodGet, "/sandbox/read", q, nil, ReadTimeout)
}

// SandboxWrite writes a sandbox file.
func (c *Client) SandboxWrite(ctx context.Context, cfg Config, path, content string) (Body, error) {
	return c.do(ctx, cfg, http.MethodPost, "/sandbox/write", nil, map[string]string{
		"path": path, "content": content,
	}, ReadTimeout)
}

// SandboxDelete removes a sandbox file or directory.
func (c *Client) SandboxDelete(ctx context.Context, cfg Config, path string) (Body, error) {
	return c.do(ctx, cfg, http.MethodPost, "/sandbox/delete", nil, map[string]string{
		"path": path,
	}, ReadTimeout)
}

// SandboxRename renames a sandbox entry.
func (c *Client) SandboxRename(ctx context.Context, cfg Config, from, to string) (Body, error) {
	return c.do(ctx, cfg, http.MethodPost, "/sandbox/rename", nil, map[string]string{
		"from": from, "to": to,
	}, ReadTimeout)
}

// Shell executes a shell command on the runner host. Admin requests
// get the extended timeout.
func (c *Client) Shell(ctx context.Context, cfg Config, command, cwd string, admin bool) (Body, error) {
	timeout := ShellTimeout
	if admin {
		timeout = AdminTimeout
	}
	return c.do(ctx, cfg, http.MethodPost, "/shell", nil, map[string]any{
		"command": command, "cwd": cwd, "admin": admin,
	}, timeout)
}

// Analyze sends files plus a prompt to the runner's LLM analysis
// endpoint.
func (c *Client) Analyze(ctx context.Context, cfg Config, files []string, prompt string, includeContent bool) (Body, error) {
	return c.do(ctx, cfg, http.MethodPost, "/analyze", nil, map[string]any{
		"files": files, "prompt": prompt, "include_content": includeContent,
	}, ExecTimeout)
}
