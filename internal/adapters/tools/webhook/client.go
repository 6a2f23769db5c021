// Package webhook exposes tools served by a plain HTTP endpoint.
//
// The server answers GET {url}/tools with {"tools":[...]} and
// POST {url}/call with {"result": "..."} or {"error": "..."}.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/safehttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures a webhook tool server.
type Config struct {
	Name    string
	URL     string
	Timeout time.Duration
	Retries int
	Headers map[string]string
	// Client overrides the HTTP client, e.g. with safehttp.NewClient.
	Client *http.Client
	Logger *slog.Logger
}

// Client calls tools over the webhook protocol.
type Client struct {
	name    string
	url     string
	retries int
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

var _ ports.ToolClient = (*Client)(nil)

type toolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ArgSchema   map[string]any `json:"arg_schema"`
}

type listResponse struct {
	Tools []toolSpec `json:"tools"`
}

type callRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.code, e.body)
}

// New creates a webhook tool client.
func New(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:    cfg.Name,
		url:     strings.TrimRight(cfg.URL, "/"),
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  httpClient,
		logger:  logger,
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	var out listResponse
	if err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/tools", nil, &out)
	}); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	descs := make([]domain.ToolDescriptor, 0, len(out.Tools))
	for _, t := range out.Tools {
		schema := t.ArgSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		descs = append(descs, domain.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			ArgSchema:   schema,
			Server:      c.name,
		})
	}
	return descs, nil
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var out callResponse
	err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/call", callRequest{Name: name, Args: args}, &out)
	})
	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se) && se.code == http.StatusNotFound:
			return "", domain.ErrToolNotFound(name).WithCause(err)
		case errors.Is(err, context.DeadlineExceeded):
			return "", domain.ErrToolTimeout(fmt.Sprintf("tool %q timed out", name)).WithCause(err)
		default:
			return "", domain.ErrToolExecution(fmt.Sprintf("call %s: %v", name, err)).WithCause(err)
		}
	}
	if out.Error != "" {
		return "", domain.ErrToolExecution(out.Error)
	}
	return out.Result, nil
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// withRetry runs fn up to retries+1 times. 4xx responses, refused destinations
// and cancellation are not retried.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		var se *statusError
		if errors.As(lastErr, &se) && se.code < 500 {
			break
		}
		if errors.Is(lastErr, safehttp.ErrBlockedAddress) {
			break
		}
		if attempt+1 < attempts {
			c.logger.Warn("webhook tool request failed, retrying",
				slog.String("server", c.name),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()))
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
