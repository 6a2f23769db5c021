// Package mcp adapts Model Context Protocol tool servers to ports.ToolClient.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

const (
	clientName    = "agent-router"
	clientVersion = "1.0.0"
)

// Client is a lazily-initialized MCP session with one tool server.
type Client struct {
	name   string
	dial   func() (*mcpclient.Client, error)
	logger *slog.Logger

	mu      sync.Mutex
	session *mcpclient.Client
}

var _ ports.ToolClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewStreamableHTTP connects to a server speaking the streamable HTTP transport.
func NewStreamableHTTP(name, url string, headers map[string]string, opts ...Option) *Client {
	return newClient(name, func() (*mcpclient.Client, error) {
		return mcpclient.NewStreamableHttpClient(url, transport.WithHTTPHeaders(headers))
	}, opts...)
}

// NewSSE connects to a server speaking the legacy SSE transport.
func NewSSE(name, url string, headers map[string]string, opts ...Option) *Client {
	return newClient(name, func() (*mcpclient.Client, error) {
		return mcpclient.NewSSEMCPClient(url, transport.WithHeaders(headers))
	}, opts...)
}

// NewInProcess wraps an MCP server running in the same process.
func NewInProcess(name string, srv *server.MCPServer, opts ...Option) *Client {
	return newClient(name, func() (*mcpclient.Client, error) {
		return mcpclient.NewInProcessClient(srv)
	}, opts...)
}

func newClient(name string, dial func() (*mcpclient.Client, error), opts ...Option) *Client {
	c := &Client{
		name:   name,
		dial:   dial,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.name
}

// connect returns the live session, starting and initializing it on first use.
func (c *Client) connect(ctx context.Context) (*mcpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	session, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}

	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("start mcp transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	result, err := session.Initialize(ctx, initReq)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	c.logger.Info("mcp session initialized",
		slog.String("server", c.name),
		slog.String("server_name", result.ServerInfo.Name),
		slog.String("protocol", result.ProtocolVersion))

	c.session = session
	return session, nil
}

// reset drops a broken session so the next call reconnects.
func (c *Client) reset(session *mcpclient.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		c.session.Close()
		c.session = nil
	}
}

func (c *Client) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	result, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.reset(session)
		return nil, fmt.Errorf("list tools: %w", err)
	}

	descs := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		descs = append(descs, domain.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			ArgSchema:   inputSchema(t.InputSchema),
			Server:      c.name,
		})
	}
	return descs, nil
}

func inputSchema(s mcp.ToolInputSchema) map[string]any {
	schema := map[string]any{"type": "object"}
	if s.Type != "" {
		schema["type"] = s.Type
	}
	if len(s.Properties) > 0 {
		schema["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		required := make([]any, len(s.Required))
		for i, r := range s.Required {
			required[i] = r
		}
		schema["required"] = required
	}
	return schema
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", domain.ErrToolExecution(err.Error()).WithCause(err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := session.CallTool(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.ErrToolTimeout(fmt.Sprintf("tool %q timed out", name)).WithCause(err)
		}
		if ctx.Err() == nil {
			c.reset(session)
		}
		return "", domain.ErrToolExecution(fmt.Sprintf("call %s: %v", name, err)).WithCause(err)
	}

	text := resultText(result)
	if result.IsError {
		return "", domain.ErrToolExecution(text)
	}
	return text, nil
}

// resultText concatenates the text parts of a tool result.
func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
