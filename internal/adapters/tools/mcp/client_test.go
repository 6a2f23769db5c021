package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/tools/demo"
)

func TestInProcessClient(t *testing.T) {
	c := NewInProcess("demo", demo.NewServer("test"))
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	byName := map[string]domain.ToolDescriptor{}
	for _, d := range tools {
		byName[d.Name] = d
	}
	weather, ok := byName["get_weather"]
	require.True(t, ok)
	assert.Equal(t, "demo", weather.Server)
	assert.Equal(t, "object", weather.ArgSchema["type"])
	assert.Equal(t, []any{"city"}, weather.ArgSchema["required"])

	out, err := c.CallTool(ctx, "get_weather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Paris: Sunny, 22°C", out)
}

func TestInProcessClient_ToolError(t *testing.T) {
	c := NewInProcess("demo", demo.NewServer("test"))
	t.Cleanup(func() { c.Close() })

	_, err := c.CallTool(context.Background(), "get_weather", map[string]any{"city": "Atlantis"})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeToolExecution))
	assert.Contains(t, err.Error(), "no forecast for Atlantis")
}

func TestStreamableHTTPClient(t *testing.T) {
	ts := server.NewTestStreamableHTTPServer(demo.NewServer("test"))
	t.Cleanup(ts.Close)

	c := NewStreamableHTTP("remote", ts.URL, map[string]string{"X-Test": "1"})
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	out, err := c.CallTool(ctx, "get_weather", map[string]any{"city": "tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "tokyo: Light rain, 19°C", out)
}
