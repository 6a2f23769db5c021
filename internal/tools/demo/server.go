// Package demo provides a small MCP tool server used by cmd/demotools and in tests.
package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var forecasts = map[string]string{
	"paris":  "Sunny, 22°C",
	"london": "Overcast, 16°C",
	"tokyo":  "Light rain, 19°C",
}

// NewServer returns an MCP server exposing get_weather and get_time.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer("demotools", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("get_weather",
		mcp.WithDescription("Current weather for a city"),
		mcp.WithString("city", mcp.Required(), mcp.Description("City name")),
	), getWeather)

	s.AddTool(mcp.NewTool("get_time",
		mcp.WithDescription("Current time in an IANA timezone"),
		mcp.WithString("timezone", mcp.Required(), mcp.Description("e.g. Europe/Paris")),
	), getTime)

	return s
}

func getWeather(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	city, err := req.RequireString("city")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	forecast, ok := forecasts[strings.ToLower(city)]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no forecast for %s", city)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", city, forecast)), nil
}

func getTime(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tz, err := req.RequireString("timezone")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown timezone %q", tz)), nil
	}
	return mcp.NewToolResultText(time.Now().In(loc).Format(time.RFC3339)), nil
}
