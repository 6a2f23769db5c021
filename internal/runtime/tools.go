package runtime

import (
	"log/slog"
	"net/http"
	"time"

	mcpadapter "github.com/tjfontaine/agent-router/internal/adapters/tools/mcp"
	"github.com/tjfontaine/agent-router/internal/adapters/tools/webhook"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/pkg/safehttp"
)

// toolClients builds one client per configured tool server, followed by the
// clients injected through WithToolClient.
func (r *Router) toolClients(cfg *config.Config) []ports.ToolClient {
	clients := make([]ports.ToolClient, 0, len(cfg.Tools)+len(r.extraTools))

	for _, tc := range cfg.Tools {
		switch tc.Type {
		case "mcp":
			clients = append(clients, mcpadapter.NewStreamableHTTP(tc.Name, tc.URL, tc.Headers, mcpadapter.WithLogger(r.logger)))
		case "mcp_sse":
			clients = append(clients, mcpadapter.NewSSE(tc.Name, tc.URL, tc.Headers, mcpadapter.WithLogger(r.logger)))
		case "webhook":
			clients = append(clients, webhook.New(webhook.Config{
				Name:    tc.Name,
				URL:     tc.URL,
				Timeout: tc.Timeout,
				Retries: tc.Retries,
				Headers: tc.Headers,
				Client:  r.webhookHTTPClient(cfg.Router, tc.Timeout),
				Logger:  r.logger,
			}))
		default:
			// config.Validate rejects unknown types; reaching here means a
			// custom ConfigProvider skipped validation.
			r.logger.Warn("skipping tool server with unknown type",
				slog.String("server", tc.Name),
				slog.String("type", tc.Type))
		}
	}

	return append(clients, r.extraTools...)
}

func (r *Router) webhookHTTPClient(cfg config.RouterConfig, timeout time.Duration) *http.Client {
	if cfg.BlockPrivateNetworks {
		return safehttp.NewClient(timeout)
	}
	return r.httpClient
}
