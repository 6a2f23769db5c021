// Package ollama implements the reasoning client against a local Ollama server.
package ollama

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/reasoning"
)

// ProviderType is the configuration name of this backend.
const ProviderType = "ollama"

// DefaultBaseURL is used when no base_url is configured.
const DefaultBaseURL = "http://localhost:11434"

// Client requests JSON-mode chat completions from Ollama.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

var _ ports.ReasoningClient = (*Client)(nil)

// New creates an Ollama reasoning client. httpClient may be nil.
func New(baseURL, model string, temperature float64, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	opts := map[string]any{}
	if temperature > 0 {
		opts["temperature"] = temperature
	}

	return &Client{
		client:  api.NewClient(u, httpClient),
		model:   model,
		options: opts,
	}, nil
}

func (c *Client) Name() string {
	return ProviderType
}

func (c *Client) Think(ctx context.Context, req ports.ThinkRequest) (*domain.Thought, error) {
	msgs, err := reasoning.BuildMessages(req)
	if err != nil {
		return nil, err
	}

	apiMsgs := make([]api.Message, len(msgs))
	for i, m := range msgs {
		apiMsgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: apiMsgs,
		Stream:   &stream,
		Format:   stdjson.RawMessage(`"json"`),
		Options:  c.options,
	}

	var content strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, reasoning.Unavailable(ProviderType, err)
	}
	if content.Len() == 0 {
		return nil, reasoning.EmptyReply(ProviderType)
	}

	return reasoning.ParseThought(content.String())
}

// RegisterFactory registers the ollama reasoning backend.
func RegisterFactory() {
	if reasoning.IsRegistered(ProviderType) {
		return
	}
	reasoning.RegisterFactory(reasoning.Factory{
		Type:        ProviderType,
		Description: "Ollama chat API in JSON mode",
		Create: func(cfg config.ReasoningConfig, httpClient *http.Client) (ports.ReasoningClient, error) {
			return New(cfg.BaseURL, cfg.Model, cfg.Temperature, httpClient)
		},
		ValidateConfig: func(cfg config.ReasoningConfig) error {
			if cfg.Model == "" {
				return fmt.Errorf("model is required")
			}
			return nil
		},
	})
}
