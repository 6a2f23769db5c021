// Package gemini implements the reasoning client against the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/reasoning"
)

// ProviderType is the configuration name of this backend.
const ProviderType = "gemini"

// Client requests JSON responses from Gemini.
type Client struct {
	client      *genai.Client
	model       string
	temperature float64
}

var _ ports.ReasoningClient = (*Client)(nil)

// New creates a Gemini reasoning client. baseURL and httpClient are optional.
func New(ctx context.Context, apiKey, model, baseURL string, temperature float64, httpClient *http.Client) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{client: client, model: model, temperature: temperature}, nil
}

func (c *Client) Name() string {
	return ProviderType
}

func (c *Client) Think(ctx context.Context, req ports.ThinkRequest) (*domain.Thought, error) {
	msgs, err := reasoning.BuildMessages(req)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if c.temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(c.temperature))
	}

	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case reasoning.RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case reasoning.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, reasoning.Unavailable(ProviderType, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, reasoning.EmptyReply(ProviderType)
	}
	return reasoning.ParseThought(text)
}

// RegisterFactory registers the gemini reasoning backend.
func RegisterFactory() {
	if reasoning.IsRegistered(ProviderType) {
		return
	}
	reasoning.RegisterFactory(reasoning.Factory{
		Type:        ProviderType,
		Description: "Google Gemini API",
		Create: func(cfg config.ReasoningConfig, httpClient *http.Client) (ports.ReasoningClient, error) {
			return New(context.Background(), cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Temperature, httpClient)
		},
		ValidateConfig: func(cfg config.ReasoningConfig) error {
			if cfg.APIKey == "" {
				return fmt.Errorf("api_key is required")
			}
			if cfg.Model == "" {
				return fmt.Errorf("model is required")
			}
			return nil
		},
	})
}
