// Package openai implements the reasoning client against OpenAI-compatible
// chat completion APIs using the official SDK.
package openai

import (
	"context"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/reasoning"
)

// ProviderType is the configuration name of this backend.
const ProviderType = "openai"

// Client asks the model for a JSON-object thought each iteration.
type Client struct {
	client      sdk.Client
	model       string
	temperature float64
}

var _ ports.ReasoningClient = (*Client)(nil)

// Option configures the client.
type Option func(*options)

type options struct {
	baseURL     string
	httpClient  *http.Client
	temperature float64
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithTemperature sets the sampling temperature. Zero leaves the server default.
func WithTemperature(t float64) Option {
	return func(o *options) {
		o.temperature = t
	}
}

// New creates an OpenAI reasoning client.
func New(apiKey, model string, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// The engine owns the retry budget: one repair retry per iteration.
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &Client{
		client:      sdk.NewClient(reqOpts...),
		model:       model,
		temperature: o.temperature,
	}
}

func (c *Client) Name() string {
	return ProviderType
}

func (c *Client) Think(ctx context.Context, req ports.ThinkRequest) (*domain.Thought, error) {
	msgs, err := reasoning.BuildMessages(req)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: toSDKMessages(msgs),
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, reasoning.Unavailable(ProviderType, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, reasoning.EmptyReply(ProviderType)
	}

	return reasoning.ParseThought(resp.Choices[0].Message.Content)
}

func toSDKMessages(msgs []reasoning.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case reasoning.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case reasoning.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// RegisterFactory registers the openai reasoning backend.
func RegisterFactory() {
	if reasoning.IsRegistered(ProviderType) {
		return
	}
	reasoning.RegisterFactory(reasoning.Factory{
		Type:        ProviderType,
		Description: "OpenAI chat completions (and compatible endpoints)",
		Create: func(cfg config.ReasoningConfig, httpClient *http.Client) (ports.ReasoningClient, error) {
			return New(cfg.APIKey, cfg.Model,
				WithBaseURL(cfg.BaseURL),
				WithHTTPClient(httpClient),
				WithTemperature(cfg.Temperature)), nil
		},
		ValidateConfig: func(cfg config.ReasoningConfig) error {
			if cfg.APIKey == "" && cfg.BaseURL == "" {
				return fmt.Errorf("api_key is required")
			}
			if cfg.Model == "" {
				return fmt.Errorf("model is required")
			}
			return nil
		},
	})
}
