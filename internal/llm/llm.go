// Package llm implements the inference gateway on top of the Anthropic Messages API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/council/internal/inference"
)

const (
	// DefaultModel is used when a reviewer names a model the API does not serve.
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 2048
)

// Client wraps the Anthropic API as an inference.Gateway.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and fallback model.
// Extra request options (base URL, retries) are passed through to the SDK.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	reqOpts = append(reqOpts, opts...)
	client := anthropic.NewClient(reqOpts...)
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Generate sends the prompt as a single user message and returns the first text block.
// A zero keep-alive request is an unload signal and is a no-op here.
func (c *Client) Generate(ctx context.Context, req inference.Request) (string, error) {
	if req.KeepAlive != nil && *req.KeepAlive == 0 {
		return "", nil
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("anthropic generate: prompt required")
	}

	msg, err := c.api.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// ListResident always returns an empty list; nothing is resident on a remote API.
func (c *Client) ListResident(context.Context) ([]inference.ResidentModel, error) {
	return []inference.ResidentModel{}, nil
}

// Model resolves the model name a request would be sent with.
func (c *Client) Model(requested string) anthropic.Model {
	if strings.HasPrefix(strings.TrimSpace(requested), "claude") {
		return anthropic.Model(strings.TrimSpace(requested))
	}
	return c.model
}

func (c *Client) buildParams(req inference.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     c.Model(req.Model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if o := req.Options; o != nil {
		if o.NumPredict > 0 {
			params.MaxTokens = int64(o.NumPredict)
		}
		// Current Claude models reject temperature combined with top_p; temperature
		// carries the review offset, so top_p is not sent.
		params.Temperature = anthropic.Float(clamp(o.Temperature, 0, 1))
		if o.TopK > 0 {
			params.TopK = anthropic.Int(int64(o.TopK))
		}
	}
	return params
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
