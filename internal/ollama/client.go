// Package ollama talks to a local Ollama-compatible inference server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joescharf/council/internal/inference"
)

const (
	DefaultBaseURL         = "http://localhost:11434"
	defaultGenerateTimeout = 5 * time.Minute
	defaultListTimeout     = 5 * time.Second
	maxErrorBody           = 2048
)

// Config captures the runtime settings for the inference server.
type Config struct {
	BaseURL         string
	GenerateTimeout time.Duration
	ListTimeout     time.Duration
}

// Client wraps the Ollama generate and process-status endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client. Zero timeouts fall back to the defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = defaultListTimeout
	}
	c := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, strings.TrimSpace(e.Body))
}

type generateRequest struct {
	Model     string             `json:"model"`
	Prompt    string             `json:"prompt"`
	Stream    bool               `json:"stream"`
	KeepAlive *int64             `json:"keep_alive,omitempty"`
	Options   *inference.Options `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

type psResponse struct {
	Models []inference.ResidentModel `json:"models"`
}

// Generate issues a non-streaming completion and returns the full response text.
func (c *Client) Generate(ctx context.Context, req inference.Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("ollama generate: model required")
	}
	payload := generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: req.Options,
	}
	if req.KeepAlive != nil {
		secs := int64(req.KeepAlive.Seconds())
		payload.KeepAlive = &secs
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", payload, &out, "ollama generate"); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", out.Error)
	}
	return out.Response, nil
}

// ListResident returns the models currently loaded on the device.
func (c *Client) ListResident(ctx context.Context) ([]inference.ResidentModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	var out psResponse
	if err := c.do(ctx, http.MethodGet, "/api/ps", nil, &out, "ollama ps"); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Ping checks that the server answers. It returns the reported server version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out, "ollama ping"); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any, op string) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return fmt.Errorf("%s: build url: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
