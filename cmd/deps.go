package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/viper"

	"github.com/joescharf/council/internal/api"
	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/llm"
	"github.com/joescharf/council/internal/ollama"
	"github.com/joescharf/council/internal/residency"
	"github.com/joescharf/council/internal/review"
	"github.com/joescharf/council/internal/store"
)

const (
	providerOllama    = "ollama"
	providerAnthropic = "anthropic"
)

// engine bundles the inference side of a review: the gateway and, for local
// providers, the residency controller that owns the device.
type engine struct {
	gateway   inference.Gateway
	residency *residency.Controller
	ollama    *ollama.Client
}

// newEngine builds the gateway for the configured inference provider.
func newEngine() (*engine, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("inference.provider")))
	switch provider {
	case "", providerOllama:
		client := ollama.NewClient(ollama.Config{
			BaseURL:         viper.GetString("ollama.url"),
			GenerateTimeout: viper.GetDuration("ollama.timeout"),
			ListTimeout:     viper.GetDuration("ollama.list_timeout"),
		})
		ctrl := residency.NewController(client,
			residency.WithSettleDelay(viper.GetDuration("review.settle_delay")),
			residency.WithLockFile(viper.GetString("residency.lock_file")),
			residency.WithLogger(slog.Default()),
		)
		return &engine{gateway: client, residency: ctrl, ollama: client}, nil
	case providerAnthropic:
		apiKey := viper.GetString("anthropic.api_key")
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic.api_key is not set (set COUNCIL_ANTHROPIC_API_KEY or add it to the config file)")
		}
		client := llm.NewClient(apiKey, viper.GetString("anthropic.model"), option.WithMaxRetries(2))
		return &engine{gateway: client}, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q (want %s or %s)", provider, providerOllama, providerAnthropic)
	}
}

// orchestrator wires the store and engine into a review orchestrator.
func (e *engine) orchestrator(s store.Store, cfg review.Config) *review.Orchestrator {
	deps := review.Deps{
		Reviewers: s,
		Gateway:   e.gateway,
		Recorder:  s,
		Logger:    slog.Default(),
	}
	if e.residency != nil {
		deps.Residency = e.residency
	}
	return review.New(deps, cfg)
}

// modelManager returns the residency controller as an API model manager, or nil.
func (e *engine) modelManager() api.ModelManager {
	if e.residency == nil {
		return nil
	}
	return e.residency
}
