// Package review runs a panel of reviewer models over a document and synthesizes their findings.
package review

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/joescharf/council/internal/inference"
)

// Mode selects how council reviewers are dispatched.
type Mode string

const (
	// ModeSequential runs one reviewer at a time, grouped by model. This is the default.
	ModeSequential Mode = "sequential"
	// ModeParallel fans reviewers out concurrently and skips residency management.
	ModeParallel Mode = "parallel"
)

const (
	// TemperatureOffset is subtracted from the writing temperature for analytical review output.
	TemperatureOffset = 0.3
	// MinTemperature is the floor for the reduced review temperature.
	MinTemperature = 0.1

	defaultTemperature       = 0.7
	defaultTopP              = 0.9
	defaultTopK              = 40
	defaultNumPredict        = 2048
	defaultParallelism       = 2
	defaultSynthesisMaxChars = 8000
)

// Sampling holds the user's global generation settings.
type Sampling struct {
	Temperature float64
	TopP        float64
	TopK        int
	NumPredict  int
}

// ReviewOptions returns the sampling options for review calls: temperature reduced by
// TemperatureOffset and clamped to MinTemperature, everything else passed through.
func (s Sampling) ReviewOptions() *inference.Options {
	temp := s.Temperature - TemperatureOffset
	if temp < MinTemperature {
		temp = MinTemperature
	}
	numPredict := s.NumPredict
	if numPredict <= 0 {
		numPredict = defaultNumPredict
	}
	return &inference.Options{
		Temperature: temp,
		TopP:        s.TopP,
		TopK:        s.TopK,
		NumPredict:  numPredict,
	}
}

// Config holds orchestrator configuration.
type Config struct {
	Mode              Mode
	Parallelism       int
	SynthesisMaxChars int
	Sampling          Sampling
}

// DefaultConfig returns the review config, reading from viper when available.
func DefaultConfig() Config {
	cfg := Config{
		Mode:              Mode(strings.ToLower(strings.TrimSpace(viper.GetString("review.mode")))),
		Parallelism:       viper.GetInt("review.parallelism"),
		SynthesisMaxChars: viper.GetInt("review.synthesis_max_chars"),
		Sampling: Sampling{
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
			TopK:        defaultTopK,
			NumPredict:  viper.GetInt("generation.num_predict"),
		},
	}
	if viper.IsSet("generation.temperature") {
		cfg.Sampling.Temperature = viper.GetFloat64("generation.temperature")
	}
	if viper.IsSet("generation.top_p") {
		cfg.Sampling.TopP = viper.GetFloat64("generation.top_p")
	}
	if viper.IsSet("generation.top_k") {
		cfg.Sampling.TopK = viper.GetInt("generation.top_k")
	}
	return cfg.normalized()
}

func (c Config) normalized() Config {
	if c.Mode != ModeParallel {
		c.Mode = ModeSequential
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.SynthesisMaxChars <= 0 {
		c.SynthesisMaxChars = defaultSynthesisMaxChars
	}
	if c.Sampling.NumPredict <= 0 {
		c.Sampling.NumPredict = defaultNumPredict
	}
	return c
}
