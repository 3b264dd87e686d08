// Package inference defines the contract between the review pipeline and a text-generation server.
package inference

import (
	"context"
	"time"
)

// Options are the sampling parameters sent with a generate request.
type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Request is a single non-streaming generation.
// A non-nil zero KeepAlive asks the server to unload the model once the call returns.
type Request struct {
	Model     string
	Prompt    string
	KeepAlive *time.Duration
	Options   *Options
}

// Unload returns a request that evicts model from the device.
func Unload(model string) Request {
	zero := time.Duration(0)
	return Request{Model: model, KeepAlive: &zero}
}

// ResidentModel describes a model currently loaded on the device.
type ResidentModel struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway generates text and reports model residency.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
	ListResident(ctx context.Context) ([]ResidentModel, error)
}

// Generator is the subset of Gateway used by reviewer tasks.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
