// Package embedder defines the Embedder interface the core consumes
// to turn text into fixed-dimension vectors. Providers are external
// collaborators, not part of the core's retrieval logic.
package embedder

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("embedder: provider unavailable")
	ErrTextTooLong         = errors.New("embedder: text too long")
	ErrInvalidConfig       = errors.New("embedder: invalid config")
)

// Options configures one Embed/EmbedBatch call.
type Options struct {
	Model      string
	Dimensions int
	Normalize  bool
}

// Result is one embedding, its resolved model, and token usage.
type Result struct {
	Vector []float32
	Model  string
	Usage  int
}

// Health reports provider availability.
type Health struct {
	Status     string
	Dimensions int
}

// Provider maps text to a fixed-dimension unit vector.
type Provider interface {
	Embed(ctx context.Context, text string, opts Options) (Result, error)
	EmbedBatch(ctx context.Context, texts []string, opts Options) ([]Result, error)
	HealthCheck(ctx context.Context) (Health, error)
	Dimensions() int
	Close() error
}
