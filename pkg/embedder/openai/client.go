// Package openai is the reference Embedder implementation, backed by
// the OpenAI Embeddings API.
package openai

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ob-labs/personamem-go/pkg/embedder"
)

// Client implements embedder.Provider against the OpenAI API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config configures a Client. Dimensions defaults to 1536 (ada-002's
// native size) when unset.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, embedder.ErrInvalidConfig
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}

	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(conf),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text into a vector.
func (c *Client) Embed(ctx context.Context, text string, opts embedder.Options) (embedder.Result, error) {
	model := c.model
	if opts.Model != "" {
		model = openai.EmbeddingModel(opts.Model)
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{Input: []string{text}, Model: model})
	if err != nil {
		return embedder.Result{}, fmt.Errorf("%w: %v", embedder.ErrProviderUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return embedder.Result{}, fmt.Errorf("%w: no embedding data returned", embedder.ErrProviderUnavailable)
	}
	vec := toFloat32(resp.Data[0].Embedding)
	if opts.Normalize {
		normalize(vec)
	}
	return embedder.Result{Vector: vec, Model: string(model), Usage: resp.Usage.TotalTokens}, nil
}

// EmbedBatch converts multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, opts embedder.Options) ([]embedder.Result, error) {
	model := c.model
	if opts.Model != "" {
		model = openai.EmbeddingModel(opts.Model)
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{Input: texts, Model: model})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedder.ErrProviderUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", embedder.ErrProviderUnavailable, len(texts), len(resp.Data))
	}
	out := make([]embedder.Result, len(texts))
	for i, d := range resp.Data {
		vec := toFloat32(d.Embedding)
		if opts.Normalize {
			normalize(vec)
		}
		out[i] = embedder.Result{Vector: vec, Model: string(model)}
	}
	return out, nil
}

// HealthCheck reports static readiness (no network round trip — the
// OpenAI SDK has no lightweight ping endpoint).
func (c *Client) HealthCheck(ctx context.Context) (embedder.Health, error) {
	return embedder.Health{Status: "ok", Dimensions: c.dimensions}, nil
}

// Dimensions returns the configured vector size.
func (c *Client) Dimensions() int { return c.dimensions }

// Close is a no-op; the OpenAI SDK holds no resources to release.
func (c *Client) Close() error { return nil }

func toFloat32(embedding []float32) []float32 {
	out := make([]float32, len(embedding))
	copy(out, embedding)
	return out
}

func normalize(v []float32) {
	var sumSquares float64
	for _, f := range v {
		sumSquares += float64(f) * float64(f)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= norm
	}
}

var _ embedder.Provider = (*Client)(nil)
