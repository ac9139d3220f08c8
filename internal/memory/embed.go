package memory

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into vectors for the search index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIEmbedderConfig configures the OpenAI embedding client.
type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimension defaults to 1536, matching the default model.
	Dimension int
}

// OpenAIEmbedder batches embedding requests against an OpenAI-compatible
// endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIEmbedder creates the embedder.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dim:    dim,
	}
}

// Dimension implements Embedder.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Embed implements Embedder with one batched API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		out[item.Index] = item.Embedding
	}
	return out, nil
}
