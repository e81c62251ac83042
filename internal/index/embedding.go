package index

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/maniflow/internal/config"
)

// EmbeddingProvider turns texts into vectors for the manifest collection.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

const defaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbeddingProvider works against OpenAI and compatible gateways.
type OpenAIEmbeddingProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbeddingProvider(cfg config.EmbeddingConfig) (*OpenAIEmbeddingProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for embeddings")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultEmbeddingModel
	}

	return &OpenAIEmbeddingProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (p *OpenAIEmbeddingProvider) Name() string { return "openai" }

func (p *OpenAIEmbeddingProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API error: %w", err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}
