package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
)

// ErrService marks failures of the external embedding service.
var ErrService = errors.New("embedding service error")

// Gateway turns text into fixed-dimension vectors through an external
// embedding service. Pure mapping: same input order, same output order,
// no retries — callers decide retry policy.
type Gateway struct {
	embedder embeddings.Embedder
}

// NewGateway wraps an existing embedder, mostly for tests.
func NewGateway(e embeddings.Embedder) *Gateway {
	return &Gateway{embedder: e}
}

// NewOllamaGateway builds a gateway against an Ollama embedding model.
func NewOllamaGateway(cfg *config.LLMConfig) (*Gateway, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama embedder: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Ollama embedder ready")
	return &Gateway{embedder: embedder}, nil
}

// NewOpenAIGateway builds a gateway against an OpenAI-compatible endpoint.
func NewOpenAIGateway(cfg *config.LLMConfig) (*Gateway, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai embedder: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &Gateway{embedder: embedder}, nil
}

// EmbedTexts embeds a batch, preserving input order so callers can zip
// texts with vectors positionally.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrService, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := g.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	return vector, nil
}
