package retriever

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"docqa/internal/embedding"
	"docqa/internal/models"
	"docqa/internal/store"
)

// Retriever embeds a query and pulls the nearest chunks from the index.
// It never mutates the index; results are deterministic for a stable
// index snapshot and a deterministic embedding service.
type Retriever struct {
	gateway *embedding.Gateway
	store   store.Store
}

func New(gateway *embedding.Gateway, s store.Store) *Retriever {
	return &Retriever{gateway: gateway, store: s}
}

// Retrieve returns up to topK results ordered by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	queryVector, err := r.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.store.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	log.Debug().Int("top_k", topK).Int("hits", len(results)).Msg("Retrieved chunks")
	return results, nil
}
