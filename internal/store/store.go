package store

import (
	"context"
	"errors"

	"docqa/internal/models"
)

var (
	// ErrDuplicateChunk means an insert carried a chunk id that already
	// exists. Ingestion generates fresh ids per attempt, so hitting this
	// indicates a bug rather than a normal path.
	ErrDuplicateChunk = errors.New("duplicate chunk id")

	// ErrSourceNotFound means the requested source id is not in the index.
	ErrSourceNotFound = errors.New("source not found")
)

// Store is the persistent vector index mapping chunk id to vector, text,
// and source metadata. Implementations are safe for concurrent use;
// readers see a source's chunk set entirely or not at all. Mutations are
// durable before they return.
type Store interface {
	// Insert adds a source and its embedded chunks. Fails with
	// ErrDuplicateChunk when a chunk id already exists, leaving no
	// partial chunk set behind.
	Insert(ctx context.Context, source models.Source, chunks []models.Chunk) error

	// Search returns up to topK chunks ranked by descending cosine
	// similarity; ties go to the earlier-inserted chunk. An empty index
	// yields an empty result, not an error.
	Search(ctx context.Context, queryVector []float32, topK int) ([]models.RetrievalResult, error)

	// DeleteSource removes a source and all its chunks. Returns false
	// when the source was absent; repeating the call is a no-op.
	DeleteSource(ctx context.Context, sourceID string) (bool, error)

	// Clear removes every source and chunk, returning how many sources
	// were dropped.
	Clear(ctx context.Context) (int, error)

	// ListSources returns the live sources with chunk counts, ordered by
	// ingestion time.
	ListSources(ctx context.Context) ([]models.SourceInfo, error)

	// GetSource returns one source descriptor or ErrSourceNotFound.
	GetSource(ctx context.Context, sourceID string) (models.Source, error)

	Close() error
}
