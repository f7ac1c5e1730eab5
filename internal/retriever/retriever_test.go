package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/embedding"
	"docqa/internal/models"
	"docqa/internal/store"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	v, ok := f.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

func seedStore(t *testing.T) *store.ChromemStore {
	t.Helper()
	s, err := store.NewChromemStore(t.TempDir(), "documents")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	src := models.Source{ID: "src", Name: "doc.txt", Kind: models.SourceTypeTXT, IngestedAt: time.Now()}
	chunks := []models.Chunk{
		{ID: "src-0", SourceID: "src", Seq: 0, Text: "about cats", Embedding: []float32{1, 0, 0}},
		{ID: "src-1", SourceID: "src", Seq: 1, Text: "about dogs", Embedding: []float32{0, 1, 0}},
		{ID: "src-2", SourceID: "src", Seq: 2, Text: "about cats mostly", Embedding: []float32{0.95, 0.05, 0}},
	}
	require.NoError(t, s.Insert(context.Background(), src, chunks))
	return s
}

func TestRetrieve_OrdersBySimilarity(t *testing.T) {
	s := seedStore(t)
	gateway := embedding.NewGateway(&fakeEmbedder{vectors: map[string][]float32{
		"cats?": {1, 0, 0},
	}})
	r := New(gateway, s)

	results, err := r.Retrieve(context.Background(), "cats?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "about cats", results[0].Chunk.Text)
	assert.Equal(t, "about cats mostly", results[1].Chunk.Text)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestRetrieve_DoesNotMutateIndex(t *testing.T) {
	s := seedStore(t)
	gateway := embedding.NewGateway(&fakeEmbedder{vectors: map[string][]float32{}})
	r := New(gateway, s)

	_, err := r.Retrieve(context.Background(), "anything", 3)
	require.NoError(t, err)

	infos, err := s.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 3, infos[0].ChunkCount)
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	s := seedStore(t)
	gateway := embedding.NewGateway(&fakeEmbedder{fail: true})
	r := New(gateway, s)

	_, err := r.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, embedding.ErrService)
}
