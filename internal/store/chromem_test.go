package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/models"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(t.TempDir(), "documents")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSource(id, name string) models.Source {
	return models.Source{
		ID:         id,
		Name:       name,
		Kind:       models.SourceTypeTXT,
		IngestedAt: time.Now().UTC(),
	}
}

func testChunks(sourceID string, vectors ...[]float32) []models.Chunk {
	chunks := make([]models.Chunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = models.Chunk{
			ID:        sourceID + "-" + string(rune('0'+i)),
			SourceID:  sourceID,
			Seq:       i,
			Text:      "chunk " + string(rune('0'+i)) + " of " + sourceID,
			Start:     i * 10,
			End:       i*10 + 10,
			Embedding: v,
		}
	}
	return chunks
}

func TestChromemStore_InsertAndSearchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a",
		[]float32{1, 0, 0},
		[]float32{0.9, 0.1, 0},
		[]float32{0, 1, 0},
	)))

	// top_k >= N returns all N ordered by non-increasing similarity
	results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 0; i < len(results)-1; i++ {
		assert.GreaterOrEqual(t, results[i].Similarity, results[i+1].Similarity)
	}
	assert.Equal(t, "a-0", results[0].Chunk.ID)
	assert.Equal(t, "a.txt", results[0].Source.Name)
	assert.Equal(t, "chunk 0 of a", results[0].Chunk.Text)
}

func TestChromemStore_SearchEmptyIndex(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_TopKLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a",
		[]float32{1, 0, 0},
		[]float32{0, 1, 0},
		[]float32{0, 0, 1},
	)))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestChromemStore_TieBreakByInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// identical vectors across two sources: earlier insertion wins
	require.NoError(t, s.Insert(ctx, testSource("first", "first.txt"), testChunks("first",
		[]float32{0, 1, 0},
	)))
	require.NoError(t, s.Insert(ctx, testSource("second", "second.txt"), testChunks("second",
		[]float32{0, 1, 0},
	)))

	results, err := s.Search(ctx, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Source.ID)
	assert.Equal(t, "second", results[1].Source.ID)
}

func TestChromemStore_DuplicateChunkID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a", []float32{1, 0, 0})))
	err := s.Insert(ctx, testSource("b", "b.txt"), testChunks("a", []float32{0, 1, 0}))
	assert.ErrorIs(t, err, ErrDuplicateChunk)
}

func TestChromemStore_DeleteSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a", []float32{1, 0, 0})))
	require.NoError(t, s.Insert(ctx, testSource("b", "b.txt"), testChunks("b", []float32{0.9, 0.1, 0})))

	removed, err := s.DeleteSource(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	// search never returns a chunk of a deleted source
	results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Source.ID)

	infos, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].Source.ID)

	// repeating the delete is a no-op, not an error
	removed, err = s.DeleteSource(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestChromemStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a", []float32{1, 0, 0})))
	require.NoError(t, s.Insert(ctx, testSource("b", "b.txt"), testChunks("b", []float32{0, 1, 0})))

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	infos, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestChromemStore_ListSourcesWithCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srcA := testSource("a", "a.txt")
	srcA.IngestedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srcB := testSource("b", "b.txt")
	srcB.IngestedAt = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, srcB, testChunks("b", []float32{0, 1, 0})))
	require.NoError(t, s.Insert(ctx, srcA, testChunks("a", []float32{1, 0, 0}, []float32{0, 0, 1})))

	infos, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Source.ID)
	assert.Equal(t, 2, infos[0].ChunkCount)
	assert.Equal(t, "b", infos[1].Source.ID)
	assert.Equal(t, 1, infos[1].ChunkCount)
}

func TestChromemStore_GetSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testSource("a", "a.txt"), testChunks("a", []float32{1, 0, 0})))

	src, err := s.GetSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", src.Name)

	_, err = s.GetSource(ctx, "missing")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewChromemStore(dir, "documents")
	require.NoError(t, err)
	require.NoError(t, s1.Insert(ctx, testSource("a", "a.txt"), testChunks("a",
		[]float32{1, 0, 0},
		[]float32{0, 1, 0},
	)))
	require.NoError(t, s1.Close())

	s2, err := NewChromemStore(dir, "documents")
	require.NoError(t, err)
	defer s2.Close()

	results, err := s2.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-0", results[0].Chunk.ID)

	infos, err := s2.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].ChunkCount)

	// insertion counter survives too: new inserts still tie-break after old
	require.NoError(t, s2.Insert(ctx, testSource("b", "b.txt"), testChunks("b", []float32{1, 0, 0})))
	results, err = s2.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a-0", results[0].Chunk.ID)
	assert.Equal(t, "b-0", results[1].Chunk.ID)
}
