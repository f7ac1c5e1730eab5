package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/llm"
	"docqa/internal/models"
	"docqa/internal/normalizer"
	"docqa/internal/store"
)

// fakeEmbedder scores texts by topic keywords so that queries land on
// predictable sources.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) embed(text string) []float32 {
	v := []float32{0, 0, 0.01}
	if strings.Contains(text, "feline") {
		v[0] = 1
	}
	if strings.Contains(text, "canine") {
		v[1] = 1
	}
	return v
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return f.embed(text), nil
}

// fakeModel replays canned fragments; streaming goes through the callback.
type fakeModel struct {
	fragments []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	var full strings.Builder
	for _, frag := range f.fragments {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(frag)); err != nil {
				return nil, err
			}
		}
		full.WriteString(frag)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: full.String()}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, _ string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestRAG(t *testing.T, emb *fakeEmbedder) (*RAG, *store.ChromemStore) {
	t.Helper()
	cfg := config.Default()
	cfg.RAG.ChunkSize = 200
	cfg.RAG.ChunkOverlap = 20
	cfg.RAG.TopK = 5

	s, err := store.NewChromemStore(t.TempDir(), "documents")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	r := NewRAG(
		s,
		embedding.NewGateway(emb),
		llm.NewClient(&fakeModel{fragments: []string{"the answer ", "is 42"}}, "test-model"),
		normalizer.New(cfg),
		cfg,
	)
	return r, s
}

func TestIngestFileAndQuery(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	ctx := context.Background()

	res, err := r.IngestFile(ctx, "cats.txt", []byte("all about the feline kind"), models.SourceTypeTXT)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, "cats.txt", res.Source.Name)

	answer, err := r.Query(ctx, "feline facts?", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", answer.Text)
	assert.False(t, answer.NoSources)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, res.Source.ID, answer.Citations[0].SourceID)
	assert.Equal(t, "cats.txt", answer.Citations[0].Name)
}

func TestIngestFile_TooLarge(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	r.cfg.RAG.MaxUploadSize = 8

	_, err := r.IngestFile(context.Background(), "big.txt", []byte("well over eight bytes"), models.SourceTypeTXT)
	assert.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestIngestFile_FailureLeavesNoPartialState(t *testing.T) {
	emb := &fakeEmbedder{}
	r, s := newTestRAG(t, emb)
	ctx := context.Background()

	emb.fail = true
	_, err := r.IngestFile(ctx, "doc.txt", []byte("some feline text"), models.SourceTypeTXT)
	require.Error(t, err)

	infos, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteSource_ExcludedFromCitations(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	ctx := context.Background()

	cats, err := r.IngestFile(ctx, "cats.txt", []byte("feline notes"), models.SourceTypeTXT)
	require.NoError(t, err)
	dogs, err := r.IngestFile(ctx, "dogs.txt", []byte("canine notes"), models.SourceTypeTXT)
	require.NoError(t, err)

	removed, err := r.DeleteSource(ctx, dogs.Source.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	// deleting again is a no-op
	removed, err = r.DeleteSource(ctx, dogs.Source.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	answer, err := r.Query(ctx, "canine or feline?", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, cats.Source.ID, answer.Citations[0].SourceID)
}

func TestQuery_EmptyKnowledgeBase(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})

	answer, err := r.Query(context.Background(), "anything?", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, answer.NoSources)
	assert.Empty(t, answer.Citations)
	assert.True(t, strings.HasPrefix(answer.Text, models.NoSourcesMarker))
	assert.Contains(t, answer.Text, "the answer is 42")
}

func TestQueryStream(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := r.IngestFile(ctx, "cats.txt", []byte("feline notes"), models.SourceTypeTXT)
	require.NoError(t, err)

	stream, err := r.QueryStream(ctx, "feline?", QueryOptions{})
	require.NoError(t, err)
	assert.False(t, stream.NoSources)
	require.Len(t, stream.Citations, 1)

	var got []string
	for frag := range stream.Fragments() {
		got = append(got, frag)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "the answer is 42", strings.Join(got, ""))
}

func TestQueryStream_EmptyKnowledgeBaseEmitsMarkerFirst(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})

	stream, err := r.QueryStream(context.Background(), "anything?", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, stream.NoSources)
	assert.Empty(t, stream.Citations)

	var got []string
	for frag := range stream.Fragments() {
		got = append(got, frag)
	}
	require.NoError(t, stream.Err())
	require.NotEmpty(t, got)
	assert.True(t, strings.HasPrefix(got[0], models.NoSourcesMarker))
	assert.Contains(t, strings.Join(got, ""), "the answer is 42")
}

func TestClearKnowledgeBase(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := r.IngestFile(ctx, "a.txt", []byte("feline"), models.SourceTypeTXT)
	require.NoError(t, err)
	_, err = r.IngestFile(ctx, "b.txt", []byte("canine"), models.SourceTypeTXT)
	require.NoError(t, err)

	removed, err := r.ClearKnowledgeBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err := r.ListSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStatus(t *testing.T) {
	r, _ := newTestRAG(t, &fakeEmbedder{})
	ctx := context.Background()

	_, err := r.IngestFile(ctx, "a.txt", []byte("feline"), models.SourceTypeTXT)
	require.NoError(t, err)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chromem", status.StoreBackend)
	assert.Equal(t, 1, status.SourceCount)
	assert.Equal(t, 1, status.ChunkCount)
	assert.False(t, status.GeneratorAvailable)
}
