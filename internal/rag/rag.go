package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/helper"
	"docqa/internal/llm"
	"docqa/internal/models"
	"docqa/internal/normalizer"
	"docqa/internal/prompt"
	"docqa/internal/retriever"
	"docqa/internal/store"
)

// ErrUploadTooLarge means the ingested payload exceeds the configured cap.
var ErrUploadTooLarge = errors.New("upload exceeds maximum size")

// RAG composes normalization, chunking, embedding, the vector index,
// retrieval, prompt assembly, and generation into the ingest and query
// flows. Operations on one source id are serialized; different sources
// proceed independently.
type RAG struct {
	store      store.Store
	embedder   *embedding.Gateway
	generator  *llm.Client
	normalizer *normalizer.Normalizer
	retriever  *retriever.Retriever
	cfg        *config.Config

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

func NewRAG(s store.Store, embedder *embedding.Gateway, generator *llm.Client, n *normalizer.Normalizer, cfg *config.Config) *RAG {
	return &RAG{
		store:       s,
		embedder:    embedder,
		generator:   generator,
		normalizer:  n,
		retriever:   retriever.New(embedder, s),
		cfg:         cfg,
		sourceLocks: map[string]*sync.Mutex{},
	}
}

// IngestResult describes a successful ingestion.
type IngestResult struct {
	Source     models.Source `json:"source"`
	ChunkCount int           `json:"chunk_count"`
}

// QueryOptions carries per-query overrides; zero values fall back to
// configuration.
type QueryOptions struct {
	TopK int
}

// Answer is a complete query response with the sources actually cited.
type Answer struct {
	Text      string            `json:"text"`
	Citations []models.Citation `json:"citations"`
	NoSources bool              `json:"no_sources"`
}

// IngestFile normalizes raw file bytes, chunks, embeds, and indexes them
// as a new source. Any failure leaves no partial chunks behind.
func (r *RAG) IngestFile(ctx context.Context, name string, data []byte, kind models.SourceType) (*IngestResult, error) {
	if int64(len(data)) > r.cfg.RAG.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrUploadTooLarge, len(data), r.cfg.RAG.MaxUploadSize)
	}
	text, err := r.normalizer.NormalizeFile(name, data, kind)
	if err != nil {
		return nil, err
	}
	return r.ingestText(ctx, name, kind, text)
}

// IngestURL fetches a page and indexes its visible text as a new source.
func (r *RAG) IngestURL(ctx context.Context, rawURL string) (*IngestResult, error) {
	text, err := r.normalizer.FetchURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return r.ingestText(ctx, rawURL, models.SourceTypeURL, text)
}

func (r *RAG) ingestText(ctx context.Context, name string, kind models.SourceType, text string) (*IngestResult, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	source := models.Source{
		ID:         id,
		Name:       name,
		Kind:       kind,
		IngestedAt: time.Now().UTC(),
	}

	unlock := r.lockSource(id)
	defer unlock()

	chunks, err := chunker.Split(text, id, r.cfg.RAG.ChunkSize, r.cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("normalize %s: %w", name, normalizer.ErrEmptyDocument)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := r.store.Insert(ctx, source, chunks); err != nil {
		// no partial chunk set may survive a failed ingestion
		if _, delErr := r.store.DeleteSource(ctx, id); delErr != nil {
			log.Warn().Err(delErr).Str("source", id).Msg("Cleanup after failed ingestion")
		}
		return nil, err
	}

	log.Info().Str("source", id).Str("name", name).Int("chunks", len(chunks)).Msg("Ingested source")
	return &IngestResult{Source: source, ChunkCount: len(chunks)}, nil
}

// Query answers a question from the knowledge base. Citations list the
// sources whose chunks survived context truncation, never the full
// retrieval set.
func (r *RAG) Query(ctx context.Context, question string, opts QueryOptions) (*Answer, error) {
	promptText, used, err := r.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	answer, err := r.generator.Generate(ctx, promptText)
	if err != nil {
		return nil, err
	}

	a := &Answer{
		Text:      answer,
		Citations: citationsFrom(used),
		NoSources: len(used) == 0,
	}
	if a.NoSources {
		a.Text = models.NoSourcesMarker + "\n\n" + strings.TrimSpace(answer)
	}
	return a, nil
}

// StreamingAnswer yields answer fragments and the citations for the
// context that produced them.
type StreamingAnswer struct {
	Citations []models.Citation
	NoSources bool
	fragments <-chan string
	stream    *llm.Stream
}

// Fragments yields answer fragments in emission order until the answer
// completes or the consumer cancels its context.
func (a *StreamingAnswer) Fragments() <-chan string {
	return a.fragments
}

// Err reports the terminal generation error after Fragments is closed.
func (a *StreamingAnswer) Err() error {
	return a.stream.Err()
}

// QueryStream is Query in streaming mode. Cancelling ctx stops the
// underlying generation call promptly.
func (r *RAG) QueryStream(ctx context.Context, question string, opts QueryOptions) (*StreamingAnswer, error) {
	promptText, used, err := r.prepare(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	stream := r.generator.GenerateStream(ctx, promptText)
	answer := &StreamingAnswer{
		Citations: citationsFrom(used),
		NoSources: len(used) == 0,
		fragments: stream.Fragments(),
		stream:    stream,
	}
	if answer.NoSources {
		answer.fragments = prefixFragments(ctx, models.NoSourcesMarker+"\n\n", stream.Fragments())
	}
	return answer, nil
}

func (r *RAG) prepare(ctx context.Context, question string, opts QueryOptions) (string, []models.RetrievalResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.RAG.TopK
	}
	results, err := r.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return "", nil, err
	}
	promptText, used := prompt.Assemble(question, results, r.cfg.RAG.MaxContextLength)
	return promptText, used, nil
}

// ListSources returns the live sources with chunk counts.
func (r *RAG) ListSources(ctx context.Context) ([]models.SourceInfo, error) {
	return r.store.ListSources(ctx)
}

// DeleteSource removes a source and its chunks. Returns false when the
// source was already absent; repeating the call is a no-op.
func (r *RAG) DeleteSource(ctx context.Context, sourceID string) (bool, error) {
	unlock := r.lockSource(sourceID)
	defer unlock()
	removed, err := r.store.DeleteSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if removed {
		log.Info().Str("source", sourceID).Msg("Deleted source")
	}
	return removed, nil
}

// ClearKnowledgeBase removes every source, returning how many were dropped.
func (r *RAG) ClearKnowledgeBase(ctx context.Context) (int, error) {
	removed, err := r.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	log.Info().Int("sources", removed).Msg("Cleared knowledge base")
	return removed, nil
}

// SystemStatus reports the configured models and index state.
type SystemStatus struct {
	GenerationModel    string `json:"generation_model"`
	EmbeddingModel     string `json:"embedding_model"`
	StoreBackend       string `json:"store_backend"`
	SourceCount        int    `json:"source_count"`
	ChunkCount         int    `json:"chunk_count"`
	GeneratorAvailable bool   `json:"generator_available"`
}

// Status summarizes the system: models, backend, index size, and whether
// the generation model is reachable.
func (r *RAG) Status(ctx context.Context) (*SystemStatus, error) {
	infos, err := r.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	chunkCount := 0
	for _, info := range infos {
		chunkCount += info.ChunkCount
	}
	available, err := r.generator.Available(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Generator availability probe failed")
		available = false
	}
	return &SystemStatus{
		GenerationModel:    r.cfg.GenLLM.Model,
		EmbeddingModel:     r.cfg.EmbedLLM.Model,
		StoreBackend:       r.cfg.Store.Backend,
		SourceCount:        len(infos),
		ChunkCount:         chunkCount,
		GeneratorAvailable: available,
	}, nil
}

// lockSource serializes operations on one source id.
func (r *RAG) lockSource(sourceID string) func() {
	r.mu.Lock()
	l, ok := r.sourceLocks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		r.sourceLocks[sourceID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// citationsFrom dedupes used results by source, keeping rank order and the
// best similarity per source.
func citationsFrom(used []models.RetrievalResult) []models.Citation {
	citations := make([]models.Citation, 0, len(used))
	seen := map[string]bool{}
	for _, u := range used {
		if seen[u.Source.ID] {
			continue
		}
		seen[u.Source.ID] = true
		citations = append(citations, models.Citation{
			SourceID:   u.Source.ID,
			Name:       u.Source.Name,
			Similarity: u.Similarity,
		})
	}
	return citations
}

// prefixFragments prepends one fragment to a stream.
func prefixFragments(ctx context.Context, prefix string, in <-chan string) <-chan string {
	out := make(chan string, 1)
	out <- prefix
	go func() {
		defer close(out)
		for frag := range in {
			select {
			case out <- frag:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
