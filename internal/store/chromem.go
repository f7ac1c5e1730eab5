package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

// ChromemStore is the embedded vector index backend. chromem-go holds the
// vectors and chunk payloads on disk; a JSON manifest alongside it owns
// the source registry, chunk ownership, and the global insertion counter
// used for similarity tie-breaks.
type ChromemStore struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	path           string
	collectionName string
	manifest       *manifest
	manifestPath   string
	chunkOwner     map[string]string // chunk id -> source id
}

type manifest struct {
	NextSeq int64                     `json:"next_seq"`
	Sources map[string]*manifestEntry `json:"sources"`
}

type manifestEntry struct {
	Source   models.Source `json:"source"`
	ChunkIDs []string      `json:"chunk_ids"`
}

const compress = false

// NewChromemStore opens (or creates) a persistent index under path.
func NewChromemStore(path, collectionName string) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create/get collection: %w", err)
	}

	s := &ChromemStore{
		db:             db,
		collection:     collection,
		path:           path,
		collectionName: collectionName,
		manifest:       &manifest{Sources: map[string]*manifestEntry{}},
		manifestPath:   filepath.Join(path, collectionName+".sources.json"),
		chunkOwner:     map[string]string{},
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Int("sources", len(s.manifest.Sources)).Msg("Opened vector index")
	return s, nil
}

func (s *ChromemStore) Insert(ctx context.Context, source models.Source, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if _, exists := s.chunkOwner[c.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, c.ID)
		}
	}

	docs := make([]chromem.Document, len(chunks))
	ids := make([]string, len(chunks))
	seq := s.manifest.NextSeq
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: c.Embedding,
			Metadata: map[string]string{
				"source_id": source.ID,
				"seq":       strconv.FormatInt(seq+int64(i), 10),
				"start":     strconv.Itoa(c.Start),
				"end":       strconv.Itoa(c.End),
			},
		}
		ids[i] = c.ID
	}

	if len(docs) == 0 {
		return fmt.Errorf("source %s: no chunks to insert", source.ID)
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		// drop whatever made it in so no partial chunk set survives
		if delErr := s.collection.Delete(ctx, nil, nil, ids...); delErr != nil {
			log.Warn().Err(delErr).Str("source", source.ID).Msg("Cleanup after failed insert")
		}
		return fmt.Errorf("add documents: %w", err)
	}

	s.manifest.NextSeq = seq + int64(len(chunks))
	s.manifest.Sources[source.ID] = &manifestEntry{Source: source, ChunkIDs: ids}
	for _, id := range ids {
		s.chunkOwner[id] = source.ID
	}
	if err := s.saveManifest(); err != nil {
		return err
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, queryVector []float32, topK int) ([]models.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}

	// fetch everything and rank here: chromem's own ordering leaves
	// equal-similarity ties unspecified, and insertion order must win
	results, err := s.collection.QueryEmbedding(ctx, queryVector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	ranked := make([]models.RetrievalResult, 0, len(results))
	for _, r := range results {
		rr, err := s.toResult(r)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, rr)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Chunk.Seq < ranked[j].Chunk.Seq
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (s *ChromemStore) toResult(r chromem.Result) (models.RetrievalResult, error) {
	sourceID := r.Metadata["source_id"]
	entry, ok := s.manifest.Sources[sourceID]
	if !ok {
		return models.RetrievalResult{}, fmt.Errorf("chunk %s: %w", r.ID, ErrSourceNotFound)
	}
	seq, _ := strconv.ParseInt(r.Metadata["seq"], 10, 64)
	start, _ := strconv.Atoi(r.Metadata["start"])
	end, _ := strconv.Atoi(r.Metadata["end"])
	return models.RetrievalResult{
		Chunk: models.Chunk{
			ID:        r.ID,
			SourceID:  sourceID,
			Seq:       int(seq),
			Text:      r.Content,
			Start:     start,
			End:       end,
			Embedding: r.Embedding,
		},
		Source:     entry.Source,
		Similarity: r.Similarity,
	}, nil
}

func (s *ChromemStore) DeleteSource(ctx context.Context, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.manifest.Sources[sourceID]
	if !ok {
		return false, nil
	}
	if len(entry.ChunkIDs) > 0 {
		if err := s.collection.Delete(ctx, nil, nil, entry.ChunkIDs...); err != nil {
			return false, fmt.Errorf("delete chunks: %w", err)
		}
	}
	for _, id := range entry.ChunkIDs {
		delete(s.chunkOwner, id)
	}
	delete(s.manifest.Sources, sourceID)
	if err := s.saveManifest(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ChromemStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.manifest.Sources)
	if err := s.db.DeleteCollection(s.collectionName); err != nil {
		return 0, fmt.Errorf("drop collection: %w", err)
	}
	collection, err := s.db.GetOrCreateCollection(s.collectionName, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("recreate collection: %w", err)
	}
	s.collection = collection
	s.manifest = &manifest{Sources: map[string]*manifestEntry{}}
	s.chunkOwner = map[string]string{}
	if err := s.saveManifest(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *ChromemStore) ListSources(ctx context.Context) ([]models.SourceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]models.SourceInfo, 0, len(s.manifest.Sources))
	for _, entry := range s.manifest.Sources {
		infos = append(infos, models.SourceInfo{
			Source:     entry.Source,
			ChunkCount: len(entry.ChunkIDs),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Source.IngestedAt.Equal(infos[j].Source.IngestedAt) {
			return infos[i].Source.IngestedAt.Before(infos[j].Source.IngestedAt)
		}
		return infos[i].Source.ID < infos[j].Source.ID
	})
	return infos, nil
}

func (s *ChromemStore) GetSource(ctx context.Context, sourceID string) (models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.manifest.Sources[sourceID]
	if !ok {
		return models.Source{}, fmt.Errorf("%s: %w", sourceID, ErrSourceNotFound)
	}
	return entry.Source, nil
}

// Close flushes nothing extra: chromem persists on every mutation and the
// manifest is rewritten after each change.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.Sources == nil {
		m.Sources = map[string]*manifestEntry{}
	}
	s.manifest = &m
	for id, entry := range m.Sources {
		for _, chunkID := range entry.ChunkIDs {
			s.chunkOwner[chunkID] = id
		}
	}
	return nil
}

func (s *ChromemStore) saveManifest() error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := s.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, s.manifestPath); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
