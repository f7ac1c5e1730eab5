package models

import "time"

// SourceType identifies the declared format of an ingested source.
type SourceType string

const (
	SourceTypePDF  SourceType = "pdf"
	SourceTypeDOCX SourceType = "docx"
	SourceTypeTXT  SourceType = "txt"
	SourceTypeMD   SourceType = "md"
	SourceTypeXLSX SourceType = "xlsx"
	SourceTypeODS  SourceType = "ods"
	SourceTypeURL  SourceType = "url"
)

// Origin reports whether the source came from an uploaded file or a fetched URL.
func (t SourceType) Origin() string {
	if t == SourceTypeURL {
		return "url"
	}
	return "file"
}

// Source is one ingested document or URL, the unit of deletion and citation.
type Source struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       SourceType `json:"kind"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Chunk is a contiguous slice of a source's normalized text. Chunks are
// immutable once created; updating a source means delete then reinsert.
type Chunk struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Embedding []float32 `json:"-"`
}

// RetrievalResult pairs a retrieved chunk with its similarity score and
// owning source. Ephemeral, never persisted.
type RetrievalResult struct {
	Chunk      Chunk
	Source     Source
	Similarity float32
}

// SourceInfo is a source descriptor plus its live chunk count.
type SourceInfo struct {
	Source     Source `json:"source"`
	ChunkCount int    `json:"chunk_count"`
}

// Citation names a source that actually contributed context to an answer.
type Citation struct {
	SourceID   string  `json:"source_id"`
	Name       string  `json:"name"`
	Similarity float32 `json:"similarity"`
}
