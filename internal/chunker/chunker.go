package chunker

import (
	"errors"
	"fmt"

	"docqa/internal/models"
)

var ErrInvalidWindow = errors.New("invalid chunk window")

// Split cuts text into overlapping fixed-size windows of chunkSize
// characters, advancing by chunkSize-overlap each step. The final window
// may be shorter and is still emitted when non-empty. Empty text yields
// no chunks and no error. Sizes are measured in runes so multi-byte text
// keeps the overlap invariant intact.
func Split(text, sourceID string, chunkSize, overlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidWindow, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d for chunk size %d", ErrInvalidWindow, overlap, chunkSize)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	var chunks []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		seq := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:       ChunkID(sourceID, seq),
			SourceID: sourceID,
			Seq:      seq,
			Text:     string(runes[start:end]),
			Start:    start,
			End:      end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// ChunkID derives a chunk's id from its owning source and sequence index.
func ChunkID(sourceID string, seq int) string {
	return fmt.Sprintf("%s-%d", sourceID, seq)
}

// Reassemble joins chunks back into the original text by discarding the
// overlapping prefix of every non-first chunk.
func Reassemble(chunks []models.Chunk, overlap int) string {
	var out []rune
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i > 0 && overlap < len(runes) {
			runes = runes[overlap:]
		} else if i > 0 {
			continue
		}
		out = append(out, runes...)
	}
	return string(out)
}
