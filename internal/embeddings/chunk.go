package embeddings

import (
	"fmt"
	"strings"

	"github.com/themis-legal/themis/pkg/models"
)

// Chunking defaults, in words.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// ChunkWords splits content into windows of chunkSize words where consecutive
// windows repeat overlap words. Content of at most chunkSize words yields a
// single chunk. Whitespace is normalised to single spaces.
func ChunkWords(content string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", models.ErrInvalidInput)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidInput, overlap, chunkSize)
	}

	words := strings.Fields(content)
	if len(words) == 0 {
		return nil, nil
	}
	if len(words) <= chunkSize {
		return []string{strings.Join(words, " ")}, nil
	}

	stride := chunkSize - overlap
	var chunks []string
	for start := 0; ; start += stride {
		end := min(start+chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			return chunks, nil
		}
	}
}
