package embeddings_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/cache"
	"github.com/themis-legal/themis/internal/embeddings"
	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/pkg/models"
)

// fakeEmbedder returns a deterministic vector per text and counts calls.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 1.0 / 3.0, float64(i)}
	}
	return out, nil
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func newService(t *testing.T) (*embeddings.Service, *fakeEmbedder, *knowledge.MemoryRepository) {
	t.Helper()
	mem, err := cache.NewMemory(100)
	require.NoError(t, err)
	t.Cleanup(mem.Close)
	emb := &fakeEmbedder{}
	repo := knowledge.NewMemoryRepository()
	return embeddings.NewService(emb, repo, mem), emb, repo
}

func TestChunkWords(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		size      int
		overlap   int
		wantCount int
	}{
		{"single chunk when short", 10, 500, 50, 1},
		{"exact size", 500, 500, 50, 1},
		{"5000 words", 5000, 500, 50, 11},
		{"no overlap", 1000, 100, 0, 10},
		{"one past boundary", 501, 500, 50, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := embeddings.ChunkWords(words(tt.n), tt.size, tt.overlap)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantCount)
			for _, c := range chunks {
				assert.LessOrEqual(t, len(strings.Fields(c)), tt.size)
			}
		})
	}

	t.Run("consecutive chunks share overlap words", func(t *testing.T) {
		chunks, err := embeddings.ChunkWords(words(20), 10, 3)
		require.NoError(t, err)
		first := strings.Fields(chunks[0])
		second := strings.Fields(chunks[1])
		assert.Equal(t, first[len(first)-3:], second[:3])
	})

	t.Run("rejects overlap >= size", func(t *testing.T) {
		_, err := embeddings.ChunkWords("a b c", 10, 10)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("empty content", func(t *testing.T) {
		chunks, err := embeddings.ChunkWords("   ", 10, 1)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestGenerateEmbedding_CachesIdenticalText(t *testing.T) {
	svc, emb, _ := newService(t)
	ctx := context.Background()

	first, err := svc.GenerateEmbedding(ctx, "prazo recursal")
	require.NoError(t, err)
	second, err := svc.GenerateEmbedding(ctx, "prazo recursal")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, emb.calls, 1)

	_, err = svc.GenerateEmbedding(ctx, "outro texto")
	require.NoError(t, err)
	assert.Len(t, emb.calls, 2)
}

func TestGenerateEmbedding_ProviderFailure(t *testing.T) {
	svc, emb, _ := newService(t)
	emb.err = fmt.Errorf("%w: boom", models.ErrProviderFailure)

	_, err := svc.GenerateEmbedding(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrProviderFailure)
}

type brokenCache struct{ cache.Noop }

func (brokenCache) Get(context.Context, string, any, any) (bool, error) {
	return false, errors.New("cache down")
}

func TestGenerateEmbedding_CacheErrorIsMiss(t *testing.T) {
	emb := &fakeEmbedder{}
	svc := embeddings.NewService(emb, knowledge.NewMemoryRepository(), brokenCache{})

	vec, err := svc.GenerateEmbedding(context.Background(), "x")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}

func TestGenerateBatchEmbeddings_NotCached(t *testing.T) {
	svc, emb, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GenerateBatchEmbeddings(ctx, []string{"a", "b"})
	require.NoError(t, err)
	_, err = svc.GenerateBatchEmbeddings(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, emb.calls, 2)
}

func TestIngest(t *testing.T) {
	svc, emb, repo := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, embeddings.IngestPayload{
		Content:    words(5000),
		SourceType: models.SourceLegislation,
		Title:      "Código de Processo Civil",
		Tags:       []string{"cpc"},
		Metadata:   map[string]any{"lei": "13.105/2015"},
		ChunkSize:  500,
		Overlap:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, res.EntriesCreated)
	assert.Len(t, res.EntryIDs, 11)
	require.Len(t, emb.calls, 1, "all chunks embedded in one batch")
	assert.Len(t, emb.calls[0], 11)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, count)

	hits, err := repo.SimilaritySearch(ctx, []float64{1, 0, 0}, 20)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, h := range hits {
		assert.Equal(t, 11, h.Entry.Metadata["total_chunks"])
		assert.Equal(t, "13.105/2015", h.Entry.Metadata["lei"])
		assert.Equal(t, "pt-BR", h.Entry.Language)
		assert.LessOrEqual(t, len(strings.Fields(h.Entry.Content)), 500)
		seen[h.Entry.Metadata["chunk_index"].(int)] = true
	}
	for i := 0; i < 11; i++ {
		assert.True(t, seen[i], "chunk_index %d present", i)
	}
}

func TestIngest_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, embeddings.IngestPayload{SourceType: "legislation"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Ingest(ctx, embeddings.IngestPayload{Content: "a b", SourceType: "x", ChunkSize: 5, Overlap: 5})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
