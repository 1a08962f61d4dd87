package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/pkg/models"
)

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0.0, knowledge.CosineDistance([]float64{1, 0}, []float64{2, 0}), 1e-12)
	assert.InDelta(t, 1.0, knowledge.CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, 2.0, knowledge.CosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 1.0, knowledge.CosineDistance([]float64{0, 0}, []float64{1, 0}))
}

func TestMemoryRepository_SimilaritySearch(t *testing.T) {
	ctx := context.Background()
	repo := knowledge.NewMemoryRepository()

	entries := []models.KnowledgeBaseEntry{
		{Content: "far", Embedding: []float64{0, 1}, SourceType: models.SourceLegislation},
		{Content: "near", Embedding: []float64{1, 0.1}, SourceType: models.SourceLegislation},
		{Content: "exact", Embedding: []float64{1, 0}, SourceType: models.SourceJurisprudence},
		{Content: "wrong-dims", Embedding: []float64{1, 0, 0}, SourceType: models.SourceDocument},
	}
	require.NoError(t, repo.Create(ctx, entries))
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	got, err := repo.SimilaritySearch(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Entry.Content)
	assert.Equal(t, "near", got[1].Entry.Content)
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
	assert.False(t, got[0].Entry.CreatedAt.IsZero())

	all, err := repo.SimilaritySearch(ctx, []float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.SimilaritySearch(ctx, []float64{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository_Capacity(t *testing.T) {
	repo := knowledge.NewMemoryRepository(knowledge.WithMaxEntries(1))
	err := repo.Create(context.Background(), []models.KnowledgeBaseEntry{
		{Content: "a", Embedding: []float64{1}},
		{Content: "b", Embedding: []float64{1}},
	})
	assert.Error(t, err)
}
