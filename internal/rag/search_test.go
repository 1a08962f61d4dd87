package rag_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/cache"
	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/pkg/models"
)

// staticEmbedder maps every query to the same unit vector.
type staticEmbedder struct {
	vec []float64
	err error
}

func (s staticEmbedder) GenerateEmbedding(context.Context, string) ([]float64, error) {
	return s.vec, s.err
}

// seed stores entries whose cosine distance to [1,0] is the given value.
func seed(t *testing.T, repo knowledge.Repository, entries ...models.KnowledgeBaseEntry) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), entries))
}

// at returns a 2-d vector at cosine distance d from [1,0].
func at(d float64) []float64 {
	c := 1 - d
	return []float64{c, math.Sqrt(1 - c*c)}
}

func newService(t *testing.T) (*rag.Service, *knowledge.MemoryRepository) {
	t.Helper()
	mem, err := cache.NewMemory(100)
	require.NoError(t, err)
	t.Cleanup(mem.Close)
	repo := knowledge.NewMemoryRepository()
	return rag.NewService(staticEmbedder{vec: []float64{1, 0}}, repo, mem), repo
}

func TestSearch_FiltersAndThresholds(t *testing.T) {
	svc, repo := newService(t)
	seed(t, repo,
		models.KnowledgeBaseEntry{Title: "art. 219", Content: "prazos em dias úteis", SourceType: models.SourceLegislation, Embedding: at(0.05)},
		models.KnowledgeBaseEntry{Title: "art. 224", Content: "exclui o dia do começo", SourceType: models.SourceLegislation, Embedding: at(0.2)},
		models.KnowledgeBaseEntry{Title: "distante", Content: "pouco relevante", SourceType: models.SourceLegislation, Embedding: at(0.5)},
		models.KnowledgeBaseEntry{Title: "REsp", Content: "precedente", SourceType: models.SourceJurisprudence, Embedding: at(0.01)},
	)

	results := svc.Search(context.Background(), "prazo", rag.SearchOptions{SourceType: models.SourceLegislation})
	require.Len(t, results, 2)
	assert.Equal(t, "art. 219", results[0].Title)
	assert.Equal(t, "art. 224", results[1].Title)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Confidence, rag.DefaultMinConfidence)
		assert.InDelta(t, 1-r.Distance, r.Confidence, 1e-12)
		assert.Equal(t, models.SourceLegislation, r.SourceType)
	}

	limited := svc.Search(context.Background(), "prazo", rag.SearchOptions{Limit: 1, MinConfidence: rag.Threshold(0.1)})
	require.Len(t, limited, 1)
	assert.Equal(t, "REsp", limited[0].Title)
}

func TestSearch_ExplicitZeroThreshold(t *testing.T) {
	svc, repo := newService(t)
	seed(t, repo,
		models.KnowledgeBaseEntry{Title: "próximo", SourceType: models.SourceLegislation, Embedding: at(0.1)},
		models.KnowledgeBaseEntry{Title: "distante", SourceType: models.SourceLegislation, Embedding: at(0.9)},
	)

	defaults := svc.Search(context.Background(), "prazo", rag.SearchOptions{})
	require.Len(t, defaults, 1)

	var opts rag.SearchOptions
	require.NoError(t, json.Unmarshal([]byte(`{"min_confidence":0}`), &opts))
	require.NotNil(t, opts.MinConfidence)

	all := svc.Search(context.Background(), "prazo", opts)
	require.Len(t, all, 2)
	assert.Equal(t, "distante", all[1].Title)
}

func TestSearch_TagOverlap(t *testing.T) {
	svc, repo := newService(t)
	seed(t, repo,
		models.KnowledgeBaseEntry{Title: "petição", SourceType: models.SourceDocument, Tags: []string{rag.CaseTag("c1")}, Embedding: at(0.1)},
		models.KnowledgeBaseEntry{Title: "outro caso", SourceType: models.SourceDocument, Tags: []string{rag.CaseTag("c2")}, Embedding: at(0.05)},
	)

	res := svc.Document(context.Background(), "petição", "c1")
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "petição", res.Sources[0].Title)
}

func TestSearch_NeverFails(t *testing.T) {
	repo := knowledge.NewMemoryRepository()
	svc := rag.NewService(staticEmbedder{err: errors.New("provider down")}, repo, nil)

	results := svc.Search(context.Background(), "x", rag.SearchOptions{})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_ServesFromCache(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	seed(t, repo, models.KnowledgeBaseEntry{Title: "a", SourceType: models.SourceLegislation, Embedding: at(0.1)})

	first := svc.Search(ctx, "q", rag.SearchOptions{})
	require.Len(t, first, 1)

	seed(t, repo, models.KnowledgeBaseEntry{Title: "b", SourceType: models.SourceLegislation, Embedding: at(0.05)})
	second := svc.Search(ctx, "q", rag.SearchOptions{})
	require.Len(t, second, 1)
	assert.Equal(t, "a", second[0].Title)

	other := svc.Search(ctx, "q", rag.SearchOptions{Limit: 2})
	assert.Len(t, other, 2)
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "", rag.BuildContext(nil))

	got := rag.BuildContext([]rag.SearchResult{
		{Title: "CPC art. 219", Content: "conteúdo 1", Confidence: 0.923},
		{SourceURL: "https://stj.jus.br/x", Content: "conteúdo 2", Confidence: 0.75},
	})
	want := "[1] CPC art. 219 (92% relevância)\nconteúdo 1" +
		"\n\n---\n\n" +
		"[2] https://stj.jus.br/x (75% relevância)\nconteúdo 2"
	assert.Equal(t, want, got)
}

func TestCitations(t *testing.T) {
	long := strings.Repeat("á", 500)
	cites := rag.Citations([]rag.SearchResult{
		{SourceType: models.SourceLegislation, Title: "t", Content: long, Distance: 0.2},
		{SourceType: models.SourceJurisprudence, Content: "curto", Distance: 0.1},
	})
	require.Len(t, cites, 2)
	assert.LessOrEqual(t, len([]rune(cites[0].Excerpt)), rag.MaxExcerptRunes)
	assert.InDelta(t, 0.8, cites[0].Confidence, 1e-12)
	assert.Equal(t, "curto", cites[1].Excerpt)
	assert.Nil(t, rag.Citations(nil))
}

func TestComprehensive(t *testing.T) {
	svc, repo := newService(t)
	seed(t, repo,
		models.KnowledgeBaseEntry{Title: "lei", SourceType: models.SourceLegislation, Embedding: at(0.1)},
		models.KnowledgeBaseEntry{Title: "doc", SourceType: models.SourceDocument, Tags: []string{rag.CaseTag("c9")}, Embedding: at(0.1)},
	)

	res := svc.Comprehensive(context.Background(), "q", "c9")
	assert.Contains(t, res.Context, rag.LabelLegislation)
	assert.NotContains(t, res.Context, rag.LabelJurisprudence)
	assert.Contains(t, res.Context, rag.LabelDocuments)
	assert.Less(t, strings.Index(res.Context, rag.LabelLegislation), strings.Index(res.Context, rag.LabelDocuments))
	assert.Len(t, res.Sources, 2)

	empty := svc.Comprehensive(context.Background(), "q", "nope")
	assert.Len(t, empty.Sources, 1)
}
