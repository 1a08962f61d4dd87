// Package rag implements retrieval over the knowledge base: similarity search
// with source/tag filtering and confidence thresholding, context-block
// assembly, and the specialised legal views built on top of it.
package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/themis-legal/themis/internal/cache"
	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/internal/metrics"
	"github.com/themis-legal/themis/pkg/models"
)

// Search defaults.
const (
	DefaultLimit         = 5
	DefaultMinConfidence = 0.7
	SearchCacheTTL       = 5 * time.Minute
)

var tracer = otel.Tracer("themis/rag")

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// SearchOptions narrows a search. A zero Limit falls back to DefaultLimit
// and a nil MinConfidence to DefaultMinConfidence; an explicit 0 keeps every
// candidate.
type SearchOptions struct {
	SourceType    string   `json:"source_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// Threshold returns a MinConfidence value.
func Threshold(v float64) *float64 { return &v }

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.MinConfidence == nil {
		o.MinConfidence = Threshold(DefaultMinConfidence)
	}
	return o
}

// SearchResult is one retrieved chunk. Confidence is 1 - Distance.
type SearchResult struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	SourceType string         `json:"source_type"`
	SourceURL  string         `json:"source_url,omitempty"`
	Title      string         `json:"title,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Distance   float64        `json:"distance"`
	Confidence float64        `json:"confidence"`
}

// Service runs retrieval over a knowledge-base repository.
type Service struct {
	embedder QueryEmbedder
	repo     knowledge.Repository
	cache    cache.Cache
}

// NewService creates a retrieval service. A nil cache disables caching.
func NewService(embedder QueryEmbedder, repo knowledge.Repository, c cache.Cache) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{embedder: embedder, repo: repo, cache: c}
}

type searchKey struct {
	Query   string        `json:"query"`
	Options SearchOptions `json:"options"`
}

// Search returns up to Limit results whose confidence is at least
// MinConfidence. It never fails: any error is logged and yields no results.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) []SearchResult {
	opts = opts.withDefaults()

	ctx, span := tracer.Start(ctx, "rag.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("rag.source_type", opts.SourceType),
		attribute.Int("rag.limit", opts.Limit),
	)

	key := searchKey{Query: query, Options: opts}
	var cached []SearchResult
	hit, err := s.cache.Get(ctx, cache.PrefixRAGSearch, key, &cached)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues(cache.PrefixRAGSearch, "error").Inc()
		log.Debug().Err(err).Msg("RAG cache read failed, treating as miss")
	case hit:
		metrics.CacheLookups.WithLabelValues(cache.PrefixRAGSearch, "hit").Inc()
		span.SetAttributes(attribute.Bool("rag.cache_hit", true))
		return cached
	default:
		metrics.CacheLookups.WithLabelValues(cache.PrefixRAGSearch, "miss").Inc()
	}

	results, err := s.search(ctx, query, opts)
	if err != nil {
		log.Debug().Err(err).Str("source_type", opts.SourceType).Msg("RAG search degraded to empty result")
		span.RecordError(err)
		return []SearchResult{}
	}

	if err := s.cache.Set(ctx, cache.PrefixRAGSearch, key, results, SearchCacheTTL); err != nil {
		log.Debug().Err(err).Msg("RAG cache write failed")
	}
	metrics.RAGResults.WithLabelValues(opts.SourceType).Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("rag.results", len(results)))
	return results
}

func (s *Service) search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := s.repo.SimilaritySearch(ctx, vector, 2*opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	threshold := *opts.MinConfidence
	results := make([]SearchResult, 0, opts.Limit)
	for _, c := range candidates {
		if opts.SourceType != "" && c.Entry.SourceType != opts.SourceType {
			continue
		}
		if len(opts.Tags) > 0 && !c.Entry.HasAnyTag(opts.Tags) {
			continue
		}
		confidence := 1 - c.Distance
		if confidence < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:         c.Entry.ID,
			Content:    c.Entry.Content,
			SourceType: c.Entry.SourceType,
			SourceURL:  c.Entry.SourceURL,
			Title:      c.Entry.Title,
			Tags:       c.Entry.Tags,
			Metadata:   c.Entry.Metadata,
			Distance:   c.Distance,
			Confidence: confidence,
		})
		if len(results) == opts.Limit {
			break
		}
	}
	return results, nil
}

// ── Context assembly ────────────────────────────────────────

const contextDivider = "\n\n---\n\n"

// BuildContext renders results as numbered blocks for a system prompt.
func BuildContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		label := r.Title
		if label == "" {
			label = r.SourceURL
		}
		if label == "" {
			label = "Fonte"
		}
		pct := int(math.Round(r.Confidence * 100))
		blocks[i] = fmt.Sprintf("[%d] %s (%d%% relevância)\n%s", i+1, label, pct, r.Content)
	}
	return strings.Join(blocks, contextDivider)
}

// MaxExcerptRunes bounds citation excerpts.
const MaxExcerptRunes = 200

// Citations derives caller-facing citations from retrieved sources.
func Citations(sources []SearchResult) []models.Citation {
	if len(sources) == 0 {
		return nil
	}
	out := make([]models.Citation, len(sources))
	for i, s := range sources {
		out[i] = models.Citation{
			SourceType: s.SourceType,
			URL:        s.SourceURL,
			Title:      s.Title,
			Excerpt:    excerpt(s.Content, MaxExcerptRunes),
			Confidence: 1 - s.Distance,
		}
	}
	return out
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
