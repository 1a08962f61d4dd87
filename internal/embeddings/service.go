// Package embeddings turns text into vectors and ingests chunked documents
// into the knowledge base.
package embeddings

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/internal/cache"
	"github.com/themis-legal/themis/internal/knowledge"
	"github.com/themis-legal/themis/internal/metrics"
	"github.com/themis-legal/themis/pkg/models"
)

// CacheTTL is how long single-text embeddings stay cached.
const CacheTTL = 24 * time.Hour

// Embedder is the slice of the provider contract this service needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// IngestPayload describes one document to chunk, embed and store.
type IngestPayload struct {
	Content    string         `json:"content" validate:"required"`
	SourceType string         `json:"source_type" validate:"required,max=64"`
	SourceURL  string         `json:"source_url,omitempty" validate:"omitempty,url"`
	SourceID   string         `json:"source_id,omitempty"`
	Title      string         `json:"title,omitempty" validate:"max=500"`
	Tags       []string       `json:"tags,omitempty" validate:"dive,required,max=100"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Language   string         `json:"language,omitempty"`
	ChunkSize  int            `json:"chunk_size,omitempty" validate:"gte=0"`
	Overlap    int            `json:"overlap,omitempty" validate:"gte=0"`
}

// IngestResult reports what ingestion created.
type IngestResult struct {
	EntriesCreated int      `json:"entries_created"`
	EntryIDs       []string `json:"entry_ids"`
}

// Service generates embeddings and ingests documents.
type Service struct {
	embedder Embedder
	repo     knowledge.Repository
	cache    cache.Cache
	validate *validator.Validate
}

// NewService creates an embedding service. A nil cache disables caching.
func NewService(embedder Embedder, repo knowledge.Repository, c cache.Cache) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		embedder: embedder,
		repo:     repo,
		cache:    c,
		validate: validator.New(),
	}
}

// GenerateEmbedding returns the vector for text, served from cache when possible.
// Cache failures are logged and treated as misses.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	var cached []float64
	hit, err := s.cache.Get(ctx, cache.PrefixEmbedding, text, &cached)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues(cache.PrefixEmbedding, "error").Inc()
		log.Debug().Err(err).Msg("Embedding cache read failed, treating as miss")
	case hit:
		metrics.CacheLookups.WithLabelValues(cache.PrefixEmbedding, "hit").Inc()
		return cached, nil
	default:
		metrics.CacheLookups.WithLabelValues(cache.PrefixEmbedding, "miss").Inc()
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", models.ErrProviderFailure, len(vectors))
	}

	if err := s.cache.Set(ctx, cache.PrefixEmbedding, text, vectors[0], CacheTTL); err != nil {
		log.Warn().Err(err).Msg("Embedding cache write failed")
	}
	return vectors[0], nil
}

// GenerateBatchEmbeddings embeds texts in one provider call without caching.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate batch embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", models.ErrProviderFailure, len(texts), len(vectors))
	}
	return vectors, nil
}

// Ingest chunks the payload content, embeds every chunk in one batch call and
// stores one knowledge-base row per chunk.
func (s *Service) Ingest(ctx context.Context, p IngestPayload) (*IngestResult, error) {
	start := time.Now()

	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	chunkSize := p.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := p.Overlap
	if p.ChunkSize == 0 && overlap == 0 {
		overlap = DefaultOverlap
	}

	chunks, err := ChunkWords(p.Content, chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: content has no words", models.ErrInvalidInput)
	}

	vectors, err := s.GenerateBatchEmbeddings(ctx, chunks)
	if err != nil {
		return nil, err
	}

	language := p.Language
	if language == "" {
		language = "pt-BR"
	}

	now := time.Now().UTC()
	entries := make([]models.KnowledgeBaseEntry, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]any, len(p.Metadata)+2)
		maps.Copy(meta, p.Metadata)
		meta["chunk_index"] = i
		meta["total_chunks"] = len(chunks)

		ids[i] = uuid.NewString()
		entries[i] = models.KnowledgeBaseEntry{
			ID:         ids[i],
			Content:    chunk,
			Embedding:  vectors[i],
			SourceType: p.SourceType,
			SourceURL:  p.SourceURL,
			SourceID:   p.SourceID,
			Title:      p.Title,
			Tags:       p.Tags,
			Metadata:   meta,
			Language:   language,
			CreatedAt:  now,
		}
	}

	if err := s.repo.Create(ctx, entries); err != nil {
		return nil, fmt.Errorf("store knowledge entries: %w", err)
	}

	metrics.KnowledgeEntriesIngested.WithLabelValues(p.SourceType).Add(float64(len(entries)))
	log.Info().
		Str("source_type", p.SourceType).
		Str("title", p.Title).
		Int("chunks_created", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("Ingestion complete")

	return &IngestResult{EntriesCreated: len(entries), EntryIDs: ids}, nil
}
