package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/pkg/models"
)

// DefaultMaxEntries caps the in-memory repository.
const DefaultMaxEntries = 50_000

// MemoryRepository is a brute-force cosine search over entries held in
// memory. Suitable for development and tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	entries    map[string]*models.KnowledgeBaseEntry
	maxEntries int
}

// MemoryOption configures the in-memory repository.
type MemoryOption func(*MemoryRepository)

// WithMaxEntries sets the capacity (default 50K).
func WithMaxEntries(max int) MemoryOption {
	return func(r *MemoryRepository) { r.maxEntries = max }
}

// NewMemoryRepository creates an empty in-memory knowledge base.
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		entries:    make(map[string]*models.KnowledgeBaseEntry),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(r)
	}
	log.Info().Int("max_entries", r.maxEntries).Msg("In-memory knowledge base initialized")
	return r
}

func (r *MemoryRepository) Kind() string { return "memory" }

func (r *MemoryRepository) Create(_ context.Context, entries []models.KnowledgeBaseEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.entries) + len(entries)
	if total > r.maxEntries {
		return fmt.Errorf("knowledge base capacity exceeded: %d > %d", total, r.maxEntries)
	}
	if total > int(float64(r.maxEntries)*0.9) {
		log.Warn().Int("count", total).Int("max", r.maxEntries).Msg("In-memory knowledge base nearing capacity")
	}

	now := time.Now().UTC()
	for i := range entries {
		cp := entries[i]
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		entries[i].ID = cp.ID
		r.entries[cp.ID] = &cp
	}
	return nil
}

func (r *MemoryRepository) SimilaritySearch(_ context.Context, vector []float64, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]Candidate, 0, len(r.entries))
	for _, e := range r.entries {
		if len(e.Embedding) != len(vector) {
			continue
		}
		candidates = append(candidates, Candidate{Entry: *e, Distance: CosineDistance(vector, e.Embedding)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance == candidates[j].Distance {
			return candidates[i].Entry.ID < candidates[j].Entry.ID
		}
		return candidates[i].Distance < candidates[j].Distance
	})

	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}
