// Package knowledge stores embedded knowledge-base chunks and answers nearest
// neighbour queries over them. Distance is cosine distance (1 - cosine
// similarity), so 0 means identical direction.
package knowledge

import (
	"context"
	"math"

	"github.com/themis-legal/themis/pkg/models"
)

// Candidate is one nearest-neighbour hit.
type Candidate struct {
	Entry    models.KnowledgeBaseEntry
	Distance float64
}

// Repository is the knowledge-base persistence contract.
type Repository interface {
	// Create inserts entries. IDs and CreatedAt are filled when empty.
	Create(ctx context.Context, entries []models.KnowledgeBaseEntry) error

	// SimilaritySearch returns up to k entries ordered by ascending distance.
	SimilaritySearch(ctx context.Context, vector []float64, k int) ([]Candidate, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Kind names the backend ("memory", "pgvector").
	Kind() string
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
