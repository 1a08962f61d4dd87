package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/internal/platform"
	"github.com/themis-legal/themis/pkg/models"
)

// PgvectorRepository stores entries in PostgreSQL with the pgvector extension
// and searches with the cosine distance operator (<=>).
type PgvectorRepository struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorRepository connects, retrying with backoff, and creates the
// table and index when missing.
func NewPgvectorRepository(ctx context.Context, connURL string, dimensions int) (*PgvectorRepository, error) {
	var pool *pgxpool.Pool
	err := platform.Connect(ctx, "pgvector", func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, connURL)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	r := &PgvectorRepository{pool: pool, dimensions: dimensions}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector knowledge base initialized")
	return r, nil
}

func (r *PgvectorRepository) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS knowledge_base (
			id          TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			source_type TEXT NOT NULL,
			source_url  TEXT NOT NULL DEFAULT '',
			source_id   TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			tags        TEXT[] NOT NULL DEFAULT '{}',
			metadata    JSONB NOT NULL DEFAULT '{}',
			language    TEXT NOT NULL DEFAULT 'pt-BR',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_base_source_type ON knowledge_base (source_type);
		CREATE INDEX IF NOT EXISTS idx_knowledge_base_tags ON knowledge_base USING GIN (tags);
	`, r.dimensions)

	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *PgvectorRepository) Kind() string { return "pgvector" }

func (r *PgvectorRepository) Create(ctx context.Context, entries []models.KnowledgeBaseEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const insert = `INSERT INTO knowledge_base
		(id, content, embedding, source_type, source_url, source_id, title, tags, metadata, language, created_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10, $11)`

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		batch.Queue(insert, e.ID, e.Content, vectorLiteral(e.Embedding), e.SourceType, e.SourceURL,
			e.SourceID, e.Title, tags, metadata, e.Language, e.CreatedAt)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector insert: %w", err)
	}
	return nil
}

func (r *PgvectorRepository) SimilaritySearch(ctx context.Context, vector []float64, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	const query = `SELECT id, content, source_type, source_url, source_id, title, tags, metadata, language, created_at,
		embedding <=> $1::vector AS distance
		FROM knowledge_base
		ORDER BY embedding <=> $1::vector
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, vectorLiteral(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		e := &c.Entry
		if err := rows.Scan(&e.ID, &e.Content, &e.SourceType, &e.SourceURL, &e.SourceID, &e.Title,
			&e.Tags, &e.Metadata, &e.Language, &e.CreatedAt, &c.Distance); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PgvectorRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM knowledge_base").Scan(&count)
	return count, err
}

// Close releases the connection pool.
func (r *PgvectorRepository) Close() {
	r.pool.Close()
}

// vectorLiteral renders pgvector's text input format: [1,2.5,3].
func vectorLiteral(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}
