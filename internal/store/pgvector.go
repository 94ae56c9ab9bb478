package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory   = "memory"
	BackendPGVector = "pgvector"
)

// PGVector keeps index vectors in Postgres. Every Build writes a new
// generation of rows; Release drops it again.
type PGVector struct {
	pool *pgxpool.Pool
}

// NewPGVector connects to the database at url.
func NewPGVector(ctx context.Context, url string) (*PGVector, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGVector{pool: p}, nil
}

func (s *PGVector) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *PGVector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the vector table and clears rows left by a previous
// process. The index is rebuilt from source on every run.
func (s *PGVector) Migrate(ctx context.Context) error {
	const q = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE SEQUENCE IF NOT EXISTS code_vector_generation;

CREATE TABLE IF NOT EXISTS code_vectors (
  generation BIGINT NOT NULL,
  id         INT    NOT NULL,
  embedding  vector NOT NULL,
  PRIMARY KEY (generation, id)
);

TRUNCATE code_vectors;
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

func (s *PGVector) Build(ctx context.Context, vectors [][]float32) (VectorIndex, error) {
	dim, err := checkVectors(vectors)
	if err != nil {
		return nil, err
	}

	var gen int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('code_vector_generation')`).Scan(&gen); err != nil {
		return nil, fmt.Errorf("allocate generation: %w", err)
	}

	batch := &pgx.Batch{}
	for id, v := range vectors {
		batch.Queue(`INSERT INTO code_vectors (generation, id, embedding) VALUES ($1, $2, $3)`,
			gen, id, pgvector.NewVector(v))
	}
	br := s.pool.SendBatch(ctx, batch)
	for range vectors {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			s.dropGeneration(ctx, gen)
			return nil, fmt.Errorf("insert vectors: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		s.dropGeneration(ctx, gen)
		return nil, fmt.Errorf("insert vectors: %w", err)
	}

	log.Debug().Int64("generation", gen).Int("vectors", len(vectors)).Int("dim", dim).Msg("pgvector index built")
	return &pgIndex{store: s, generation: gen, n: len(vectors), dim: dim}, nil
}

func (s *PGVector) dropGeneration(ctx context.Context, gen int64) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM code_vectors WHERE generation = $1`, gen); err != nil {
		log.Warn().Err(err).Int64("generation", gen).Msg("failed to drop vector generation")
	}
}

// pgIndex is one generation of rows in code_vectors.
type pgIndex struct {
	store      *PGVector
	generation int64
	n          int
	dim        int
}

func (ix *pgIndex) Len() int { return ix.n }
func (ix *pgIndex) Dim() int { return ix.dim }

func (ix *pgIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimMismatch, len(query), ix.dim)
	}
	k = clampK(k, ix.n)
	if k == 0 {
		return []Hit{}, nil
	}

	rows, err := ix.store.pool.Query(ctx, `
SELECT id, (embedding <-> $2)::float8 AS dist
FROM code_vectors
WHERE generation = $1
ORDER BY embedding <-> $2, id
LIMIT $3`, ix.generation, pgvector.NewVector(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var id int
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Distance: float32(dist * dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

func (ix *pgIndex) Release(ctx context.Context) error {
	_, err := ix.store.pool.Exec(ctx, `DELETE FROM code_vectors WHERE generation = $1`, ix.generation)
	return err
}
