package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrEmptyIndex     = errors.New("no vectors to index")
	ErrDimMismatch    = errors.New("vector dimension mismatch")
	ErrUnknownBackend = errors.New("unknown index backend")
)

// Hit is one nearest-neighbour result. Distance is the squared Euclidean
// distance to the query.
type Hit struct {
	ID       int
	Distance float32
}

// VectorIndex answers k-nearest-neighbour queries over a fixed set of
// vectors. IDs are the insertion positions of the vectors.
type VectorIndex interface {
	Len() int
	Dim() int
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Release frees backend resources held by the index.
	Release(ctx context.Context) error
}

// Builder creates a new VectorIndex for every indexing run.
type Builder interface {
	Build(ctx context.Context, vectors [][]float32) (VectorIndex, error)
}

// checkVectors verifies vectors is non-empty and uniformly sized and returns
// the shared dimension.
func checkVectors(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, ErrDimMismatch
	}
	for _, v := range vectors[1:] {
		if len(v) != dim {
			return 0, ErrDimMismatch
		}
	}
	return dim, nil
}

// sortHits orders hits by distance, breaking ties by ID.
func sortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// clampK bounds k by the number of stored vectors.
func clampK(k, n int) int {
	if k > n {
		return n
	}
	if k < 0 {
		return 0
	}
	return k
}

// Open returns the Builder for backend and a func releasing its resources.
func Open(ctx context.Context, backend, databaseURL string) (Builder, func(), error) {
	switch backend {
	case "", BackendMemory:
		return MemoryBuilder{}, func() {}, nil
	case BackendPGVector:
		pg, err := NewPGVector(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect pgvector: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrate pgvector: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
