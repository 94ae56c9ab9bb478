package store

import (
	"context"
	"fmt"
)

// MemoryBuilder builds exact, in-process flat L2 indexes.
type MemoryBuilder struct{}

func (MemoryBuilder) Build(ctx context.Context, vectors [][]float32) (VectorIndex, error) {
	dim, err := checkVectors(vectors)
	if err != nil {
		return nil, err
	}
	flat := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		flat = append(flat, v...)
	}
	return &Memory{dim: dim, n: len(vectors), data: flat}, nil
}

// Memory is a brute-force index over a contiguous vector slab.
type Memory struct {
	dim  int
	n    int
	data []float32
}

func (m *Memory) Len() int { return m.n }
func (m *Memory) Dim() int { return m.dim }

func (m *Memory) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimMismatch, len(query), m.dim)
	}
	k = clampK(k, m.n)
	if k == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, m.n)
	for id := 0; id < m.n; id++ {
		row := m.data[id*m.dim : (id+1)*m.dim]
		var sum float64
		for i, x := range row {
			d := float64(x) - float64(query[i])
			sum += d * d
		}
		hits[id] = Hit{ID: id, Distance: float32(sum)}
	}
	sortHits(hits)
	return hits[:k], nil
}

func (m *Memory) Release(ctx context.Context) error { return nil }
