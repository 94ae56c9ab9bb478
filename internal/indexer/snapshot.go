package indexer

import (
	"context"
	"errors"
	"slices"

	"github.com/seanblong/codenav/internal/store"
	"github.com/seanblong/codenav/pkg/models"
)

// Snapshot pairs a vector index with the documents it was built from.
// A snapshot is never modified after construction; each indexing run
// produces a new one.
type Snapshot struct {
	root  string
	docs  []models.Document
	index store.VectorIndex
	files []string
}

// NewSnapshot builds a snapshot over docs, whose IDs are reassigned to
// their positions. index must hold exactly one vector per document.
func NewSnapshot(root string, docs []models.Document, index store.VectorIndex) (*Snapshot, error) {
	if len(docs) == 0 {
		return nil, ErrNoFiles
	}
	if index == nil || index.Len() != len(docs) {
		return nil, errors.New("vector index does not match documents")
	}

	owned := make([]models.Document, len(docs))
	copy(owned, docs)
	files := make([]string, 0, len(docs))
	for i := range owned {
		owned[i].ID = i
		files = append(files, owned[i].Path)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	return &Snapshot{root: root, docs: owned, index: index, files: files}, nil
}

// Root is the canonical repository root.
func (s *Snapshot) Root() string { return s.root }

func (s *Snapshot) FileCount() int  { return len(s.files) }
func (s *Snapshot) ChunkCount() int { return len(s.docs) }

// Files returns the sorted, de-duplicated paths of the indexed files.
func (s *Snapshot) Files() []string { return slices.Clone(s.files) }

// Document returns the document with the given id.
func (s *Snapshot) Document(id int) (models.Document, bool) {
	if id < 0 || id >= len(s.docs) {
		return models.Document{}, false
	}
	return s.docs[id], true
}

// Search returns up to k hits nearest to query.
func (s *Snapshot) Search(ctx context.Context, query []float32, k int) ([]store.Hit, error) {
	return s.index.Search(ctx, query, k)
}

func (s *Snapshot) release(ctx context.Context) error {
	return s.index.Release(ctx)
}
