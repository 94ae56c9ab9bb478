package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/seanblong/codenav/internal/indexer"
	"github.com/seanblong/codenav/internal/metrics"
	"github.com/seanblong/codenav/pkg/models"
)

// DefaultTopK is used when a query does not ask for a positive count.
const DefaultTopK = 5

// Service answers questions and file requests against the current snapshot.
// It never blocks on an indexing run; each call works on whichever snapshot
// was current when it started.
type Service struct {
	State    *indexer.State
	Embedder ai.Embedder
	Metrics  *metrics.Metrics
}

// NewService creates a new search service over state.
func NewService(state *indexer.State, embedder ai.Embedder) *Service {
	return &Service{
		State:    state,
		Embedder: embedder,
	}
}

// Query embeds question and returns up to topK chunks ordered by ascending
// distance.
func (s *Service) Query(ctx context.Context, question string, topK int) (models.QueryResponse, error) {
	resp, err := s.query(ctx, question, topK)
	switch {
	case err == nil:
		s.Metrics.QueryServed("ok")
	case isInputError(err):
		s.Metrics.QueryServed("invalid")
	default:
		s.Metrics.QueryServed("error")
	}
	return resp, err
}

func (s *Service) query(ctx context.Context, question string, topK int) (models.QueryResponse, error) {
	if strings.TrimSpace(question) == "" {
		return models.QueryResponse{}, indexer.ErrQuestionRequired
	}
	snap := s.State.Snapshot()
	if snap == nil {
		return models.QueryResponse{}, indexer.ErrNotIndexed
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vecs, err := s.Embedder.Embed(ctx, []string{question})
	if err != nil {
		log.Error().Err(err).Str("question", question).Msg("embedding query failed")
		return models.QueryResponse{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return models.QueryResponse{}, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	hits, err := snap.Search(ctx, vecs[0], topK)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("search index: %w", err)
	}

	results := make([]models.QueryResult, 0, len(hits))
	for _, h := range hits {
		doc, ok := snap.Document(h.ID)
		if !ok {
			log.Warn().Int("id", h.ID).Msg("index returned unknown document id")
			continue
		}
		results = append(results, models.QueryResult{
			File:      doc.Path,
			Content:   doc.Content,
			LineStart: doc.LineStart,
			LineEnd:   doc.LineEnd,
			Risk:      doc.Risk,
			Distance:  h.Distance,
		})
	}

	log.Debug().Str("question", question).Int("results", len(results)).Msg("query served")
	return models.QueryResponse{
		Answer:  fmt.Sprintf("Found %d relevant snippet(s) for: %s", len(results), question),
		Count:   len(results),
		Results: results,
	}, nil
}

// ListFiles returns the sorted paths of every indexed file.
func (s *Service) ListFiles() ([]string, error) {
	snap := s.State.Snapshot()
	if snap == nil {
		return nil, indexer.ErrNotIndexed
	}
	return snap.Files(), nil
}

// ReadFile returns the content of a file inside the indexed repository.
// Relative paths are taken relative to the repository root. The path is
// resolved to its canonical form before the containment check, so a link
// pointing outside the root is rejected. File holds the canonical path.
func (s *Service) ReadFile(path string) (models.FileContent, error) {
	if strings.TrimSpace(path) == "" {
		return models.FileContent{}, indexer.ErrFileRequired
	}
	snap := s.State.Snapshot()
	if snap == nil {
		return models.FileContent{}, indexer.ErrNotIndexed
	}
	root := snap.Root()

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.FileContent{}, fmt.Errorf("%w: %v", indexer.ErrUnreadable, err)
	}

	// Containment is decided on the canonical path; the root is stored
	// canonical, so a request through a symlinked alias of it still matches.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !within(root, abs) {
			return models.FileContent{}, indexer.ErrOutsideRoot
		}
		return models.FileContent{}, fmt.Errorf("%w: %v", indexer.ErrUnreadable, err)
	}
	if !within(root, resolved) {
		return models.FileContent{}, indexer.ErrOutsideRoot
	}

	b, err := os.ReadFile(resolved)
	if err != nil {
		return models.FileContent{}, fmt.Errorf("%w: %v", indexer.ErrUnreadable, err)
	}
	content := strings.ToValidUTF8(string(b), "")
	return models.FileContent{
		File:    resolved,
		Content: content,
		Lines:   countLines(content),
	}, nil
}

// within reports whether path is root or lies below it. Both must be
// absolute and clean.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// countLines counts lines the way a line-oriented reader would: \n, \r\n
// and \r all end a line and a trailing terminator does not start a new one.
func countLines(s string) int {
	n := 0
	for len(s) > 0 {
		i := strings.IndexAny(s, "\r\n")
		if i < 0 {
			return n + 1
		}
		n++
		if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
			i++
		}
		s = s[i+1:]
	}
	return n
}

func isInputError(err error) bool {
	return errors.Is(err, indexer.ErrInvalidInput)
}
