package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/seanblong/codenav/internal/metrics"
	"github.com/seanblong/codenav/internal/risk"
	"github.com/seanblong/codenav/internal/store"
	"github.com/seanblong/codenav/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Indexer builds snapshots of a repository and publishes them to State.
type Indexer struct {
	State      *State
	Embedder   ai.Embedder
	Builder    store.Builder
	Walker     FileWalker
	FileReader FileReader
	Chunker    Chunker
	Workers    int
	Metrics    *metrics.Metrics
}

// New creates a new Indexer instance.
func New(state *State, embedder ai.Embedder, builder store.Builder) *Indexer {
	return NewWithDependencies(state, embedder, builder, &DirWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(state *State, embedder ai.Embedder, builder store.Builder, walker FileWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		State:      state,
		Embedder:   embedder,
		Builder:    builder,
		Walker:     walker,
		FileReader: fileReader,
		Chunker:    NewChunker(DefaultChunkSize, DefaultChunkOverlap),
	}
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	// Cap at 8; reading files is I/O bound
	return min(runtime.NumCPU(), 8)
}

// Start validates path and marks a run as in progress. It fails with
// ErrConflict while another run is active.
func (ix *Indexer) Start(path string) (models.Status, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return models.Status{}, err
	}
	st, err := ix.State.Begin(repoName(root))
	if err != nil {
		return models.Status{}, err
	}
	log.Info().Str("root", root).Msg("indexing started")
	return st, nil
}

// Run indexes path and publishes the result. It must follow a successful
// Start. Failures end up in the status; Run itself never fails.
func (ix *Indexer) Run(ctx context.Context, path string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ix.fail(fmt.Errorf("panic: %v", r), start)
		}
	}()

	snap, err := ix.build(ctx, path)
	if err != nil {
		ix.fail(err, start)
		return
	}

	prev, err := ix.State.Publish(snap, repoName(snap.Root()))
	if err != nil {
		if releaseErr := snap.release(ctx); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("failed to release unpublished index")
		}
		ix.fail(err, start)
		return
	}
	if prev != nil {
		if err := prev.release(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to release previous index")
		}
	}

	ix.Metrics.IndexSucceeded(time.Since(start), snap.FileCount(), snap.ChunkCount())
	log.Info().Str("root", snap.Root()).
		Int("files", snap.FileCount()).
		Int("chunks", snap.ChunkCount()).
		Dur("dur", time.Since(start)).
		Msg("indexing complete")
}

// Index starts a run and executes it on a new goroutine. The returned
// channel is closed once the run has finished. The run is detached from
// ctx cancellation.
func (ix *Indexer) Index(ctx context.Context, path string) (models.Status, <-chan struct{}, error) {
	st, err := ix.Start(path)
	if err != nil {
		return st, nil, err
	}
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ix.Run(ctx, path)
	}()
	return st, done, nil
}

func (ix *Indexer) fail(err error, start time.Time) {
	detail := "Indexing failed: " + err.Error()
	if stateErr := ix.State.Fail(detail); stateErr != nil {
		log.Error().Err(stateErr).Str("detail", detail).Msg("could not record indexing failure")
	}
	ix.Metrics.IndexFailed(time.Since(start))
	log.Error().Err(err).Msg("indexing failed")
}

func (ix *Indexer) build(ctx context.Context, path string) (*Snapshot, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}

	paths, err := ix.Walker.Walk(root)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("files", len(paths)).Str("root", root).Msg("walked repository")

	docs, err := ix.loadDocuments(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoFiles
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := ix.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, errors.New("no embeddings were generated during indexing")
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vecs), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	index, err := ix.Builder.Build(ctx, vecs)
	if err != nil {
		return nil, fmt.Errorf("build vector index: %w", err)
	}
	snap, err := NewSnapshot(root, docs, index)
	if err != nil {
		_ = index.Release(ctx)
		return nil, err
	}
	return snap, nil
}

// loadDocuments reads, scores and chunks every file on a bounded worker
// pool. Documents come back in walk order. Unreadable files are skipped.
func (ix *Indexer) loadDocuments(ctx context.Context, paths []string) ([]models.Document, error) {
	perFile := make([][]models.Document, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers())
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := ix.FileReader.ReadFile(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to read file")
				return nil
			}
			content := strings.ToValidUTF8(string(b), "")
			r := risk.Analyze(content, p)
			for _, ch := range ix.Chunker.Chunk(p, content) {
				perFile[i] = append(perFile[i], models.Document{Chunk: ch, Risk: r})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []models.Document
	for _, d := range perFile {
		docs = append(docs, d...)
	}
	return docs, nil
}

// resolveRoot turns path into a canonical directory path.
func resolveRoot(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathNotFound, err)
	}
	if err := checkDir(abs); err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathNotFound, err)
	}
	return root, nil
}

func repoName(root string) string {
	if name := filepath.Base(root); name != "" && name != "." {
		return name
	}
	return root
}
