package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/seanblong/codenav/internal/config"
	"github.com/seanblong/codenav/internal/indexer"
	"github.com/seanblong/codenav/internal/search"
	"github.com/seanblong/codenav/internal/store"
	"github.com/seanblong/codenav/pkg/models"
	"github.com/spf13/pflag"
)

// openStore is replaced in tests.
var openStore = store.Open

// errIndexFailed reports a run that ended in the error state; the status has
// already been printed.
var errIndexFailed = errors.New("indexing failed")

// codenav-indexer indexes a repository once, prints the resulting status
// and optionally answers a single question against the fresh index.
func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errIndexFailed) {
			fmt.Fprintf(os.Stderr, "codenav-indexer: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("codenav-indexer", pflag.ContinueOnError)
	question := fs.String("query", "", "question to run against the index after indexing")

	cfg, err := config.Load("", fs, args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", cfg.LogLevel, err)
	}
	log.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	root := cfg.RepoRoot
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	log.Info().Str("provider", cfg.Provider).Str("root", root).Msg("using provider")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create AI client: %w", err)
	}
	if client.Dim() == 0 {
		return errors.New("embedding dimension must be set")
	}

	builder, closeStore, err := openStore(ctx, cfg.IndexBackend, cfg.Database)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer closeStore()

	state := indexer.NewState()
	ix := indexer.New(state, client, builder)
	ix.Chunker = indexer.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	ix.Workers = cfg.Workers

	if _, err := ix.Start(root); err != nil {
		return fmt.Errorf("cannot start indexing: %w", err)
	}
	ix.Run(ctx, root)

	st := state.Status()
	if err := printJSON(out, st); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if st.State != models.StateIndexed {
		return errIndexFailed
	}

	if *question == "" {
		return nil
	}
	resp, err := search.NewService(state, client).Query(ctx, *question, cfg.TopK)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := printJSON(out, resp); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
