package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/seanblong/codenav/internal/api"
	"github.com/seanblong/codenav/internal/auth"
	"github.com/seanblong/codenav/internal/config"
	"github.com/seanblong/codenav/internal/indexer"
	"github.com/seanblong/codenav/internal/metrics"
	"github.com/seanblong/codenav/internal/search"
	"github.com/seanblong/codenav/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("codenav-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s': %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().
		Str("provider", cfg.Provider).
		Str("backend", cfg.IndexBackend).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting codenav api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid provider configuration")
	}
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create AI client")
	}
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	builder, closeStore, err := store.Open(ctx, cfg.IndexBackend, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open vector store")
	}
	defer closeStore()

	authn, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, cfg.Auth.Enabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize auth")
	}
	if authn.Enabled() {
		logger.Info().Msg("authentication is ENABLED for POST /index")
	} else {
		logger.Info().Msg("authentication is DISABLED - running in open mode")
	}

	m := metrics.New()
	state := indexer.NewState()

	ix := indexer.New(state, client, builder)
	ix.Chunker = indexer.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	ix.Workers = cfg.Workers
	ix.Metrics = m

	svc := search.NewService(state, client)
	svc.Metrics = m

	srv := &api.Server{
		Indexer:    ix,
		Search:     svc,
		Composer:   client,
		Auth:       authn,
		Metrics:    m,
		Logger:     logger,
		CORSOrigin: cfg.CORSOrigin,
		TopK:       cfg.TopK,
	}

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Let an in-flight indexing run finish before the store is closed.
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("indexing run still in progress at exit")
	}
}
