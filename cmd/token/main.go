package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codenav/internal/auth"
	"github.com/seanblong/codenav/internal/config"
	"github.com/spf13/pflag"
)

// codenav-token prints a bearer token for POST /index, signed with the
// configured JWT secret.
func main() {
	fs := pflag.NewFlagSet("codenav-token", pflag.ExitOnError)
	subject := fs.String("subject", "codenav-cli", "subject (sub claim) of the issued token")

	cfg, err := config.Load("", fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cfg.Auth.JwtSecret == "" {
		log.Fatal().Msg("CODENAV_AUTH_JWT_SECRET must be set to issue tokens")
	}
	a, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, true)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}
	token, err := a.IssueToken(*subject)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	fmt.Println(token)
}
