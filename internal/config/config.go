package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider     string            `yaml:"provider"`
	APIKey       string            `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel   string            `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	AnswerModel  string            `yaml:"providerAnswerModel" envconfig:"PROVIDER_ANSWER_MODEL"`
	ProjectID    string            `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location     string            `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	BaseURL      string            `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	Dim          int               `yaml:"providerDim" envconfig:"EMBED_DIM"`
	AppURL       string            `yaml:"appURL" split_words:"true"`
	AppName      string            `yaml:"appName" split_words:"true"`
	IndexBackend string            `yaml:"indexBackend" split_words:"true"`
	Database     string            `yaml:"database" envconfig:"DB_URL"`
	RepoRoot     string            `yaml:"repoRoot" split_words:"true"`
	Workers      int               `yaml:"workers"`
	ChunkSize    int               `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap int               `yaml:"chunkOverlap" split_words:"true"`
	TopK         int               `yaml:"topK" split_words:"true"`
	LogLevel     string            `yaml:"logLevel" split_words:"true"`
	Port         int               `yaml:"port" split_words:"true"`
	CORSOrigin   string            `yaml:"corsOrigin" envconfig:"CORS_ORIGIN"`
	Auth         AuthSpecification `yaml:"auth"`

	flags *pflag.FlagSet `ignored:"true"`
}

type AuthSpecification struct {
	Enabled   bool          `yaml:"enabled"`
	JwtSecret string        `yaml:"jwtSecret" split_words:"true"`
	TokenTTL  time.Duration `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
}

const envPrefix = "CODENAV"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// ClientConfig builds the AI client configuration for the selected provider.
func (s *Specification) ClientConfig() (*ai.ClientConfig, error) {
	provider, err := ai.ParseProvider(s.Provider)
	if err != nil {
		return nil, err
	}
	cc := &ai.ClientConfig{
		Dim:      s.Dim,
		Provider: provider,
	}
	if provider == ai.ProviderStub {
		return cc, nil
	}
	cc.APIKey = s.APIKey
	cc.EmbedModel = s.EmbedModel
	cc.AnswerModel = s.AnswerModel
	cc.ProjectID = s.ProjectID
	cc.Location = s.Location
	cc.BaseURL = s.BaseURL
	cc.AppURL = s.AppURL
	cc.AppName = s.AppName
	return cc, nil
}

// Load => defaults < YAML < .env/env < flags.
// configPath may be ""; if so we auto-discover. args are the command line
// arguments without the program name.
func Load(configPath string, fs *pflag.FlagSet, args []string) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// Parse now so --config is known before discovery; the values are
	// applied last.
	if err := fs.Parse(args); err != nil {
		return Specification{}, err
	}

	// config file
	path := configPath
	if path == "" {
		if v, _ := fs.GetString("config"); v != "" {
			path = v
		} else if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/codenav.yaml",
				"config/config.yaml",
				"./codenav.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// .env fills in variables that are not already set
	envFile, _ := fs.GetString("env-file")
	if err := loadDotEnv(envFile); err != nil {
		return Specification{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	cfg.IndexBackend = strings.ToLower(strings.TrimSpace(cfg.IndexBackend))
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (s *Specification) Validate() error {
	var errs []error
	switch strings.ToLower(s.IndexBackend) {
	case "memory":
	case "pgvector":
		if strings.TrimSpace(s.Database) == "" {
			errs = append(errs, errors.New(envPrefix+"_DB_URL is required for the pgvector backend (env/file/flag)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported index backend %q (memory|pgvector)", s.IndexBackend))
	}
	if s.Auth.Enabled && strings.TrimSpace(s.Auth.JwtSecret) == "" {
		errs = append(errs, errors.New(envPrefix+"_AUTH_JWT_SECRET is required when auth is enabled"))
	}
	if s.ChunkSize <= 0 || s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("invalid chunking: size %d, overlap %d", s.ChunkSize, s.ChunkOverlap))
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative: %d", s.Workers))
	}
	return errors.Join(errs...)
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}
	return godotenv.Load(path)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")
	fs.String("env-file", ".env", "Path to a .env file")

	fs.String("provider", c.Provider, "Provider (stub, openai, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-answer-model", c.AnswerModel, "Provider chat model used for answers")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.String("provider-base-url", c.BaseURL, "Base URL of an OpenAI-compatible API")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("app-url", c.AppURL, "Application URL sent as HTTP-Referer")
	fs.String("app-name", c.AppName, "Application name sent as X-Title")

	fs.String("index-backend", c.IndexBackend, "Vector index backend (memory|pgvector)")
	fs.String("db-url", c.Database, "Database URL (DSN) for the pgvector backend")

	fs.String("repo-root", c.RepoRoot, "Path to local repo root")
	fs.Int("workers", c.Workers, "Files processed in parallel (0 = auto)")
	fs.Int("chunk-size", c.ChunkSize, "Lines per chunk")
	fs.Int("chunk-overlap", c.ChunkOverlap, "Lines shared by consecutive chunks")
	fs.Int("top-k", c.TopK, "Default number of query results")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")
	fs.String("cors-origin", c.CORSOrigin, "Allowed CORS origin")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require a bearer token to start indexing")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.Duration("auth-token-ttl", c.Auth.TokenTTL, "Lifetime of issued tokens")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config and --env-file here; they're for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-answer-model", &c.AnswerModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setStr("provider-base-url", &c.BaseURL)

	setInt("embed-dim", &c.Dim)

	setStr("app-url", &c.AppURL)
	setStr("app-name", &c.AppName)

	setStr("index-backend", &c.IndexBackend)
	setStr("db-url", &c.Database)

	setStr("repo-root", &c.RepoRoot)
	setInt("workers", &c.Workers)
	setInt("chunk-size", &c.ChunkSize)
	setInt("chunk-overlap", &c.ChunkOverlap)
	setInt("top-k", &c.TopK)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
	setStr("cors-origin", &c.CORSOrigin)

	// Auth flags
	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	setDuration("auth-token-ttl", &c.Auth.TokenTTL)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.RepoRoot = "."
	c.Provider = "stub"
	c.IndexBackend = "memory"
	c.Database = ""
	c.Dim = 0
	c.Location = "us-central1"
	c.AppName = "codenav"
	c.ChunkSize = 50
	c.ChunkOverlap = 10
	c.TopK = 5
	c.Port = 8080
	c.CORSOrigin = "*"
	c.Auth.Enabled = false
	c.Auth.TokenTTL = 24 * time.Hour
}
