package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/seanblong/codenav/pkg/models"
)

// Embedder maps texts to fixed-dimension vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Composer turns ranked search results into a prose answer.
type Composer interface {
	Answer(ctx context.Context, question string, results []models.QueryResult) (string, error)
}

// Client provides both embedding and answer generation.
type Client interface {
	Embedder
	Composer
}

// ErrComposerUnavailable is returned by Answer when the provider has no
// language model configured.
var ErrComposerUnavailable = errors.New("answer generation is not configured on the server")

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// DefaultStubDim matches the small sentence-embedding models commonly used
// for local code search.
const DefaultStubDim = 384

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey      string
	EmbedModel  string
	AnswerModel string
	Dim         int
	ProjectID   string
	Provider    Provider
	Location    string
	BaseURL     string
	AppURL      string
	AppName     string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// ParseProvider normalises a provider name from configuration.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "google":
		return ProviderVertexAI, nil
	case "stub", "":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + name)
	}
}

// StubClient embeds text locally by hashing its tokens into a fixed number
// of buckets. It needs no network and is deterministic.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = DefaultStubDim
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embedOne(t)
	}
	return out, nil
}

func (s *StubClient) embedOne(text string) []float32 {
	vec := make([]float32, s.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(s.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Answer always fails: the stub has no language model.
func (s *StubClient) Answer(ctx context.Context, question string, results []models.QueryResult) (string, error) {
	return "", ErrComposerUnavailable
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
