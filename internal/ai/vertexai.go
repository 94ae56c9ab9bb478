package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seanblong/codenav/pkg/models"
	"google.golang.org/genai"
)

// maxVertexEmbedBatch is the number of instances sent per EmbedContent call.
const maxVertexEmbedBatch = 100

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.AnswerModel == "" {
		config.AnswerModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the embedding functionality using the Gemini API
func (c *VertexAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxVertexEmbedBatch {
		end := min(start+maxVertexEmbedBatch, len(texts))
		var contents []*genai.Content
		for _, t := range texts[start:end] {
			contents = append(contents, genai.Text(t)...)
		}

		res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		if res == nil || len(res.Embeddings) != end-start {
			return nil, errors.New("embedding count does not match input")
		}
		for _, e := range res.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Answer generates a prose answer for results using the Gemini API.
func (c *VertexAIClient) Answer(ctx context.Context, question string, results []models.QueryResult) (string, error) {
	system := genai.Text(answerSystemPrompt)
	temp := float32(answerTemperature)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   answerMaxTokens,
		SystemInstruction: system[0],
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.AnswerModel, genai.Text(answerUserPrompt(question, results)), &cfg)
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return fallbackAnswer, nil
	}
	if s := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text); s != "" {
		return s, nil
	}
	return fallbackAnswer, nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
