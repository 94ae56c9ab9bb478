package ai

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/seanblong/codenav/pkg/models"
)

const (
	maxSnippetChars = 900
	maxContextChars = 4000

	noSnippets     = "No indexed code snippets were found for this question."
	fallbackAnswer = "I could not generate a readable answer from the available context."

	answerSystemPrompt = "You are a helpful codebase assistant. Answer in clear, simple language. " +
		"Be concise, avoid jargon, and use short examples if they help. " +
		"If the context is insufficient, say what is missing and suggest the next step."

	answerTemperature = 0.2
	answerMaxTokens   = 350
)

// clamp shortens text to limit characters, marking the cut with "...".
func clamp(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return strings.TrimRightFunc(string(r[:limit]), unicode.IsSpace) + "..."
}

// buildContext renders results as numbered snippets, stopping before the
// total would exceed maxContextChars.
func buildContext(results []models.QueryResult) string {
	if len(results) == 0 {
		return noSnippets
	}

	var pieces []string
	remaining := maxContextChars
	for i, r := range results {
		entry := fmt.Sprintf("[Snippet %d]\nFile: %s\nLines: %d - %d\nCode:\n%s\n",
			i+1, r.File, r.LineStart, r.LineEnd, clamp(r.Content, maxSnippetChars))
		n := len([]rune(entry))
		if n > remaining {
			break
		}
		pieces = append(pieces, entry)
		remaining -= n
	}
	if len(pieces) == 0 {
		return noSnippets
	}
	return strings.Join(pieces, "\n")
}

func answerUserPrompt(question string, results []models.QueryResult) string {
	return "Question:\n" + question + "\n\n" +
		"Relevant code snippets:\n" + buildContext(results) + "\n\n" +
		"Provide a human-readable answer suitable for displaying directly in a UI."
}
