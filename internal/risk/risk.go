package risk

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/seanblong/codenav/pkg/models"
)

const (
	MinScore = 1
	MaxScore = 5

	// NoRisk is the reason reported when no heuristic fires.
	NoRisk = "No major risks detected"
)

// markers are matched case-insensitively anywhere in the content.
var markers = []string{"TODO", "FIXME", "HACK", "BUG", "DEPRECATED"}

// Analyze scores the maintenance risk of a file. The result depends only on
// content; path is accepted so callers can score per file.
func Analyze(content, path string) models.Risk {
	score := MinScore
	var reasons []string
	lines := strings.Split(content, "\n")

	switch n := len(lines); {
	case n > 500:
		score += 2
		reasons = append(reasons, fmt.Sprintf("File is very large (%d lines)", n))
	case n > 200:
		score++
		reasons = append(reasons, fmt.Sprintf("File is large (%d lines)", n))
	}

	lowered := strings.ToLower(content)
	for _, m := range markers {
		if strings.Contains(lowered, strings.ToLower(m)) {
			score++
			reasons = append(reasons, "Contains "+m)
		}
	}

	switch depth := maxIndentDepth(lines); {
	case depth >= 6:
		score += 2
		reasons = append(reasons, fmt.Sprintf("High nesting depth (~%d)", depth))
	case depth >= 4:
		score++
		reasons = append(reasons, fmt.Sprintf("Moderate nesting depth (~%d)", depth))
	}

	if longest, ok := longestFunction(lines); ok {
		switch {
		case longest >= 120:
			score += 2
			reasons = append(reasons, fmt.Sprintf("Very long function (~%d lines)", longest))
		case longest >= 60:
			score++
			reasons = append(reasons, fmt.Sprintf("Long function (~%d lines)", longest))
		}
	}

	if score > MaxScore {
		score = MaxScore
	}
	reason := NoRisk
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}
	return models.Risk{Score: score, Reason: reason}
}

func trimLeft(s string) string {
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

// indentWidth counts the leading whitespace characters of line, given line
// with that whitespace removed.
func indentWidth(line, stripped string) int {
	return utf8.RuneCountInString(line[:len(line)-len(stripped)])
}

// maxIndentDepth approximates nesting from leading whitespace. Space
// indentation counts four columns per level; when the leading whitespace
// contains a tab the raw whitespace length is used as the depth instead.
func maxIndentDepth(lines []string) int {
	maxDepth := 0
	for _, line := range lines {
		stripped := trimLeft(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, "//") {
			continue
		}
		ws := line[:len(line)-len(stripped)]
		leading := utf8.RuneCountInString(ws)
		depth := leading / 4
		if strings.ContainsRune(ws, '\t') {
			depth = leading
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

// longestFunction runs both block scanners and reports the longest block
// found, if any.
func longestFunction(lines []string) (int, bool) {
	lengths := append(indentBlockLengths(lines), braceBlockLengths(lines)...)
	if len(lengths) == 0 {
		return 0, false
	}
	longest := lengths[0]
	for _, l := range lengths[1:] {
		longest = max(longest, l)
	}
	return longest, true
}

func opensIndentBlock(stripped string) bool {
	return strings.HasPrefix(stripped, "def ") || strings.HasPrefix(stripped, "async def ")
}

// indentBlockLengths measures def blocks: a block runs until the next
// non-blank line at the same or lower indentation that starts a def or class.
func indentBlockLengths(lines []string) []int {
	var lengths []int
	i := 0
	for i < len(lines) {
		stripped := trimLeft(lines[i])
		if !opensIndentBlock(stripped) {
			i++
			continue
		}
		base := indentWidth(lines[i], stripped)
		j := i + 1
		for ; j < len(lines); j++ {
			next := trimLeft(lines[j])
			if next == "" {
				continue
			}
			indent := indentWidth(lines[j], next)
			if indent <= base && (opensIndentBlock(next) || strings.HasPrefix(next, "class ")) {
				break
			}
		}
		lengths = append(lengths, max(j-i, 1))
		i = j
	}
	return lengths
}

// braceBlockLengths measures function bodies delimited by braces by keeping
// a running open/close count.
func braceBlockLengths(lines []string) []int {
	var lengths []int
	i := 0
	for i < len(lines) {
		stripped := strings.TrimSpace(lines[i])
		opens := strings.HasPrefix(stripped, "function ") ||
			strings.HasPrefix(stripped, "async function ") ||
			(strings.Contains(stripped, "=>") && strings.Contains(stripped, "{"))
		if !opens || !strings.Contains(stripped, "{") {
			i++
			continue
		}
		balance := strings.Count(stripped, "{") - strings.Count(stripped, "}")
		j := i + 1
		for j < len(lines) && balance > 0 {
			balance += strings.Count(lines[j], "{") - strings.Count(lines[j], "}")
			j++
		}
		lengths = append(lengths, max(j-i, 1))
		i = j
	}
	return lengths
}
