package indexer

import (
	"strings"

	"github.com/seanblong/codenav/pkg/models"
)

const (
	DefaultChunkSize    = 50
	DefaultChunkOverlap = 10
)

// Chunker splits file content into overlapping windows of Size lines.
// Consecutive windows share Overlap lines.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a Chunker, falling back to the defaults when size and
// overlap do not describe a forward-moving window.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 || overlap < 0 || overlap >= size {
		return Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Chunk splits content on "\n". Windows start every Size-Overlap lines;
// windows that are blank after trimming are dropped.
func (c Chunker) Chunk(path, content string) []models.Chunk {
	c = NewChunker(c.Size, c.Overlap)
	lines := strings.Split(content, "\n")
	step := c.Size - c.Overlap

	var chunks []models.Chunk
	for offset := 0; offset < len(lines); offset += step {
		end := min(offset+c.Size, len(lines))
		text := strings.Join(lines[offset:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Path:      path,
			Content:   text,
			LineStart: offset + 1,
			LineEnd:   end,
		})
	}
	return chunks
}
