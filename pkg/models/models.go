package models

import "time"

// Chunk is a line window of one source file.
type Chunk struct {
	Path      string `json:"file"`
	Content   string `json:"content"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
}

// Risk is the heuristic maintenance risk of a file.
type Risk struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Document is a chunk stored in an index snapshot. ID is its position in
// the snapshot.
type Document struct {
	ID int
	Chunk
	Risk      Risk
	Embedding []float32
}

type IndexState string

const (
	StateNotIndexed IndexState = "not_indexed"
	StateIndexing   IndexState = "indexing"
	StateIndexed    IndexState = "indexed"
	StateError      IndexState = "error"
)

type Status struct {
	State     IndexState `json:"status"`
	Repo      string     `json:"repo,omitempty"`
	Files     int        `json:"files"`
	Chunks    int        `json:"chunks"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type QueryResult struct {
	File      string  `json:"file"`
	Content   string  `json:"content"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Risk      Risk    `json:"risk"`
	Distance  float32 `json:"distance"`
}

type QueryResponse struct {
	Answer  string        `json:"answer"`
	Count   int           `json:"count"`
	Results []QueryResult `json:"results"`
}

type FileContent struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Lines   int    `json:"lines"`
}
