package search

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/codenav/internal/indexer"
	"github.com/seanblong/codenav/internal/metrics"
	"github.com/seanblong/codenav/internal/store"
	"github.com/seanblong/codenav/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder implements ai.Embedder for testing
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return [][]float32{{0, 0}}, nil
}

func (m *MockEmbedder) Dim() int { return 2 }

// indexedState publishes a snapshot of docs under root, one 2-d vector per
// document.
func indexedState(t *testing.T, root string, docs []models.Document, vecs [][]float32) *indexer.State {
	t.Helper()
	index, err := store.MemoryBuilder{}.Build(context.Background(), vecs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	snap, err := indexer.NewSnapshot(root, docs, index)
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	state := indexer.NewState()
	if _, err := state.Begin(filepath.Base(root)); err != nil {
		t.Fatal(err)
	}
	if _, err := state.Publish(snap, filepath.Base(root)); err != nil {
		t.Fatal(err)
	}
	return state
}

func lineDocs(root string) ([]models.Document, [][]float32) {
	docs := []models.Document{
		{Chunk: models.Chunk{Path: filepath.Join(root, "a.py"), Content: "def a(): pass", LineStart: 1, LineEnd: 1}, Risk: models.Risk{Score: 1, Reason: "No major risks detected"}},
		{Chunk: models.Chunk{Path: filepath.Join(root, "b.py"), Content: "def b(): pass", LineStart: 1, LineEnd: 50}, Risk: models.Risk{Score: 2, Reason: "Contains TODO"}},
		{Chunk: models.Chunk{Path: filepath.Join(root, "b.py"), Content: "def c(): pass", LineStart: 41, LineEnd: 60}, Risk: models.Risk{Score: 2, Reason: "Contains TODO"}},
		{Chunk: models.Chunk{Path: filepath.Join(root, "c.js"), Content: "function d() {}", LineStart: 1, LineEnd: 3}, Risk: models.Risk{Score: 1, Reason: "No major risks detected"}},
	}
	vecs := [][]float32{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	return docs, vecs
}

func TestService_Query(t *testing.T) {
	docs, vecs := lineDocs("/repo")
	state := indexedState(t, "/repo", docs, vecs)

	tests := []struct {
		name      string
		question  string
		topK      int
		query     []float32
		wantLines [][2]int
		wantFiles []string
	}{
		{
			name:      "nearest first",
			question:  "where is c",
			topK:      2,
			query:     []float32{2.1, 0},
			wantLines: [][2]int{{41, 60}, {1, 3}},
			wantFiles: []string{"/repo/b.py", "/repo/c.js"},
		},
		{
			name:      "ties broken by insertion order",
			question:  "between",
			topK:      2,
			query:     []float32{0.5, 0},
			wantLines: [][2]int{{1, 1}, {1, 50}},
			wantFiles: []string{"/repo/a.py", "/repo/b.py"},
		},
		{
			name:      "default top k clamped to index size",
			question:  "anything",
			topK:      0,
			query:     []float32{3, 0},
			wantLines: [][2]int{{1, 3}, {41, 60}, {1, 50}, {1, 1}},
			wantFiles: []string{"/repo/c.js", "/repo/b.py", "/repo/b.py", "/repo/a.py"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &MockEmbedder{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
				if len(texts) != 1 || texts[0] != tt.question {
					t.Errorf("Expected one text %q, got %v", tt.question, texts)
				}
				return [][]float32{tt.query}, nil
			}}
			svc := NewService(state, embedder)

			resp, err := svc.Query(context.Background(), tt.question, tt.topK)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if resp.Count != len(tt.wantLines) || len(resp.Results) != len(tt.wantLines) {
				t.Fatalf("Expected %d results, got count=%d len=%d", len(tt.wantLines), resp.Count, len(resp.Results))
			}
			for i, r := range resp.Results {
				if r.LineStart != tt.wantLines[i][0] || r.LineEnd != tt.wantLines[i][1] || r.File != tt.wantFiles[i] {
					t.Errorf("result %d = %s [%d,%d], want %s %v", i, r.File, r.LineStart, r.LineEnd, tt.wantFiles[i], tt.wantLines[i])
				}
				if i > 0 && r.Distance < resp.Results[i-1].Distance {
					t.Errorf("results not ordered by distance: %v", resp.Results)
				}
			}
			want := fmt.Sprintf("Found %d relevant snippet(s) for: %s", len(tt.wantLines), tt.question)
			if resp.Answer != want {
				t.Errorf("Expected answer %q, got %q", want, resp.Answer)
			}
		})
	}
}

func TestService_QueryCarriesRisk(t *testing.T) {
	docs, vecs := lineDocs("/repo")
	svc := NewService(indexedState(t, "/repo", docs, vecs), &MockEmbedder{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}})

	resp, err := svc.Query(context.Background(), "b", 1)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	got := resp.Results[0]
	if got.Risk.Score != 2 || got.Risk.Reason != "Contains TODO" || got.Content != "def b(): pass" {
		t.Errorf("Unexpected result %+v", got)
	}
	if got.Distance != 0 {
		t.Errorf("Expected exact match distance 0, got %v", got.Distance)
	}
}

func TestService_QueryErrors(t *testing.T) {
	docs, vecs := lineDocs("/repo")
	indexed := indexedState(t, "/repo", docs, vecs)
	embedErr := errors.New("provider down")

	tests := []struct {
		name      string
		state     *indexer.State
		question  string
		embed     func(ctx context.Context, texts []string) ([][]float32, error)
		wantErr   error
		wantInput bool
	}{
		{"empty question", indexed, "", nil, indexer.ErrQuestionRequired, true},
		{"whitespace question", indexed, " \t\n", nil, indexer.ErrQuestionRequired, true},
		{"empty question before indexing", indexer.NewState(), "  ", nil, indexer.ErrQuestionRequired, true},
		{"not indexed", indexer.NewState(), "hello", nil, indexer.ErrNotIndexed, true},
		{
			name:     "embedding failure",
			state:    indexed,
			question: "hello",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, embedErr
			},
			wantErr: embedErr,
		},
		{
			name:     "dimension mismatch",
			state:    indexed,
			question: "hello",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1, 2, 3}}, nil
			},
			wantErr: store.ErrDimMismatch,
		},
		{
			name:     "missing vector",
			state:    indexed,
			question: "hello",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.state, &MockEmbedder{EmbedFunc: tt.embed})
			_, err := svc.Query(context.Background(), tt.question, 5)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if got := errors.Is(err, indexer.ErrInvalidInput); got != tt.wantInput {
				t.Errorf("input error = %v, want %v (%v)", got, tt.wantInput, err)
			}
		})
	}
}

func TestService_QueryMetrics(t *testing.T) {
	docs, vecs := lineDocs("/repo")
	svc := NewService(indexedState(t, "/repo", docs, vecs), &MockEmbedder{})
	svc.Metrics = metrics.New()

	_, _ = svc.Query(context.Background(), "ok", 1)
	_, _ = svc.Query(context.Background(), "", 1)
	svc.Embedder = &MockEmbedder{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("down")
	}}
	_, _ = svc.Query(context.Background(), "fails", 1)

	rec := httptest.NewRecorder()
	svc.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`codenav_queries_total{result="ok"} 1`,
		`codenav_queries_total{result="invalid"} 1`,
		`codenav_queries_total{result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}

func TestService_ListFiles(t *testing.T) {
	svc := NewService(indexer.NewState(), &MockEmbedder{})
	if _, err := svc.ListFiles(); !errors.Is(err, indexer.ErrNotIndexed) {
		t.Errorf("Expected ErrNotIndexed, got %v", err)
	}

	docs, vecs := lineDocs("/repo")
	svc = NewService(indexedState(t, "/repo", docs, vecs), &MockEmbedder{})
	files, err := svc.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	want := []string{"/repo/a.py", "/repo/b.py", "/repo/c.js"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("ListFiles() = %v, want %v", files, want)
	}
}

func TestService_ReadFile(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(base, "repo")
	mustWrite(t, filepath.Join(root, "src", "main.py"), "import os\nprint(os.name)\n")
	mustWrite(t, filepath.Join(root, "crlf.py"), "a\r\nb\r\nc")
	mustWrite(t, filepath.Join(base, "repo-secrets", "key.py"), "SECRET = 1\n")
	mustWrite(t, filepath.Join(base, "secret.py"), "SECRET = 2\n")
	if err := os.Symlink(filepath.Join(base, "secret.py"), filepath.Join(root, "escape.py")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	docs := []models.Document{{Chunk: models.Chunk{Path: filepath.Join(root, "src", "main.py"), Content: "import os", LineStart: 1, LineEnd: 2}}}
	svc := NewService(indexedState(t, root, docs, [][]float32{{0, 0}}), &MockEmbedder{})

	tests := []struct {
		name      string
		path      string
		wantLines int
		wantFile  string
		wantErr   error
	}{
		{name: "absolute", path: filepath.Join(root, "src", "main.py"), wantLines: 2, wantFile: filepath.Join(root, "src", "main.py")},
		{name: "relative to root", path: "src/main.py", wantLines: 2, wantFile: filepath.Join(root, "src", "main.py")},
		{name: "dot segments inside root", path: "src/../src/./main.py", wantLines: 2, wantFile: filepath.Join(root, "src", "main.py")},
		{name: "crlf line endings", path: "crlf.py", wantLines: 3, wantFile: filepath.Join(root, "crlf.py")},
		{name: "empty", path: "  ", wantErr: indexer.ErrFileRequired},
		{name: "relative traversal", path: "../secret.py", wantErr: indexer.ErrOutsideRoot},
		{name: "deep traversal", path: "src/../../secret.py", wantErr: indexer.ErrOutsideRoot},
		{name: "absolute outside", path: filepath.Join(base, "secret.py"), wantErr: indexer.ErrOutsideRoot},
		{name: "sibling sharing prefix", path: filepath.Join(base, "repo-secrets", "key.py"), wantErr: indexer.ErrOutsideRoot},
		{name: "symlink escaping root", path: "escape.py", wantErr: indexer.ErrOutsideRoot},
		{name: "missing file", path: "nope.py", wantErr: indexer.ErrUnreadable},
		{name: "directory", path: "src", wantErr: indexer.ErrUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ReadFile(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadFile(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				if !errors.Is(err, indexer.ErrInvalidInput) {
					t.Errorf("Expected input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFile(%q) error = %v", tt.path, err)
			}
			if got.Lines != tt.wantLines {
				t.Errorf("Expected %d lines, got %d", tt.wantLines, got.Lines)
			}
			if got.File != tt.wantFile {
				t.Errorf("Expected file %s, got %s", tt.wantFile, got.File)
			}
		})
	}
}

func TestService_ReadFileThroughSymlinkedRoot(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	canonical := filepath.Join(base, "real")
	link := filepath.Join(base, "link")
	mustWrite(t, filepath.Join(canonical, "a.py"), "x = 1\ny = 2\n")
	mustWrite(t, filepath.Join(base, "outside.py"), "SECRET = 1\n")
	if err := os.Symlink(canonical, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	// The snapshot root is canonical, as the indexer stores it.
	docs := []models.Document{{Chunk: models.Chunk{Path: filepath.Join(canonical, "a.py"), Content: "x = 1", LineStart: 1, LineEnd: 2}}}
	svc := NewService(indexedState(t, canonical, docs, [][]float32{{0, 0}}), &MockEmbedder{})

	got, err := svc.ReadFile(filepath.Join(link, "a.py"))
	if err != nil {
		t.Fatalf("ReadFile through symlinked root error = %v", err)
	}
	if got.File != filepath.Join(canonical, "a.py") || got.Lines != 2 {
		t.Errorf("Unexpected file content %+v", got)
	}

	if _, err := svc.ReadFile(filepath.Join(link, "..", "outside.py")); !errors.Is(err, indexer.ErrOutsideRoot) {
		t.Errorf("Expected ErrOutsideRoot, got %v", err)
	}
	if _, err := svc.ReadFile(filepath.Join(link, "missing.py")); !errors.Is(err, indexer.ErrInvalidInput) {
		t.Errorf("Expected input error for missing file, got %v", err)
	}
}

func TestService_ReadFileNotIndexed(t *testing.T) {
	svc := NewService(indexer.NewState(), &MockEmbedder{})
	if _, err := svc.ReadFile("/etc/hosts"); !errors.Is(err, indexer.ErrNotIndexed) {
		t.Errorf("Expected ErrNotIndexed, got %v", err)
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\n\n", 2},
		{"\n", 1},
		{"a\r\nb\r\n", 2},
		{"a\rb", 2},
		{"a\r\n\r\nb", 3},
	}
	for _, tt := range tests {
		if got := countLines(tt.in); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/repo", "/repo", true},
		{"/repo", "/repo/a.py", true},
		{"/repo", "/repo/..hidden/a.py", true},
		{"/repo", "/repo-other/a.py", false},
		{"/repo", "/a.py", false},
		{"/repo", "/", false},
	}
	for _, tt := range tests {
		if got := within(tt.root, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
