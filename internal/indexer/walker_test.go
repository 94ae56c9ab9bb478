package indexer

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// writeTree creates files (relative path -> content) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func relPaths(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			t.Fatalf("rel: %v", err)
		}
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestDirWalker_Walk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.py":                  "print(1)",
		"src/app.ts":               "export {}",
		"src/view.tsx":             "export {}",
		"src/lib/util.js":          "module.exports = {}",
		"src/README.md":            "# docs",
		"src/app.PY":               "print(2)",
		"node_modules/dep/x.js":    "x",
		".git/hooks/pre-commit.py": "x",
		"venv/lib/site.py":         "x",
		".venv/lib/site.py":        "x",
		"__pycache__/m.py":         "x",
		"dist/bundle.js":           "x",
		"build/out.js":             "x",
		"src/build/gen.ts":         "x",
		"builder/keep.ts":          "x",
	})

	files, err := (&DirWalker{}).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{
		"builder/keep.ts",
		"main.py",
		"src/app.ts",
		"src/lib/util.js",
		"src/view.tsx",
	}
	if got := relPaths(t, root, files); !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
	for _, f := range files {
		if !filepath.IsAbs(f) {
			t.Errorf("Expected absolute path, got %s", f)
		}
	}
}

func TestDirWalker_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go": "package a",
		"b.py": "x",
	})

	files, err := (&DirWalker{Extensions: []string{".go"}}).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if got := relPaths(t, root, files); !slices.Equal(got, []string{"a.go"}) {
		t.Errorf("Walk() = %v", got)
	}
}

func TestDirWalker_RootNamedLikeIgnoredDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "build")
	writeTree(t, root, map[string]string{"a.py": "x"})

	files, err := (&DirWalker{}).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected the root itself to be walked, got %v", files)
	}
}

func TestDirWalker_Symlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"pkg/a.py": "x",
	})
	outside := t.TempDir()
	writeTree(t, outside, map[string]string{"ext.py": "x"})

	// A link back to the root would loop forever if followed.
	if err := os.Symlink(root, filepath.Join(root, "pkg", "loop")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "linked")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "pkg", "a.py"), filepath.Join(root, "alias.py")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "missing.py"), filepath.Join(root, "dangling.py")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	files, err := (&DirWalker{}).Walk(root)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := []string{"alias.py", "pkg/a.py"}
	if got := relPaths(t, root, files); !slices.Equal(got, want) {
		t.Errorf("Walk() = %v, want %v", got, want)
	}
}

func TestDirWalker_InvalidRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	writeTree(t, dir, map[string]string{"a.py": "x"})

	tests := []struct {
		name string
		root string
		want error
	}{
		{"missing", filepath.Join(dir, "nope"), ErrPathNotFound},
		{"file", file, ErrNotDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&DirWalker{}).Walk(tt.root)
			if !errors.Is(err, tt.want) {
				t.Errorf("Walk() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected input error, got %v", err)
			}
		})
	}
}

func TestDirWalker_EmptyDir(t *testing.T) {
	files, err := (&DirWalker{}).Walk(t.TempDir())
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Expected no files, got %v", files)
	}
}
