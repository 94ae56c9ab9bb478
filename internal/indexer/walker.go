package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// DefaultExtensions are the source file types that get indexed.
var DefaultExtensions = []string{".py", ".js", ".ts", ".tsx"}

// IgnoredDirs are pruned by name before descending.
var IgnoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// FileWalker lists the indexable files under a root directory.
type FileWalker interface {
	Walk(root string) ([]string, error)
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// DirWalker implements FileWalker using godirwalk. Paths come back sorted.
// Symbolic links to directories are not followed, so link cycles cannot
// trap the walk; links to regular files are listed.
type DirWalker struct {
	// Extensions overrides DefaultExtensions when non-empty.
	Extensions []string
}

func (w *DirWalker) Walk(root string) ([]string, error) {
	root = filepath.Clean(root)
	if err := checkDir(root); err != nil {
		return nil, err
	}

	allowed := w.Extensions
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}

	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if path != root && IgnoredDirs[de.Name()] {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !hasExtension(path, allowed) {
				return nil
			}
			if de.IsSymlink() {
				fi, err := os.Stat(path)
				if err != nil || !fi.Mode().IsRegular() {
					return nil
				}
			} else if !de.IsRegular() {
				return nil
			}
			files = append(files, path)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

// checkDir validates that path names an existing directory.
func checkDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotFound
		}
		return fmt.Errorf("%w: %v", ErrPathNotFound, err)
	}
	if !fi.IsDir() {
		return ErrNotDirectory
	}
	return nil
}

func hasExtension(path string, allowed []string) bool {
	return slices.Contains(allowed, filepath.Ext(path))
}
