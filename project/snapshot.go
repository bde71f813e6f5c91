package project

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/isdmx/runbox/apperr"
)

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// SourceFile is one client supplied file. Path is relative to the project root
// and uses forward slashes.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Snapshot is a validated project, ordered by path.
type Snapshot struct {
	files []SourceFile
}

// NewSnapshot validates files and orders them by path. Absolute paths, paths
// escaping the project root and duplicate paths are rejected.
func NewSnapshot(files []SourceFile) (Snapshot, error) {
	if len(files) == 0 {
		return Snapshot{}, apperr.New(apperr.NoSourceFiles, "No source files provided")
	}

	sorted := make([]SourceFile, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		clean, err := cleanPath(f.Path)
		if err != nil {
			return Snapshot{}, err
		}
		if _, dup := seen[clean]; dup {
			return Snapshot{}, apperr.Newf(apperr.InvalidProject, "duplicate file path: %s", clean)
		}
		seen[clean] = struct{}{}
		sorted = append(sorted, SourceFile{Path: clean, Content: f.Content})
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return Snapshot{files: sorted}, nil
}

func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", apperr.New(apperr.InvalidProject, "empty file path")
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", apperr.Newf(apperr.InvalidProject, "absolute path not allowed: %s", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", apperr.Newf(apperr.InvalidProject, "unsafe relative path: %s", p)
	}
	return clean, nil
}

// Files returns a copy of the ordered files.
func (s Snapshot) Files() []SourceFile {
	out := make([]SourceFile, len(s.files))
	copy(out, s.files)
	return out
}

// Len returns the number of files.
func (s Snapshot) Len() int {
	return len(s.files)
}

// WriteTo materializes the snapshot under dir, creating subdirectories.
func (s Snapshot) WriteTo(dir string) error {
	for _, f := range s.files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return apperr.Newf(apperr.InvalidProject, "invalid file path: %s", f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(target), DirPermission); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
		if err := os.WriteFile(target, []byte(f.Content), FilePermission); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}

// FindSources walks dir and returns every regular file with the given
// extension, in lexical order.
func FindSources(dir, ext string) ([]string, error) {
	var sources []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ext) {
			sources = append(sources, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sources: %w", err)
	}
	return sources, nil
}
