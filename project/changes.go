package project

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxChangedFileSize bounds the files reported by ChangedFiles.
const MaxChangedFileSize = 1 << 20

// Excluded reports whether relPath matches one of the patterns. A pattern
// ending in "/" matches any path with that directory component; any other
// pattern is a glob matched against the base name.
func Excluded(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	parts := strings.Split(relPath, "/")
	base := parts[len(parts)-1]

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if dir, ok := strings.CutSuffix(pattern, "/"); ok {
			for _, part := range parts[:len(parts)-1] {
				if part == dir {
					return true
				}
			}
			continue
		}
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

// ChangedFiles returns the UTF-8 text files under runDir that are absent from
// baseDir or differ from their baseDir counterpart. Excluded paths, files
// larger than MaxChangedFileSize and binary files are skipped.
func ChangedFiles(baseDir, runDir string, excludes []string) ([]SourceFile, error) {
	var changed []SourceFile

	err := filepath.WalkDir(runDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(runDir, p)
		if err != nil {
			return err
		}
		if Excluded(rel, excludes) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxChangedFileSize {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !utf8.Valid(content) {
			return nil
		}

		original, err := os.ReadFile(filepath.Join(baseDir, rel))
		switch {
		case err == nil && bytes.Equal(original, content):
			return nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return err
		}

		changed = append(changed, SourceFile{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect changed files: %w", err)
	}
	return changed, nil
}
