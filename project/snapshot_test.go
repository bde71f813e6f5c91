package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/runbox/apperr"
)

func TestNewSnapshot(t *testing.T) {
	t.Run("OrdersByPath", func(t *testing.T) {
		s, err := NewSnapshot([]SourceFile{
			{Path: "src/b/Util.java", Content: "b"},
			{Path: "Main.java", Content: "m"},
			{Path: "src/a/Helper.java", Content: "a"},
		})
		require.NoError(t, err)
		files := s.Files()
		require.Len(t, files, 3)
		assert.Equal(t, "Main.java", files[0].Path)
		assert.Equal(t, "src/a/Helper.java", files[1].Path)
		assert.Equal(t, "src/b/Util.java", files[2].Path)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewSnapshot(nil)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.NoSourceFiles))
		assert.Equal(t, "No source files provided", err.Error())
	})

	t.Run("NormalizesPaths", func(t *testing.T) {
		s, err := NewSnapshot([]SourceFile{{Path: " ./src\\Main.java ", Content: "x"}})
		require.NoError(t, err)
		assert.Equal(t, "src/Main.java", s.Files()[0].Path)
	})

	invalid := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"parent", "../Main.java"},
		{"nested parent", "src/../../Main.java"},
		{"empty", "  "},
		{"dot", "."},
	}
	for _, tc := range invalid {
		t.Run("Rejects "+tc.name, func(t *testing.T) {
			_, err := NewSnapshot([]SourceFile{{Path: tc.path, Content: "x"}})
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.InvalidProject))
		})
	}

	t.Run("RejectsDuplicates", func(t *testing.T) {
		_, err := NewSnapshot([]SourceFile{
			{Path: "Main.java", Content: "a"},
			{Path: "./Main.java", Content: "b"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate file path")
	})
}

func TestSnapshotWriteTo(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSnapshot([]SourceFile{
		{Path: "Main.java", Content: "class Main {}"},
		{Path: "com/acme/Util.java", Content: "package com.acme;"},
	})
	require.NoError(t, err)
	require.NoError(t, s.WriteTo(dir))

	data, err := os.ReadFile(filepath.Join(dir, "com", "acme", "Util.java"))
	require.NoError(t, err)
	assert.Equal(t, "package com.acme;", string(data))

	sources, err := FindSources(dir, ".java")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "Main.java"),
		filepath.Join(dir, "com", "acme", "Util.java"),
	}, sources)
}
