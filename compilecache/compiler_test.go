package compilecache

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/apperr"
	"github.com/isdmx/runbox/sandbox"
)

// recordingRunner implements sandbox.CommandRunner for testing
type recordingRunner struct {
	args     []string
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (r *recordingRunner) RunCommand(_ context.Context, args []string) (string, string, int, error) {
	r.args = args
	return r.stdout, r.stderr, r.exitCode, r.err
}

func writeSources(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		target := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}
	return dir
}

func TestCommandCompiler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("ExpandsTemplate", func(t *testing.T) {
		dir := writeSources(t, map[string]string{
			"Main.java":             "class Main {}",
			"com/example/Util.java": "class Util {}",
			"README.md":             "docs",
		})
		runner := &recordingRunner{}
		c, err := NewCommandCompiler(logger, "javac -encoding UTF-8 -d {out} {sources}", ".java", runner)
		require.NoError(t, err)

		require.NoError(t, c.Compile(context.Background(), dir))
		assert.Equal(t, []string{
			"javac", "-encoding", "UTF-8", "-d", dir,
			filepath.Join(dir, "Main.java"),
			filepath.Join(dir, "com", "example", "Util.java"),
		}, runner.args)
	})

	t.Run("NoSources", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"notes.txt": "hi"})
		runner := &recordingRunner{}
		c, err := NewCommandCompiler(logger, "javac -d {out} {sources}", ".java", runner)
		require.NoError(t, err)

		err = c.Compile(context.Background(), dir)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.CompilationError))
		assert.Equal(t, "No .java source files found", err.Error())
		assert.Nil(t, runner.args, "compiler must not run")
	})

	t.Run("DiagnosticsAreProjectRelative", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"Main.java": "class Main {"})
		runner := &recordingRunner{
			stderr:   filepath.Join(dir, "Main.java") + ":1: error: reached end of file while parsing\nclass Main {\n            ^\n1 error\n",
			exitCode: 1,
		}
		c, err := NewCommandCompiler(logger, "javac -d {out} {sources}", ".java", runner)
		require.NoError(t, err)

		err = c.Compile(context.Background(), dir)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.CompilationError))
		assert.Equal(t, "Main.java:1: error: reached end of file while parsing\nclass Main {\n            ^\n1 error", apperr.MessageOf(err))
	})

	t.Run("DiagnosticsOtherwiseVerbatim", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"app/Main.java": "class Main {}"})
		runner := &recordingRunner{
			stdout:   "Note: /opt/jdk/lib/ct.sym  is  \tdeprecated\n",
			stderr:   "  " + filepath.Join(dir, "app", "Main.java") + ":7: error: cannot find symbol\n\n1 error\n\n",
			exitCode: 1,
		}
		c, err := NewCommandCompiler(logger, "javac -d {out} {sources}", ".java", runner)
		require.NoError(t, err)

		err = c.Compile(context.Background(), dir)
		require.Error(t, err)
		assert.Equal(t,
			"Note: /opt/jdk/lib/ct.sym  is  \tdeprecated\n  "+filepath.Join("app", "Main.java")+":7: error: cannot find symbol\n\n1 error",
			apperr.MessageOf(err), "stdout precedes stderr and only the scratch prefix and trailing newlines change")
	})

	t.Run("CompilerMissing", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"Main.java": "class Main {}"})
		runner := &recordingRunner{err: errors.New("executable file not found in $PATH"), exitCode: -1}
		c, err := NewCommandCompiler(logger, "javac -d {out} {sources}", ".java", runner)
		require.NoError(t, err)

		err = c.Compile(context.Background(), dir)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.InternalError))
	})

	t.Run("InvalidConfiguration", func(t *testing.T) {
		_, err := NewCommandCompiler(logger, "", ".java", nil)
		require.Error(t, err)
		_, err = NewCommandCompiler(logger, "javac {sources}", "", nil)
		require.Error(t, err)
	})
}

func TestCommandCompilerWithShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	logger := zaptest.NewLogger(t)
	c, err := NewCommandCompiler(logger, "sh -n {sources}", ".sh", sandbox.RealCommandRunner{})
	require.NoError(t, err)

	t.Run("ValidSyntax", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"main.sh": "echo hello\n"})
		require.NoError(t, c.Compile(context.Background(), dir))
	})

	t.Run("SyntaxError", func(t *testing.T) {
		dir := writeSources(t, map[string]string{"main.sh": "if then fi (\n"})
		err := c.Compile(context.Background(), dir)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.CompilationError))
		assert.NotEmpty(t, apperr.MessageOf(err))
	})

	t.Run("Timeout", func(t *testing.T) {
		slow, err := NewCommandCompiler(logger, "sleep 5", ".sh", sandbox.RealCommandRunner{})
		require.NoError(t, err)
		dir := writeSources(t, map[string]string{"main.sh": "echo hi\n"})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err = slow.Compile(ctx, dir)
		require.Error(t, err)
		assert.Equal(t, "Compilation timed out", apperr.MessageOf(err))
	})
}
