package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandRunner(t *testing.T) {
	runner := RealCommandRunner{}
	ctx := context.Background()

	t.Run("CapturesStreams", func(t *testing.T) {
		stdout, stderr, code, err := runner.RunCommand(ctx, []string{"sh", "-c", "echo out; echo err >&2"})
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Equal(t, "out\n", stdout)
		assert.Equal(t, "err\n", stderr)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		_, _, code, err := runner.RunCommand(ctx, []string{"sh", "-c", "exit 3"})
		require.NoError(t, err)
		assert.Equal(t, 3, code)
	})

	t.Run("NoCommand", func(t *testing.T) {
		_, _, _, err := runner.RunCommand(ctx, nil)
		require.Error(t, err)
	})

	t.Run("MissingBinary", func(t *testing.T) {
		_, _, code, err := runner.RunCommand(ctx, []string{"runbox-no-such-binary"})
		require.Error(t, err)
		assert.Equal(t, -1, code)
	})

	t.Run("ContextDeadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, _, code, err := runner.RunCommand(ctx, []string{"sleep", "5"})
		require.Error(t, err)
		assert.Equal(t, -1, code)
	})
}
