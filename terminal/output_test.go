package terminal

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletePrefix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name     string
		input    []byte
		expected int
	}{
		{"ASCII", []byte("abc"), 3},
		{"Empty", nil, 0},
		{"CompleteRune", append([]byte("a"), euro...), 4},
		{"SplitAfterOneByte", append([]byte("a"), euro[:1]...), 1},
		{"SplitAfterTwoBytes", append([]byte("a"), euro[:2]...), 1},
		{"StrayContinuation", []byte{'a', 0x80}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, completePrefix(tt.input))
		})
	}
}

func TestForward(t *testing.T) {
	text := strings.Repeat("héllo wörld €𝄞 ", 50)

	t.Run("ChunksAreValidUTF8", func(t *testing.T) {
		var chunks []string
		err := forward(iotest.OneByteReader(strings.NewReader(text)), 7, func(s string) {
			chunks = append(chunks, s)
		})
		require.NoError(t, err)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c), "chunk %q split a rune", c)
		}
		assert.Equal(t, text, strings.Join(chunks, ""))
	})

	t.Run("SmallBuffer", func(t *testing.T) {
		var out bytes.Buffer
		err := forward(strings.NewReader(text), 1, func(s string) { out.WriteString(s) })
		require.NoError(t, err)
		assert.Equal(t, text, out.String())
	})

	t.Run("ReadError", func(t *testing.T) {
		var out bytes.Buffer
		r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(io.ErrClosedPipe))
		err := forward(r, 64, func(s string) { out.WriteString(s) })
		require.ErrorIs(t, err, io.ErrClosedPipe)
		assert.Equal(t, "partial", out.String())
	})
}

func TestLines(t *testing.T) {
	assert.Equal(t, "Running com.example.Main...\r\n\r\n", runningLine("com.example.Main"))
	assert.Equal(t, "\r\n\033[1;30mProcess finished with exit code -1\033[0m\r\n", finishedLine(-1))
	assert.Equal(t, "\r\n\033[1;31mError: a\r\nb\033[0m\r\n", errorLine("a\nb"))
	assert.Equal(t, "x\r\ny\r\n", crlf("x\r\ny\n"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := &Session{ID: "abc"}
	r.add(s)

	got, ok := r.Get("abc")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.all(), 1)

	assert.True(t, r.remove("abc"))
	assert.False(t, r.remove("abc"))
	assert.Zero(t, r.Len())
}
