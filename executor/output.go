package executor

import (
	"bytes"
	"sync"
)

const truncationNotice = "\n[output truncated]\n"

// outputBuffer keeps the first limit bytes written to it and silently drops the
// rest, so the writer side never stalls.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - b.buf.Len()
	switch {
	case b.limit <= 0:
		b.buf.Write(p)
	case room >= len(p):
		b.buf.Write(p)
	default:
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncationNotice
	}
	return b.buf.String()
}
