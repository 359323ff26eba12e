package sandbox

import (
	"bytes"
	"sync"
)

// cappedBuffer collects subprocess output up to a byte limit. Writes past
// the limit are counted but discarded so a log-spamming child cannot
// exhaust memory. It is safe for the concurrent writes an exec.Cmd makes.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	total     int64
	truncated bool

	// notify, when set, is called after each write with the buffer
	// contents and total byte count. Used for startup detection.
	notify func(content string, total int64)
}

func newCappedBuffer(limit int64) *cappedBuffer {
	if limit <= 0 {
		limit = 1 << 20
	}
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.total += int64(len(p))
	if remaining := b.limit - int64(b.buf.Len()); remaining > 0 {
		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
			b.truncated = true
		}
		b.buf.Write(chunk)
	} else if len(p) > 0 {
		b.truncated = true
	}
	content := b.buf.String()
	total := b.total
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(content, total)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
