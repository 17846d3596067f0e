package supervisor

import (
	"strings"
	"sync"
)

// outputBuffer retains the tail of a process's output for diagnostics.
type outputBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

const outputBufferLimit = 200

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{limit: outputBufferLimit}
}

func (b *outputBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
