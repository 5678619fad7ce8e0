package session

import "sync"

// BufferCap is the retention budget for a session's output buffer.
const BufferCap = 500 * 1024 // 500 KiB

// OutputBuffer retains the most recent process output as whole chunks so a
// reconnecting viewer can replay history. Eviction is chunk-granular: the
// oldest chunks are dropped while the total exceeds the budget. A single
// chunk larger than the whole budget is kept anyway, so a snapshot taken
// after any append is never empty.
type OutputBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	total    int
	capBytes int
}

// NewOutputBuffer creates a buffer with the given byte budget.
func NewOutputBuffer(capBytes int) *OutputBuffer {
	return &OutputBuffer{capBytes: capBytes}
}

// Append stores a copy of chunk and evicts from the front until the
// retained total fits the budget again.
func (b *OutputBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, c)
	b.total += len(c)
	for b.total > b.capBytes && len(b.chunks) > 1 {
		b.total -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns all retained output concatenated in emission order.
func (b *OutputBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the number of retained bytes.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
