package agentstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

const (
	initialScanBufSize = 64 * 1024
	maxRecordSize      = 1024 * 1024 // 1 MB
)

// Framer turns an arbitrarily chunked byte stream into a sequence of
// complete JSON records. A record split across reads is reconstructed,
// blank lines are skipped, and malformed lines are dropped without ending
// the stream.
type Framer struct {
	s *bufio.Scanner
}

// NewFramer wraps r. The sequence is lazy and non-restartable.
func NewFramer(r io.Reader) *Framer {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, initialScanBufSize), maxRecordSize)
	return &Framer{s: s}
}

// Next returns the next complete record. It returns io.EOF when the stream
// ends and the transport error if the read fails.
func (f *Framer) Next() ([]byte, error) {
	for f.s.Scan() {
		if rec, ok := frameLine(f.s.Bytes()); ok {
			out := make([]byte, len(rec))
			copy(out, rec)
			return out, nil
		}
	}
	if err := f.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// frameLine trims one line and reports whether it is a complete JSON record.
func frameLine(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !json.Valid(line) {
		return nil, false
	}
	return line, true
}
