package model

import (
	"strings"
	"sync"
)

// OutputBuffer is an append-only, concurrency-safe record of script output
// lines. The shell executor writes to it while readers poll it.
type OutputBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewOutputBuffer returns an empty buffer.
func NewOutputBuffer() *OutputBuffer {
	return &OutputBuffer{}
}

// Append adds a line.
func (b *OutputBuffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Len returns the number of lines appended so far.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// String joins all lines with newlines.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// Tail returns at most n of the most recent lines.
func (b *OutputBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}
