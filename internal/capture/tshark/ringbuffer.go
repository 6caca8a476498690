package tshark

import (
	"bytes"
	"strings"
	"sync"
)

// ringBuffer keeps the last size elements added.
type ringBuffer[T any] struct {
	buffer []T
	size   int
	write  int
	count  int
}

func newRingBuffer[T any](size int) *ringBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts a new element, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(value T) {
	rb.buffer[rb.write] = value
	rb.write = (rb.write + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// fifo returns the contents oldest first.
func (rb *ringBuffer[T]) fifo() []T {
	result := make([]T, 0, rb.count)
	for i := 0; i < rb.count; i++ {
		index := (rb.write + rb.size - rb.count + i) % rb.size
		result = append(result, rb.buffer[index])
	}
	return result
}

// maxPartialLine bounds an unterminated line; the excess is dropped.
const maxPartialLine = 4096

// tailWriter is an io.Writer that remembers the last lines written to it.
// It is used for the tool's stderr so failures can quote it.
type tailWriter struct {
	mu      sync.Mutex
	lines   *ringBuffer[string]
	partial []byte
}

func newTailWriter(maxLines int) *tailWriter {
	return &tailWriter{lines: newRingBuffer[string](maxLines)}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.appendPartial(p)
			break
		}
		w.appendPartial(p[:i])
		w.lines.add(string(bytes.TrimRight(w.partial, "\r")))
		w.partial = w.partial[:0]
		p = p[i+1:]
	}
	return n, nil
}

func (w *tailWriter) appendPartial(p []byte) {
	if room := maxPartialLine - len(w.partial); len(p) > room {
		p = p[:max(room, 0)]
	}
	w.partial = append(w.partial, p...)
}

// String returns the remembered lines, including an unterminated last line.
func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := w.lines.fifo()
	if len(w.partial) > 0 {
		lines = append(lines, string(w.partial))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
