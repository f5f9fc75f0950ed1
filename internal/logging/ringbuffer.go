package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the last N bytes written to it.
// It is an io.Writer and is safe for concurrent use.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	next    int
	wrapped bool
}

// NewRingBuffer returns a buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write stores p, overwriting the oldest bytes once the buffer is full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.data)
	if n >= size {
		copy(rb.data, p[n-size:])
		rb.next = 0
		rb.wrapped = true
		return n, nil
	}

	tail := size - rb.next
	if n < tail {
		copy(rb.data[rb.next:], p)
		rb.next += n
		return n, nil
	}

	copy(rb.data[rb.next:], p[:tail])
	copy(rb.data, p[tail:])
	rb.next = n - tail
	rb.wrapped = true
	return n, nil
}

// Bytes returns a copy of the contents, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.data[:rb.next]...)
	}
	out := make([]byte, 0, len(rb.data))
	out = append(out, rb.data[rb.next:]...)
	return append(out, rb.data[:rb.next]...)
}

// DumpToFile writes Bytes() to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}
