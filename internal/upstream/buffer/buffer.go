// Package buffer accumulates a response body, spilling to a temporary file
// once it grows past a memory threshold, so a slow or malicious origin can't
// force unbounded proxy memory growth while a response is being buffered for
// the host callback surface.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/ehuff700/roxy/internal/proxyerr"
)

// DefaultMemoryLimit is the default threshold before a Buffer spills to disk.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Buffer stores a response body either in memory or spooled to a temp file
// once it exceeds its configured limit.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a Buffer with the given memory limit; limit <= 0 selects
// DefaultMemoryLimit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData creates a Buffer already holding data, used when the full body
// was read up front (e.g. a synthesized error response).
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write appends p, spilling to disk once the in-memory size would exceed
// the configured limit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, proxyerr.BodyProcessing(nil)
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "roxy-body-*.tmp")
		if err != nil {
			return 0, proxyerr.BodyProcessing(err)
		}
		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, proxyerr.BodyProcessing(err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, proxyerr.BodyProcessing(err)
	}
	return n, nil
}

// Bytes returns the in-memory payload; empty once the buffer has spilled.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the buffer has spilled to a temp file.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader over the stored data, for re-reading a
// buffered body (e.g. a second Body() call on the same envelope).
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, proxyerr.BodyProcessing(nil)
	}
	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, proxyerr.BodyProcessing(err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, proxyerr.BodyProcessing(err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close releases any backing temp file. Idempotent and safe for concurrent
// use.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = removeErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return proxyerr.BodyProcessing(err)
		}
	}
	return nil
}
