// Package rewind lets a freshly-hijacked connection be peeked at without
// losing the bytes that were read: a sniffer consumes a prefix to classify
// the stream, then the same bytes are replayed to whatever parser handles
// the chosen protocol.
package rewind

import (
	"net"
	"sync"
)

// Conn wraps a net.Conn with an optional prefix that Read drains before
// falling through to the underlying connection. Write and every other
// net.Conn method pass through unmodified via embedding.
type Conn struct {
	net.Conn

	mu     sync.Mutex
	prefix []byte
}

// New wraps conn with no pending prefix.
func New(conn net.Conn) *Conn {
	return &Conn{Conn: conn}
}

// NewBuffered wraps conn with prefix queued ahead of the underlying stream -
// the shape needed right after peeking bytes off an upgraded connection to
// classify it, then handing the same bytes to the TLS or tunnel reader.
func NewBuffered(conn net.Conn, prefix []byte) *Conn {
	if len(prefix) == 0 {
		return New(conn)
	}
	buf := make([]byte, len(prefix))
	copy(buf, prefix)
	return &Conn{Conn: conn, prefix: buf}
}

// Read serves buffered prefix bytes first; once the prefix is drained,
// reads fall through to the wrapped connection for the lifetime of Conn.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		if len(c.prefix) == 0 {
			c.prefix = nil
		}
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	return c.Conn.Read(p)
}
