// Package h2 wires explicit HTTP/2 support into the upstream client's
// transport. The teacher's pkg/http2 hand-rolled HTTP/2 framing
// (client/transport/frames/stream/types/converter) on top of net/http; that
// approach is replaced here by golang.org/x/net/http2 - already a teacher
// dependency via pkg/http2's imports and the obvious idiomatic choice,
// since re-implementing frame encode/decode would just duplicate what the
// package already provides. The teacher's Options shape (knobs a caller
// tunes before dialing) is kept as H2Options.
package h2

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Options mirrors the handful of tunables the teacher's from-scratch HTTP/2
// client exposed, realized as golang.org/x/net/http2.Transport fields.
type Options struct {
	// MaxReadFrameSize bounds the largest frame the transport accepts.
	MaxReadFrameSize uint32
	// ReadIdleTimeout triggers a health-check PING when no frame has been
	// read for this long; zero disables health checking.
	ReadIdleTimeout time.Duration
	// PingTimeout bounds how long a health-check PING may go unanswered
	// before the connection is considered dead.
	PingTimeout time.Duration
}

// DefaultOptions matches golang.org/x/net/http2's own zero-value behavior
// except for a conservative idle-ping so a wedged upstream doesn't hold a
// pooled connection open forever.
func DefaultOptions() Options {
	return Options{
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     15 * time.Second,
	}
}

// ConfigureTransport upgrades t to negotiate HTTP/2 over TLS via ALPN,
// applying opts. Grounded on golang.org/x/net/http2.ConfigureTransport,
// the same call net/http's own implicit HTTP/2 support makes internally -
// made explicit here so upstream.Client can tune it.
func ConfigureTransport(t *http.Transport, opts Options) (*http2.Transport, error) {
	h2t, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, err
	}
	if opts.MaxReadFrameSize > 0 {
		h2t.MaxReadFrameSize = opts.MaxReadFrameSize
	}
	h2t.ReadIdleTimeout = opts.ReadIdleTimeout
	h2t.PingTimeout = opts.PingTimeout
	return h2t, nil
}
