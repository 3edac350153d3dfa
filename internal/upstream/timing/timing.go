// Package timing captures per-request connection-establishment timings for
// an upstream fetch, the same DNS/TCP/TLS/TTFB/Total shape the teacher's
// client reports, wired here via net/http/httptrace instead of manual
// Start/End calls bracketing a hand-rolled dial, since the upstream client
// now goes through net/http.Transport rather than owning the socket
// directly.
package timing

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"time"
)

// Metrics reports how long each phase of an upstream request took.
type Metrics struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	TotalTime    time.Duration
}

// Timer accumulates phase boundaries for a single request via an
// httptrace.ClientTrace installed on the request's context.
type Timer struct {
	start time.Time

	dnsStart, dnsEnd   time.Time
	connStart, connEnd time.Time
	tlsStart, tlsEnd   time.Time
	ttfbStart, ttfbEnd time.Time
}

// NewTimer starts a Timer and returns a context carrying the
// httptrace.ClientTrace that feeds it.
func NewTimer(ctx context.Context) (context.Context, *Timer) {
	t := &Timer{start: time.Now()}

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { t.dnsStart = time.Now() },
		DNSDone:  func(httptrace.DNSDoneInfo) { t.dnsEnd = time.Now() },
		ConnectStart: func(string, string) {
			if t.connStart.IsZero() {
				t.connStart = time.Now()
			}
		},
		ConnectDone: func(string, string, error) { t.connEnd = time.Now() },
		TLSHandshakeStart: func() { t.tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) { t.tlsEnd = time.Now() },
		GotFirstResponseByte: func() { t.ttfbEnd = time.Now() },
		WroteRequest: func(httptrace.WroteRequestInfo) {
			if t.ttfbStart.IsZero() {
				t.ttfbStart = time.Now()
			}
		},
	}

	return httptrace.WithClientTrace(ctx, trace), t
}

// Metrics computes the final, immutable timing snapshot. Safe to call once
// the request has completed (successfully or not); zero phases that never
// started report a zero duration.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.connStart.IsZero() && !t.connEnd.IsZero() {
		m.TCPConnect = t.connEnd.Sub(t.connStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}
