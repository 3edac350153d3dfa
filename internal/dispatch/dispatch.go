// Package dispatch runs the per-connection state machine: read the first
// (and, for keep-alive, every subsequent) client request off the wire,
// assign it a request id, classify it as CONNECT / WebSocket upgrade /
// plain, and route to the matching handler. Grounded on the original's
// CoreProxyServer::proxy_service dispatch table and CoreProxyServer::start's
// per-connection accept+spawn loop.
package dispatch

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/ehuff700/roxy/internal/certcache"
	"github.com/ehuff700/roxy/internal/envelope"
	"github.com/ehuff700/roxy/internal/mitm"
	"github.com/ehuff700/roxy/internal/proxyservice"
	"github.com/ehuff700/roxy/internal/reqid"
	"github.com/ehuff700/roxy/internal/wire"
	"github.com/ehuff700/roxy/internal/wsdetect"
)

// Context bundles everything a connection's request loop needs, cloned
// (by value - every field is a pointer or small struct) into each accepted
// connection's goroutine.
type Context struct {
	Hooks   proxyservice.Context
	Certs   *certcache.Cache
	IDs     *reqid.Counter
	OnError func(requestID uint64, err error)
}

func (dctx Context) logError(requestID uint64, err error) {
	if dctx.OnError != nil {
		dctx.OnError(requestID, err)
	}
}

// ServeConn runs the read/classify/route loop for one accepted connection
// until the client disconnects, a framing error occurs, or the connection
// is handed off to a CONNECT tunnel. fixup is non-nil when conn is itself
// an already-MITM'd inner stream, and is applied to every relative request
// URI read from it before dispatch.
func ServeConn(ctx context.Context, dctx Context, conn net.Conn, fixup *mitm.Fixup) {
	hijacked := false
	defer func() {
		if !hijacked {
			conn.Close()
		}
	}()

	br := bufio.NewReader(conn)
	for {
		req, err := wire.ReadRequest(br)
		if err != nil {
			return
		}

		id := dctx.IDs.Next()
		applyFixup(req, fixup)

		switch {
		case req.Method == http.MethodConnect:
			resp, upgraded := handleConnect(ctx, dctx, id, req, conn, br)
			writeResponse(conn, req, resp.Inner)
			// Once mitm.Upgrade has spawned the tunnel goroutine, it owns
			// conn for the rest of its lifetime (the tunnel/TLS-serve
			// loop); the deferred close above must not race it. If the
			// upgrade never got that far (e.g. an unparseable target),
			// conn is still ours to close after writing the error above.
			hijacked = upgraded
			return

		case wsdetect.IsUpgradeRequest(req):
			resp := envelope.Empty(id, http.StatusOK)
			writeResponse(conn, req, resp.Inner)

		default:
			env := envelope.NewRequest(req, id)
			resp := ServeOneRequest(ctx, dctx, env)
			writeResponse(conn, req, resp.Inner)
			if shouldClose(req, resp.Inner) {
				return
			}
		}
	}
}

// ServeOneRequest dispatches an already-read, already-id-assigned request
// that didn't arrive via ServeConn's own wire read (the HTTP/2 path inside
// internal/mitm uses this directly, since golang.org/x/net/http2 hands it
// parsed *http.Request values).
func ServeOneRequest(ctx context.Context, dctx Context, req *envelope.Request) *envelope.Response {
	if wsdetect.IsUpgradeRequest(req.Inner) {
		return envelope.Empty(req.ID, http.StatusOK)
	}
	return proxyservice.Serve(ctx, dctx.Hooks, req)
}

func handleConnect(ctx context.Context, dctx Context, id uint64, req *http.Request, conn net.Conn, br *bufio.Reader) (*envelope.Response, bool) {
	leftover := drainBuffered(br)

	deps := mitm.Deps{
		Certs: dctx.Certs,
		IDs:   dctx.IDs,
		RequestHandler: func(ctx context.Context, r *envelope.Request) *envelope.Response {
			return ServeOneRequest(ctx, dctx, r)
		},
		OnTunnelError: func(err error) {
			dctx.logError(id, err)
		},
	}

	serveHTTP1 := func(ctx context.Context, c net.Conn, fixup *mitm.Fixup) {
		ServeConn(ctx, dctx, c, fixup)
	}

	return mitm.Upgrade(ctx, deps, id, req.URL.Host, conn, leftover, serveHTTP1)
}

// drainBuffered returns whatever bytes bufio.Reader has already pulled off
// the connection but not yet handed to a caller, so they aren't lost when
// the raw net.Conn is handed off to the tunnel goroutine.
func drainBuffered(br *bufio.Reader) []byte {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	b, _ := br.Peek(n)
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func applyFixup(req *http.Request, fixup *mitm.Fixup) {
	if fixup == nil || req.URL == nil {
		return
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = fixup.Scheme
	}
	if req.URL.Host == "" {
		req.URL.Host = fixup.Host
	}
}

// writeResponse writes resp to conn in HTTP/1.1 wire format. http.Response's
// own Write writes header keys exactly as stored (no canonicalization),
// which is what lets a host callback's literal header casing reach the
// client unchanged. Closing resp.Body afterward returns its connection (for
// an upstream-backed response) to the pool it came from.
func writeResponse(conn net.Conn, req *http.Request, resp *http.Response) {
	resp.Request = req
	resp.ProtoMajor, resp.ProtoMinor = 1, 1
	resp.Proto = "HTTP/1.1"
	_ = resp.Write(conn)
	if resp.Body != nil {
		resp.Body.Close()
	}
}

func shouldClose(req *http.Request, resp *http.Response) bool {
	if strings.EqualFold(headerValue(req.Header, "Connection"), "close") {
		return true
	}
	return strings.EqualFold(resp.Header.Get("Connection"), "close")
}

func headerValue(h http.Header, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
