// Package listener binds the proxy's listening socket and spawns the
// per-connection dispatch loop for each accepted client. Grounded on the
// original's CoreProxyServer::start's bind-then-accept-loop shape, and on
// go-core-stack-mcp-auth-proxy's main.go for the accept-error "log and
// continue, don't crash the whole server" handling.
package listener

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"

	"github.com/ehuff700/roxy/internal/dispatch"
	"github.com/ehuff700/roxy/internal/proxyerr"
)

// Listen binds addr (host:port form) and returns the ready net.Listener, or
// a fatal *proxyerr.Error (KindProxySetup) if the bind fails.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, proxyerr.ProxySetup(err)
	}
	return ln, nil
}

// Serve runs the accept loop until ctx is cancelled or ln is closed,
// spawning dispatch.ServeConn for each accepted connection. A transient
// Accept error is logged and the loop continues; Accept returning because
// ln was closed (the expected shutdown path) ends the loop without error.
func Serve(ctx context.Context, ln net.Listener, dctx dispatch.Context, log *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			if log != nil {
				log.Warn().Err(err).Msg("accept failed")
			}
			continue
		}

		go dispatch.ServeConn(ctx, dctx, conn, nil)
	}
}
