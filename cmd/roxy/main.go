// Command roxy is the proxy's standalone CLI entry point: parse flags,
// load CA material, build the upstream client and listener, and run until
// an interrupt/termination signal arrives. Grounded on
// go-core-stack-mcp-auth-proxy's main.go for the flag-parse -> log-level ->
// construct -> serve -> signal-driven-graceful-shutdown shape, adapted from
// its net/http.Server.Shutdown to a plain net.Listener since this proxy
// speaks raw HTTP/1.1 and CONNECT over internal/dispatch rather than
// net/http's server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ehuff700/roxy/internal/certcache"
	"github.com/ehuff700/roxy/internal/config"
	"github.com/ehuff700/roxy/internal/dispatch"
	"github.com/ehuff700/roxy/internal/listener"
	"github.com/ehuff700/roxy/internal/proxylog"
	"github.com/ehuff700/roxy/internal/proxyservice"
	"github.com/ehuff700/roxy/internal/reqid"
	"github.com/ehuff700/roxy/internal/upstream"
	"github.com/ehuff700/roxy/internal/upstream/timing"
)

func main() {
	var cfg config.Config
	config.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	log, err := proxylog.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}

	root, err := certcache.LoadRoot(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load CA material")
	}
	certs := certcache.NewCache(root)

	var client *upstream.Client
	if cfg.ProxyClientSecure {
		client, err = upstream.NewHTTPS()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct upstream client")
		}
	} else {
		client = upstream.NewHTTP()
	}
	client.OnMetrics = func(m timing.Metrics) {
		log.Debug().
			Dur("dns", m.DNSLookup).
			Dur("tcp_connect", m.TCPConnect).
			Dur("tls_handshake", m.TLSHandshake).
			Dur("ttfb", m.TTFB).
			Dur("total", m.TotalTime).
			Msg("upstream timing")
	}

	dctx := dispatch.Context{
		Hooks: proxyservice.Context{
			OnRequest:  proxyservice.PassthroughRequestHook,
			OnResponse: proxyservice.PassthroughResponseHook,
			Upstream:   client,
		},
		Certs: certs,
		IDs:   &reqid.Counter{},
		OnError: func(requestID uint64, err error) {
			proxylog.LogError(&log, requestID, err)
		},
	}

	addr := net.JoinHostPort(cfg.IP, strconv.Itoa(int(cfg.Port)))
	ln, err := listener.Listen(addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to bind proxy listener")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", addr).Msg("starting roxy")
	listener.Serve(ctx, ln, dctx, &log)
	log.Info().Msg("roxy stopped")
}
