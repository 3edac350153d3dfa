// Package proxylog wraps github.com/rs/zerolog for the proxy engine's
// structured logging. The teacher ships no logging library at all -
// pkg/errors/pkg/client return *errors.Error values and leave logging to
// the caller - so this is grounded instead on the sibling
// go-core-stack-mcp-auth-proxy example, a reverse-proxy in the same domain
// that wires zerolog through a main.go this module's cmd/roxy mirrors.
package proxylog

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/ehuff700/roxy/internal/proxyerr"
)

// New builds a console-writer logger at level, matching the auth-proxy
// example's zerolog.ConsoleWriter + parsed-level setup.
func New(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger(), nil
}

// LogError writes err (expected to be, or wrap, a *proxyerr.Error) at an
// appropriate level: fatal-kind errors are logged as errors (cmd/roxy
// decides whether to exit), everything else as a warning, always with
// request_id/authority/kind fields when available.
func LogError(log *zerolog.Logger, requestID uint64, err error) {
	event := log.Warn()
	var pe *proxyerr.Error
	if e, ok := err.(*proxyerr.Error); ok {
		pe = e
		if pe.Kind.Fatal() {
			event = log.Error()
		}
		event = event.Str("kind", string(pe.Kind))
		if pe.Addr != "" {
			event = event.Str("authority", pe.Addr)
		} else if pe.Host != "" {
			event = event.Str("authority", pe.Host)
		}
	}
	if requestID != 0 {
		event = event.Uint64("request_id", requestID)
	}
	event.Err(err).Msg("proxy error")
}
