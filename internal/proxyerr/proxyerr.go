// Package proxyerr provides the structured error taxonomy for the proxy
// engine: one Kind per condition the design distinguishes, carried with
// enough context (host, port, addr, the operation that failed) to log
// usefully without a stack trace.
package proxyerr

import (
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a proxy error for dispatch/logging purposes.
type Kind string

const (
	// KindProxySetup signals a listener bind failure; fatal, propagated to
	// the caller of Listen/Start.
	KindProxySetup Kind = "proxy_setup"
	// KindMissingOrInvalidAuthority signals a CONNECT target that has no
	// parseable host; the client receives a 500.
	KindMissingOrInvalidAuthority Kind = "missing_or_invalid_authority"
	// KindProxyRequest signals an upstream connect/send failure; the client
	// receives a 500.
	KindProxyRequest Kind = "proxy_request"
	// KindBodyProcessing signals an upstream body frame error, surfaced via
	// the body streaming sink rather than as an HTTP status.
	KindBodyProcessing Kind = "body_processing"
	// KindTlsSetupError signals that loading the CA material failed; fatal
	// at startup.
	KindTlsSetupError Kind = "tls_setup_error"
	// KindTlsConfigSetup signals that minting a server TLS config failed;
	// the mint fails and the connection is dropped.
	KindTlsConfigSetup Kind = "tls_config_setup"
	// KindTlsStreamError signals a TLS handshake failure; logged, the
	// connection is dropped.
	KindTlsStreamError Kind = "tls_stream_error"
	// KindUpgradeError signals that the CONNECT upgrade itself failed.
	KindUpgradeError Kind = "upgrade_error"
	// KindReadFromUpgraded signals an I/O error reading the upgraded
	// connection during sniffing.
	KindReadFromUpgraded Kind = "read_from_upgraded"
	// KindServeConnection signals an HTTP framing error while serving a
	// MITM'd connection.
	KindServeConnection Kind = "serve_connection"
	// KindProxyUnknown signals a raw-tunnel TCP error.
	KindProxyUnknown Kind = "proxy_unknown"
	// KindIpAddressParse signals a bad bind address in configuration;
	// fatal at startup.
	KindIpAddressParse Kind = "ip_address_parse"
)

// Error is the structured error type every proxy-internal failure is wrapped
// in before it crosses a package boundary, so callers can type-switch on
// Kind instead of matching message strings.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Host      string
	Port      string
	Addr      string
	Timestamp time.Time
}

// New constructs an Error, stamping the current time.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// WithAuthority attaches host/port/addr context to an Error and returns it,
// for call sites that learn the authority after construction.
func (e *Error) WithAuthority(host, port string) *Error {
	e.Host = host
	e.Port = port
	if port != "" {
		e.Addr = host + ":" + port
	} else {
		e.Addr = host
	}
	return e
}

// Error implements the error interface. Format: [kind] op addr: message: cause
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Addr != "" {
		parts = append(parts, e.Addr)
	} else if e.Host != "" {
		parts = append(parts, e.Host)
	}

	out := strings.Join(parts, " ")
	if e.Message != "" {
		out += ": " + e.Message
	}
	if e.Cause != nil {
		out += ": " + e.Cause.Error()
	}
	return out
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, the same coarse-grained equality the teacher's
// error type used for its ErrorType.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Fatal reports whether errors of this kind are fatal at startup rather
// than scoped to a single connection.
func (k Kind) Fatal() bool {
	switch k {
	case KindProxySetup, KindTlsSetupError, KindIpAddressParse:
		return true
	default:
		return false
	}
}

func ProxySetup(cause error) *Error {
	return New(KindProxySetup, "listen", "failed to bind proxy listener", cause)
}

func MissingOrInvalidAuthority(target string) *Error {
	return New(KindMissingOrInvalidAuthority, "connect", fmt.Sprintf("could not parse authority from %q", target), nil)
}

func ProxyRequest(host, port string, cause error) *Error {
	return New(KindProxyRequest, "send", "upstream request failed", cause).WithAuthority(host, port)
}

func BodyProcessing(cause error) *Error {
	return New(KindBodyProcessing, "body", "error reading upstream body", cause)
}

func TlsSetupError(cause error) *Error {
	return New(KindTlsSetupError, "load_ca", "failed to load CA material", cause)
}

func TlsConfigSetup(host string, cause error) *Error {
	return New(KindTlsConfigSetup, "mint", "failed to mint server TLS config", cause).WithAuthority(host, "")
}

func TlsStreamError(cause error) *Error {
	return New(KindTlsStreamError, "handshake", "TLS handshake failed", cause)
}

func UpgradeError(cause error) *Error {
	return New(KindUpgradeError, "upgrade", "CONNECT upgrade failed", cause)
}

func ReadFromUpgraded(cause error) *Error {
	return New(KindReadFromUpgraded, "sniff", "failed to read from upgraded connection", cause)
}

func ServeConnection(cause error) *Error {
	return New(KindServeConnection, "serve", "HTTP framing error", cause)
}

func ProxyUnknown(cause error) *Error {
	return New(KindProxyUnknown, "tunnel", "raw tunnel I/O error", cause)
}

func IpAddressParse(addr string, cause error) *Error {
	return New(KindIpAddressParse, "parse_addr", fmt.Sprintf("invalid bind address %q", addr), cause)
}
