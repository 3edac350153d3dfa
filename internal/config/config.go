// Package config defines the proxy's external configuration surface and
// loads it from CLI flags. Grounded on the original Rust
// ProxyConfig::default() for field names/defaults, and on the auth-proxy
// example's typed-loader shape (getString/getBool-style helpers) - adapted
// to Go's flag package here, since this module ships its own standalone
// CLI rather than an embedding host supplying env vars.
package config

import (
	"flag"
	"strconv"
)

// Config controls how the proxy binds and how its upstream client behaves.
type Config struct {
	// IP is the address the proxy listens on.
	IP string
	// Port is the port the proxy listens on.
	Port uint16
	// CertPath overrides the embedded CA certificate when set.
	CertPath string
	// KeyPath overrides the embedded CA private key when set.
	KeyPath string
	// ProxyClientSecure controls whether the upstream client is permitted
	// to speak HTTPS at all.
	ProxyClientSecure bool
	// LogLevel is a zerolog level name (e.g. "debug", "info", "warn").
	LogLevel string
}

// Defaults matches the original's ProxyConfig::default().
func Defaults() Config {
	return Config{
		IP:                "127.0.0.1",
		Port:              5280,
		ProxyClientSecure: true,
		LogLevel:          "info",
	}
}

// RegisterFlags binds cfg's fields to fs, starting from Defaults() and
// letting the caller override via flag.Parse.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	*cfg = Defaults()
	fs.StringVar(&cfg.IP, "ip", cfg.IP, "address the proxy listens on")
	fs.Func("port", "port the proxy listens on", func(s string) error {
		p, err := parsePort(s)
		if err != nil {
			return err
		}
		cfg.Port = p
		return nil
	})
	fs.StringVar(&cfg.CertPath, "cert-path", cfg.CertPath, "path to a PEM CA certificate (default: embedded)")
	fs.StringVar(&cfg.KeyPath, "key-path", cfg.KeyPath, "path to a PEM CA private key (default: embedded)")
	fs.BoolVar(&cfg.ProxyClientSecure, "proxy-client-secure", cfg.ProxyClientSecure, "allow the upstream client to speak HTTPS")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}
