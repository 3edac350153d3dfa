package certcache

import (
	"net"
	"strings"

	"github.com/ehuff700/roxy/internal/proxyerr"
)

// Authority is the host[:port] pair a CONNECT target or a Host: header
// names, used as the cache key for minted leaf certificates.
type Authority struct {
	Host string
	Port string
}

// String renders the authority back to host:port form, or bare host when
// no port was present.
func (a Authority) String() string {
	if a.Port == "" {
		return a.Host
	}
	return net.JoinHostPort(a.Host, a.Port)
}

// ParseAuthority parses a CONNECT target ("example.com:443") or a bare
// Host header value ("example.com" or "example.com:8443") into an
// Authority. Missing or unparseable host is reported as
// proxyerr.MissingOrInvalidAuthority, per spec step 1 of the MITM upgrade.
func ParseAuthority(target string) (Authority, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Authority{}, proxyerr.MissingOrInvalidAuthority(target)
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No port present at all (e.g. a bare Host header) - treat the
		// whole thing as the host.
		if strings.Contains(target, ":") && !strings.HasPrefix(target, "[") {
			// Contains a colon but SplitHostPort still failed (e.g.
			// trailing colon, IPv6 without brackets) - invalid.
			return Authority{}, proxyerr.MissingOrInvalidAuthority(target)
		}
		host = target
		port = ""
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return Authority{}, proxyerr.MissingOrInvalidAuthority(target)
	}

	return Authority{Host: host, Port: port}, nil
}
