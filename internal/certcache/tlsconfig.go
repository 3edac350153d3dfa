package certcache

import "crypto/tls"

// alpnProtocols is the fixed ALPN advertisement for every minted server TLS
// config: origins and browsers alike negotiate h2 when they can, falling
// back to http/1.1 otherwise.
var alpnProtocols = []string{"h2", "http/1.1"}

// baseServerConfig returns the tls.Config shape every minted leaf
// certificate is served under. Unlike the teacher's tlsconfig package
// (which exposes Modern/Secure/Compatible/Legacy profiles for an outbound
// client choosing how cautious to be against arbitrary origins), a MITM
// leaf config has exactly one shape: the client already chose to trust
// this proxy's root, so there's no "compatibility tier" to pick.
func baseServerConfig() *tls.Config {
	return &tls.Config{
		NextProtos: alpnProtocols,
		ClientAuth: tls.NoClientCert,
		MinVersion: tls.VersionTLS12,
	}
}
