package certcache

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/ehuff700/roxy/internal/certcache/embedded"
	"github.com/ehuff700/roxy/internal/proxyerr"
)

// Root holds the CA material every minted leaf is signed under, plus one
// reusable leaf key pair shared by every mint (mirroring the original's
// single Arc<KeyPair> reused across generate_cert calls).
type Root struct {
	caCert  *x509.Certificate
	caKey   crypto.Signer
	leafKey crypto.Signer
}

// LoadRoot loads CA material from certPath/keyPath when both are set, or
// from the embedded PEM pair otherwise, and derives the shared leaf key
// pair. Failure here is always fatal at startup (proxyerr.TlsSetupError).
func LoadRoot(certPath, keyPath string) (*Root, error) {
	certPEM := embedded.CACert
	keyPEM := embedded.CAKey

	if certPath != "" {
		b, err := os.ReadFile(certPath)
		if err != nil {
			return nil, proxyerr.TlsSetupError(err)
		}
		certPEM = b
	}
	if keyPath != "" {
		b, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, proxyerr.TlsSetupError(err)
		}
		keyPEM = b
	}

	caCert, caKey, err := parseCA(certPEM, keyPEM)
	if err != nil {
		return nil, proxyerr.TlsSetupError(err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, proxyerr.TlsSetupError(err)
	}

	return &Root{caCert: caCert, caKey: caKey, leafKey: leafKey}, nil
}

func parseCA(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, proxyerr.New(proxyerr.KindTlsSetupError, "parse_ca_cert", "no PEM block found in CA certificate", nil)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, proxyerr.New(proxyerr.KindTlsSetupError, "parse_ca_key", "no PEM block found in CA key", nil)
	}

	signer, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}

	return cert, signer, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, proxyerr.New(proxyerr.KindTlsSetupError, "parse_ca_key", "unrecognized private key encoding", nil)
}

// CACertPEM re-encodes the root certificate as PEM, for serving to clients
// that need to fetch/trust the proxy's root out-of-band (e.g. a
// /roxy-ca.pem convenience endpoint wired up by cmd/roxy).
func (r *Root) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: r.caCert.Raw})
}

// tlsCertificate bundles a minted leaf with the CA cert, forming the chain
// a tls.Config needs to present.
func (r *Root) tlsCertificate(leafDER []byte) tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{leafDER, r.caCert.Raw},
		PrivateKey:  r.leafKey,
		Leaf:        nil,
	}
}
