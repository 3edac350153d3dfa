// Package embedded carries the default CA certificate and private key
// baked into the binary at build time, the direct Go analog of the
// original implementation's include_bytes!-embedded roxy.cer/roxy.key.
package embedded

import _ "embed"

//go:embed ca_cert.pem
var CACert []byte

//go:embed ca_key.pem
var CAKey []byte
