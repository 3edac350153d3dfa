package proxyerr

import (
	"errors"
	"fmt"
	"testing"
)

// Adapted from the teacher's tests/unit/errors_test.go: same shape (table
// of constructors mapped to expected Kind, Unwrap/Is semantics), against
// this package's Kind/Error/WithAuthority instead of pkg/errors's
// ErrorType/Error/fields-at-construction API.

func TestConstructorsStampExpectedKind(t *testing.T) {
	cause := fmt.Errorf("lookup failed")
	tests := []struct {
		name string
		err  *Error
		want Kind
	}{
		{"ProxySetup", ProxySetup(cause), KindProxySetup},
		{"MissingOrInvalidAuthority", MissingOrInvalidAuthority("bad:target"), KindMissingOrInvalidAuthority},
		{"ProxyRequest", ProxyRequest("example.com", "443", cause), KindProxyRequest},
		{"BodyProcessing", BodyProcessing(cause), KindBodyProcessing},
		{"TlsSetupError", TlsSetupError(cause), KindTlsSetupError},
		{"TlsConfigSetup", TlsConfigSetup("example.com", cause), KindTlsConfigSetup},
		{"TlsStreamError", TlsStreamError(cause), KindTlsStreamError},
		{"UpgradeError", UpgradeError(cause), KindUpgradeError},
		{"ReadFromUpgraded", ReadFromUpgraded(cause), KindReadFromUpgraded},
		{"ServeConnection", ServeConnection(cause), KindServeConnection},
		{"ProxyUnknown", ProxyUnknown(cause), KindProxyUnknown},
		{"IpAddressParse", IpAddressParse("nope", cause), KindIpAddressParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.want)
			}
			if tt.err.Error() == "" {
				t.Error("error message should not be empty")
			}
			if tt.err.Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := ProxyRequest("example.com", "443", cause)

	if !errors.Is(err.Unwrap(), cause) {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestErrorIsMatchesOnKindOnly(t *testing.T) {
	err1 := BodyProcessing(fmt.Errorf("boom"))
	err2 := &Error{Kind: KindBodyProcessing}
	if !err1.Is(err2) {
		t.Error("errors with the same kind should match")
	}

	err3 := &Error{Kind: KindProxyRequest}
	if err1.Is(err3) {
		t.Error("errors with different kinds should not match")
	}
}

func TestWithAuthorityFormatsAddr(t *testing.T) {
	err := ProxyRequest("example.com", "443", nil)
	if err.Addr != "example.com:443" {
		t.Errorf("Addr = %q, want example.com:443", err.Addr)
	}

	err2 := TlsConfigSetup("example.com", nil)
	if err2.Addr != "example.com" {
		t.Errorf("Addr = %q, want example.com (no port)", err2.Addr)
	}
}

func TestFatalKinds(t *testing.T) {
	fatal := []Kind{KindProxySetup, KindTlsSetupError, KindIpAddressParse}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%v should be fatal", k)
		}
	}

	nonFatal := []Kind{KindProxyRequest, KindBodyProcessing, KindServeConnection}
	for _, k := range nonFatal {
		if k.Fatal() {
			t.Errorf("%v should not be fatal", k)
		}
	}
}
