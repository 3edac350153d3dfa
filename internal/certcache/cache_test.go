package certcache

import (
	"crypto/tls"
	"strconv"
	"testing"
)

// Adapted from the teacher's tests/unit/tls_config_test.go: that suite
// checked an outbound client's tls.Config passthrough (MinVersion, cipher
// suites, SNI). The MITM cache only ever produces one config shape
// (baseServerConfig, ALPN h2/http1.1, TLS 1.2 floor) for a mint it fully
// owns, so the adaptation is checking that shape plus the cache's own
// mint-once/evict/reuse contract instead of a caller-supplied-config
// passthrough.

func testCache(t *testing.T) *Cache {
	t.Helper()
	root, err := LoadRoot("", "")
	if err != nil {
		t.Fatalf("LoadRoot: %v", err)
	}
	return NewCache(root)
}

func TestGetOrInsertMintsAConfigWithExpectedShape(t *testing.T) {
	c := testCache(t)

	cfg, err := c.GetOrInsert(Authority{Host: "example.com"})
	if err != nil {
		t.Fatalf("GetOrInsert: %v", err)
	}

	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = 0x%x, want TLS 1.2 floor", cfg.MinVersion)
	}
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" || cfg.NextProtos[1] != "http/1.1" {
		t.Errorf("NextProtos = %v, want [h2 http/1.1]", cfg.NextProtos)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one minted certificate chain, got %d", len(cfg.Certificates))
	}
	if len(cfg.Certificates[0].Certificate) != 2 {
		t.Errorf("expected leaf+CA chain of length 2, got %d", len(cfg.Certificates[0].Certificate))
	}
}

func TestGetOrInsertReusesCachedConfigForSameAuthority(t *testing.T) {
	c := testCache(t)

	first, err := c.GetOrInsert(Authority{Host: "example.com", Port: "443"})
	if err != nil {
		t.Fatalf("GetOrInsert: %v", err)
	}
	second, err := c.GetOrInsert(Authority{Host: "example.com", Port: "443"})
	if err != nil {
		t.Fatalf("GetOrInsert: %v", err)
	}

	if first != second {
		t.Fatal("expected the same *tls.Config instance for a repeated authority")
	}
}

func TestGetOrInsertMintsDistinctConfigsForDistinctAuthorities(t *testing.T) {
	c := testCache(t)

	a, err := c.GetOrInsert(Authority{Host: "a.example.com"})
	if err != nil {
		t.Fatalf("GetOrInsert a: %v", err)
	}
	b, err := c.GetOrInsert(Authority{Host: "b.example.com"})
	if err != nil {
		t.Fatalf("GetOrInsert b: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct configs for distinct authorities")
	}
}

func TestGetOrInsertEvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	c := testCache(t)

	// Fill past capacity with distinct authorities, then confirm the very
	// first one minted was evicted while the most recent survives.
	for i := 0; i < MaxCapacity+1; i++ {
		host := string(rune('a' + i%26))
		if _, err := c.GetOrInsert(Authority{Host: host + ".example.com", Port: strconv.Itoa(i)}); err != nil {
			t.Fatalf("GetOrInsert %d: %v", i, err)
		}
	}

	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	if n > MaxCapacity {
		t.Errorf("cache holds %d entries, want at most %d", n, MaxCapacity)
	}
}
