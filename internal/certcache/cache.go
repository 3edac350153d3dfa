// Package certcache mints TLS leaf certificates for arbitrary authorities
// on demand, signed by a shared root, and caches the resulting server TLS
// configs so repeated handshakes to the same origin don't re-mint.
package certcache

import (
	"container/list"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ehuff700/roxy/internal/proxyerr"
)

// MaxCapacity bounds the number of distinct authorities the cache holds at
// once; eviction is LRU. An evicted config remains valid for any handshake
// already holding a reference to it - Go's garbage collector keeps it alive
// through that reference, so eviction never invalidates in-flight use.
const MaxCapacity = 1000

// Cache maps Authority to a minted *tls.Config, coalescing concurrent
// misses for the same key into exactly one mint via singleflight - the
// "compute once, publish once" contract the design calls out explicitly,
// as opposed to a plain mutex-guarded map, which would still duplicate
// mints across the window between an unlock and a subsequent insert.
type Cache struct {
	root  *Root
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*list.Element // authority string -> lru element
	order   *list.List               // front = most recently used
}

type cacheEntry struct {
	key    string
	config *tls.Config
}

// NewCache constructs a Cache backed by root.
func NewCache(root *Root) *Cache {
	return &Cache{
		root:    root,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// GetOrInsert returns the cached TLS config for authority, minting one if
// absent. Concurrent callers for the same authority share a single mint.
func (c *Cache) GetOrInsert(authority Authority) (*tls.Config, error) {
	key := authority.String()

	if cfg, ok := c.lookup(key); ok {
		return cfg, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have populated this key between our
		// lookup above and acquiring the singleflight slot.
		if cfg, ok := c.lookup(key); ok {
			return cfg, nil
		}
		cfg, err := c.mint(authority)
		if err != nil {
			return nil, err
		}
		c.insert(key, cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Config), nil
}

func (c *Cache) lookup(key string) (*tls.Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).config, true
}

func (c *Cache) insert(key string, cfg *tls.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).config = cfg
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, config: cfg})
	c.entries[key] = el

	for c.order.Len() > MaxCapacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).key)
	}
}

// mint generates a fresh leaf certificate for authority, signed by the
// root, and wraps it in a server TLS config advertising h2/http1.1.
func (c *Cache) mint(authority Authority) (*tls.Config, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return nil, proxyerr.TlsConfigSetup(authority.Host, err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: authority.Host},
		DNSNames:     []string{authority.Host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	leafDER, err := x509.CreateCertificate(rand.Reader, template, c.root.caCert, c.root.leafKey.Public(), c.root.caKey)
	if err != nil {
		return nil, proxyerr.TlsConfigSetup(authority.Host, err)
	}

	cfg := baseServerConfig()
	cfg.Certificates = []tls.Certificate{c.root.tlsCertificate(leafDER)}
	return cfg, nil
}
