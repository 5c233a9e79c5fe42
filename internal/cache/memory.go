package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is a Store backed by go-cache. Expired entries are hidden on
// read and swept by the go-cache janitor.
type MemoryStore struct {
	prefix string
	c      *gocache.Cache
}

// NewMemoryStore creates a MemoryStore. cleanupInterval <= 0 disables the
// background janitor and leaves expiry entirely lazy.
func NewMemoryStore(prefix string, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (m *MemoryStore) key(k string) string { return m.prefix + k }

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b := make([]byte, len(value))
	copy(b, value)
	m.c.Set(m.key(key), b, clampTTL(ttl))
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.c.Delete(m.key(key))
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	if m.prefix == "" {
		m.c.Flush()
		return nil
	}
	for k := range m.c.Items() {
		if strings.HasPrefix(k, m.prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	n := 0
	// Items already filters expired entries.
	for k := range m.c.Items() {
		if strings.HasPrefix(k, m.prefix) {
			n++
		}
	}
	return n, nil
}
