package jwk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keksclan/goMobileConnect/internal/cache"
	"github.com/keksclan/goMobileConnect/internal/rest"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched keyset stays fresh.
const DefaultTTL = time.Hour

// Manager fetches key sets by URL and keeps them in a TTL cache.
//
// Concurrency: safe for concurrent use. Concurrent misses for the same URL
// share one fetch.
type Manager struct {
	cache      cache.Cache
	rest       rest.Client
	ttl        time.Duration
	allowStale bool
	logger     *slog.Logger
	now        func() time.Time
	sfGroup    singleflight.Group

	// fetchFn performs the actual fetch; tests replace it to count calls or
	// inject failures.
	fetchFn func(ctx context.Context, jwksURL string) (*Keyset, error)
}

func NewManager(c cache.Cache, rc rest.Client, ttl time.Duration, allowStale bool) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		cache:      c,
		rest:       rc,
		ttl:        ttl,
		allowStale: allowStale,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	m.fetchFn = m.fetchKeyset
	return m
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.logger = l
	}
}

// RetrieveKeyset returns the keyset published at jwksURL, from cache when a
// fresh copy exists. Fetch failures are returned, never an empty keyset.
func (m *Manager) RetrieveKeyset(ctx context.Context, jwksURL string) (*Keyset, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: empty jwks url", ErrInvalidKeyset)
	}
	freshKey := "jwks:fresh:" + jwksURL
	staleKey := "jwks:stale:" + jwksURL

	if set, ok := m.cached(freshKey); ok && !set.HasExpired(m.now()) {
		return set.Clone(), nil
	}

	result, fetchErr, _ := m.sfGroup.Do(jwksURL, func() (any, error) {
		if set, ok := m.cached(freshKey); ok && !set.HasExpired(m.now()) {
			return set, nil
		}
		set, err := m.fetchFn(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		now := m.now()
		set.FetchedAt = now
		set.Expiry = now.Add(m.ttl)
		m.cache.Set(freshKey, set, 1, m.ttl)
		// keep stale longer (4x TTL, minimum 1h)
		m.cache.Set(staleKey, set, 1, max(m.ttl*4, time.Hour))
		if w, ok := any(m.cache).(interface{ Wait() }); ok {
			w.Wait()
		}
		return set, nil
	})
	if fetchErr == nil {
		set, ok := result.(*Keyset)
		if !ok {
			return nil, fmt.Errorf("unexpected singleflight result type %T for jwksURL=%s", result, jwksURL)
		}
		return set.Clone(), nil
	}

	if m.allowStale {
		if set, ok := m.cached(staleKey); ok {
			m.logger.Warn("serving stale jwks", "url", jwksURL, "error", fetchErr)
			return set.Clone(), nil
		}
	}
	return nil, fmt.Errorf("failed to fetch JWKS: %w", fetchErr)
}

// Invalidate drops the fresh copy for jwksURL so the next call refetches.
func (m *Manager) Invalidate(jwksURL string) {
	m.cache.Del("jwks:fresh:" + jwksURL)
}

func (m *Manager) cached(key string) (*Keyset, bool) {
	val, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	set, ok := val.(*Keyset)
	return set, ok && set != nil
}

func (m *Manager) fetchKeyset(ctx context.Context, jwksURL string) (*Keyset, error) {
	resp, err := m.rest.Get(ctx, jwksURL, nil, []rest.Header{{Name: "Accept", Value: "application/json"}}, nil)
	if err != nil {
		return nil, err
	}
	set, err := ParseKeyset(resp.Body)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("fetched jwks", "url", jwksURL, "keys", len(set.Keys))
	return set, nil
}
