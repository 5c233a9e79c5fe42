package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/keksclan/goMobileConnect/internal/cache"
	"github.com/keksclan/goMobileConnect/internal/mcerr"
)

// CacheKey identifies an operator by network codes. It is comparable and
// usable as a map key.
type CacheKey struct {
	MCC string
	MNC string
}

func (k CacheKey) IsZero() bool { return k.MCC == "" && k.MNC == "" }

// IsComplete reports whether both codes are set. A country code alone
// spans several operators and never addresses an entry.
func (k CacheKey) IsComplete() bool { return k.MCC != "" && k.MNC != "" }

func (k CacheKey) String() string { return k.MCC + "_" + k.MNC }

// CacheValue is a cached identified result. Expiry and Payload are always
// set when built through NewCacheValue.
type CacheValue struct {
	Expiry           time.Time `json:"expiry"`
	Payload          Document  `json:"payload"`
	ProviderMetadata Document  `json:"provider_metadata,omitempty"`
}

func NewCacheValue(expiry time.Time, payload Document) (*CacheValue, error) {
	if expiry.IsZero() {
		return nil, fmt.Errorf("%w: cache value without expiry", mcerr.ErrInvalidArgument)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: cache value without payload", mcerr.ErrInvalidArgument)
	}
	return &CacheValue{Expiry: expiry, Payload: payload}, nil
}

// HasExpired reports whether v is past its expiry.
func (v *CacheValue) HasExpired(now time.Time) bool {
	return !now.Before(v.Expiry)
}

// Cache stores identified discovery results by network codes.
//
// Values are serialised into the backing store, so neither Put nor Get
// shares memory with the caller. Expired entries are evicted on Get; the
// store's own TTL is only a secondary sweeper.
//
// Concurrency: safe for concurrent use when the store is.
type Cache struct {
	store  cache.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewCache(store cache.Store) *Cache {
	return &Cache{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
}

// SetLogger replaces the cache's logger.
func (c *Cache) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetClock replaces the time source used for expiry.
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func storeKey(k CacheKey) string { return "discovery:" + k.String() }

// Get returns a copy of the value under key. Backend failures are logged
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key CacheKey) (*CacheValue, bool) {
	if !key.IsComplete() {
		return nil, false
	}
	data, ok, err := c.store.Get(ctx, storeKey(key))
	if err != nil {
		c.logger.Warn("discovery cache read failed", "key", key.String(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var v CacheValue
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || v.Payload == nil {
		c.logger.Warn("discarding undecodable discovery cache entry", "key", key.String())
		_ = c.store.Del(ctx, storeKey(key))
		return nil, false
	}
	if v.HasExpired(c.now()) {
		if err := c.store.Del(ctx, storeKey(key)); err != nil {
			c.logger.Warn("discovery cache evict failed", "key", key.String(), "error", err)
		}
		return nil, false
	}
	return &v, true
}

// Put stores a copy of value under key.
func (c *Cache) Put(ctx context.Context, key CacheKey, value *CacheValue) error {
	if !key.IsComplete() {
		return fmt.Errorf("%w: cache key needs both mcc and mnc", mcerr.ErrInvalidArgument)
	}
	if value == nil || value.Payload == nil || value.Expiry.IsZero() {
		return fmt.Errorf("%w: nil cache value", mcerr.ErrInvalidArgument)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", mcerr.ErrInvalidArgument, err)
	}
	return c.store.Set(ctx, storeKey(key), data, value.Expiry.Sub(c.now()))
}

func (c *Cache) Remove(ctx context.Context, key CacheKey) error {
	return c.store.Del(ctx, storeKey(key))
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// IsEmpty reports whether no unexpired entry remains.
func (c *Cache) IsEmpty(ctx context.Context) (bool, error) {
	n, err := c.store.Len(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
