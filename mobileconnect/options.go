package mobileconnect

import (
	"log/slog"
	"time"

	"github.com/keksclan/goMobileConnect/internal/rest"
	"github.com/redis/go-redis/v9"
)

// Cache is the in-process cache that holds key sets.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// RESTClient performs the HTTP calls to the discovery service and the
// operator.
type RESTClient = rest.Client

type Option func(*Interface)

func WithLogger(l *slog.Logger) Option {
	return func(mc *Interface) {
		mc.logger = l
	}
}

func WithRESTClient(c RESTClient) Option {
	return func(mc *Interface) {
		mc.rest = c
	}
}

// WithKeyCache replaces the default ristretto key set cache.
func WithKeyCache(c Cache) Option {
	return func(mc *Interface) {
		mc.keyCache = c
	}
}

// WithDiscoveryStore replaces the store selected by
// Config.DiscoveryCache.Backend.
func WithDiscoveryStore(s Store) Option {
	return func(mc *Interface) {
		mc.store = s
	}
}

// WithRedisClient makes the redis backend use an existing client instead
// of dialing Config.DiscoveryCache.Redis.Addr.
func WithRedisClient(c *redis.Client) Option {
	return func(mc *Interface) {
		mc.redis = c
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(mc *Interface) {
		mc.metrics = m
	}
}

// WithClock replaces the time source used for expiry and token checks.
func WithClock(now func() time.Time) Option {
	return func(mc *Interface) {
		mc.now = now
	}
}
