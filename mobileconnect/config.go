package mobileconnect

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/keksclan/goMobileConnect/internal/sessiontoken"
)

// CacheBackend selects where identified discovery results are kept.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// Config is the application's Mobile Connect registration plus engine
// tuning. Zero values take the defaults documented per field.
type Config struct {
	ClientID     string
	ClientSecret string
	DiscoveryURL string
	RedirectURL  string

	// IncludeRequestIP forwards the end user's IP as X-Source-IP during
	// discovery.
	IncludeRequestIP bool
	// HTTPTimeout bounds each request to the operator. Default 10s.
	HTTPTimeout time.Duration

	JWKS           JWKSConfig
	DiscoveryCache DiscoveryCacheConfig
	// Authentication holds the defaults for authorization requests when a
	// call passes no options.
	Authentication AuthenticationOptions
	Session        SessionConfig
	ClaimsPolicy   ClaimsPolicyConfig
	Async          AsyncConfig
}

type JWKSConfig struct {
	// CacheTTL is how long a fetched key set stays fresh. Default 1h.
	CacheTTL time.Duration
	// AllowStale serves the last good key set when a refetch fails.
	AllowStale bool
}

type DiscoveryCacheConfig struct {
	// Backend defaults to memory.
	Backend CacheBackend
	// CleanupInterval is the memory backend's sweep period. Default 10m.
	CleanupInterval time.Duration
	Redis           RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix defaults to "mobileconnect:".
	KeyPrefix string
}

type SessionConfig struct {
	// TokenKey is the base64-encoded 32-byte key that seals session
	// tokens. When empty a random key is generated, so tokens do not
	// survive a restart.
	TokenKey string
	// TTL bounds how long a stored flow state lives. Default 30m.
	TTL time.Duration
}

// ClaimsPolicyConfig is an optional Lua script run against the claims of
// every validated ID token.
type ClaimsPolicyConfig struct {
	Lua string
}

type AsyncConfig struct {
	// Workers bounds concurrent calls made through Async. Default 8.
	Workers int
}

func (c *Config) setDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.JWKS.CacheTTL == 0 {
		c.JWKS.CacheTTL = time.Hour
	}
	if c.DiscoveryCache.Backend == "" {
		c.DiscoveryCache.Backend = CacheBackendMemory
	}
	if c.DiscoveryCache.CleanupInterval == 0 {
		c.DiscoveryCache.CleanupInterval = 10 * time.Minute
	}
	if c.DiscoveryCache.Redis.KeyPrefix == "" {
		c.DiscoveryCache.Redis.KeyPrefix = "mobileconnect:"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * time.Minute
	}
	if c.Async.Workers == 0 {
		c.Async.Workers = 8
	}
}

// Validate checks required fields. It accepts zero values for everything
// that has a default.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidConfig)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%w: client_secret is required", ErrInvalidConfig)
	}
	if err := absoluteURL("discovery_url", c.DiscoveryURL); err != nil {
		return err
	}
	if err := absoluteURL("redirect_url", c.RedirectURL); err != nil {
		return err
	}
	if c.HTTPTimeout < 0 || c.JWKS.CacheTTL < 0 || c.Session.TTL < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	switch c.DiscoveryCache.Backend {
	case "", CacheBackendMemory:
	case CacheBackendRedis:
		if c.DiscoveryCache.Redis.Addr == "" {
			return fmt.Errorf("%w: discovery_cache.redis.addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported discovery cache backend %q", ErrInvalidConfig, c.DiscoveryCache.Backend)
	}
	if c.Session.TokenKey != "" {
		if _, err := c.sessionKey(); err != nil {
			return err
		}
	}
	if c.Async.Workers < 0 {
		return fmt.Errorf("%w: async.workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) sessionKey() ([]byte, error) {
	if c.Session.TokenKey == "" {
		return sessiontoken.GenerateKey()
	}
	key, err := base64.StdEncoding.DecodeString(c.Session.TokenKey)
	if err != nil || len(key) != sessiontoken.KeySize {
		return nil, fmt.Errorf("%w: session.token_key must be base64 of %d bytes", ErrInvalidConfig, sessiontoken.KeySize)
	}
	return key, nil
}

func absoluteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute URL", ErrInvalidConfig, field)
	}
	return nil
}
