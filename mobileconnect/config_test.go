package mobileconnect

import (
	"errors"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		ClientID:     "abc",
		ClientSecret: "secret",
		DiscoveryURL: "https://discovery.example.com/v2/discovery",
		RedirectURL:  "http://localhost/mobile_connect",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"minimal", func(*Config) {}, true},
		{"missing client id", func(c *Config) { c.ClientID = "" }, false},
		{"missing client secret", func(c *Config) { c.ClientSecret = "" }, false},
		{"relative discovery url", func(c *Config) { c.DiscoveryURL = "/discovery" }, false},
		{"missing redirect url", func(c *Config) { c.RedirectURL = "" }, false},
		{"negative timeout", func(c *Config) { c.HTTPTimeout = -time.Second }, false},
		{"redis without addr", func(c *Config) { c.DiscoveryCache.Backend = CacheBackendRedis }, false},
		{"redis with addr", func(c *Config) {
			c.DiscoveryCache.Backend = CacheBackendRedis
			c.DiscoveryCache.Redis.Addr = "localhost:6379"
		}, true},
		{"unknown backend", func(c *Config) { c.DiscoveryCache.Backend = "memcached" }, false},
		{"short session key", func(c *Config) { c.Session.TokenKey = "c2hvcnQ=" }, false},
		{"session key not base64", func(c *Config) { c.Session.TokenKey = "%%%" }, false},
		{"negative workers", func(c *Config) { c.Async.Workers = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.setDefaults()
	if cfg.HTTPTimeout != 10*time.Second || cfg.JWKS.CacheTTL != time.Hour || cfg.Session.TTL != 30*time.Minute {
		t.Errorf("unexpected durations %+v", cfg)
	}
	if cfg.DiscoveryCache.Backend != CacheBackendMemory || cfg.DiscoveryCache.Redis.KeyPrefix != "mobileconnect:" || cfg.Async.Workers != 8 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
