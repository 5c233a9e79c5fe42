package mobileconnectconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/keksclan/goMobileConnect/internal/luaengine"
	"github.com/keksclan/goMobileConnect/mobileconnect"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// Loader loads a mobileconnect.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*mobileconnect.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg mobileconnect.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg mobileconnect.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*mobileconnect.Config, error) {
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// fileConfig mirrors mobileconnect.Config for JSON and YAML files.
// Durations are whole seconds or milliseconds as the key says.
type fileConfig struct {
	ClientID         string       `json:"client_id" yaml:"client_id"`
	ClientSecret     string       `json:"client_secret" yaml:"client_secret"`
	DiscoveryURL     string       `json:"discovery_url" yaml:"discovery_url"`
	RedirectURL      string       `json:"redirect_url" yaml:"redirect_url"`
	IncludeRequestIP bool         `json:"include_request_ip" yaml:"include_request_ip"`
	HTTPTimeoutMs    int          `json:"http_timeout_ms" yaml:"http_timeout_ms"`
	JWKS             fileJWKS     `json:"jwks" yaml:"jwks"`
	DiscoveryCache   fileCache    `json:"discovery_cache" yaml:"discovery_cache"`
	Authentication   fileAuth     `json:"authentication" yaml:"authentication"`
	Session          fileSession  `json:"session" yaml:"session"`
	Policies         filePolicies `json:"policies" yaml:"policies"`
	Async            fileAsync    `json:"async" yaml:"async"`
}

type fileJWKS struct {
	CacheTTLSec int  `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	AllowStale  bool `json:"allow_stale" yaml:"allow_stale"`
}

type fileCache struct {
	Backend            string    `json:"backend" yaml:"backend"`
	CleanupIntervalSec int       `json:"cleanup_interval_sec" yaml:"cleanup_interval_sec"`
	Redis              fileRedis `json:"redis" yaml:"redis"`
}

type fileRedis struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

type fileAuth struct {
	Scope      string `json:"scope" yaml:"scope"`
	ACRValues  string `json:"acr_values" yaml:"acr_values"`
	Display    string `json:"display" yaml:"display"`
	Prompt     string `json:"prompt" yaml:"prompt"`
	MaxAgeSec  int    `json:"max_age_sec" yaml:"max_age_sec"`
	UILocales  string `json:"ui_locales" yaml:"ui_locales"`
	ClientName string `json:"client_name" yaml:"client_name"`
}

type fileSession struct {
	TokenKey string `json:"token_key" yaml:"token_key"`
	TTLSec   int    `json:"ttl_sec" yaml:"ttl_sec"`
}

type filePolicies struct {
	Lua fileLuaPolicy `json:"lua" yaml:"lua"`
}

type fileLuaPolicy struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Script  string `json:"script" yaml:"script"`
}

type fileAsync struct {
	Workers int `json:"workers" yaml:"workers"`
}

func (fc fileConfig) toConfig() mobileconnect.Config {
	cfg := mobileconnect.Config{
		ClientID:         fc.ClientID,
		ClientSecret:     fc.ClientSecret,
		DiscoveryURL:     fc.DiscoveryURL,
		RedirectURL:      fc.RedirectURL,
		IncludeRequestIP: fc.IncludeRequestIP,
		HTTPTimeout:      time.Duration(fc.HTTPTimeoutMs) * time.Millisecond,
		JWKS: mobileconnect.JWKSConfig{
			CacheTTL:   time.Duration(fc.JWKS.CacheTTLSec) * time.Second,
			AllowStale: fc.JWKS.AllowStale,
		},
		DiscoveryCache: mobileconnect.DiscoveryCacheConfig{
			Backend:         mobileconnect.CacheBackend(fc.DiscoveryCache.Backend),
			CleanupInterval: time.Duration(fc.DiscoveryCache.CleanupIntervalSec) * time.Second,
			Redis: mobileconnect.RedisConfig{
				Addr:      fc.DiscoveryCache.Redis.Addr,
				Password:  fc.DiscoveryCache.Redis.Password,
				DB:        fc.DiscoveryCache.Redis.DB,
				KeyPrefix: fc.DiscoveryCache.Redis.KeyPrefix,
			},
		},
		Authentication: mobileconnect.AuthenticationOptions{
			Scope:      fc.Authentication.Scope,
			ACRValues:  fc.Authentication.ACRValues,
			Display:    fc.Authentication.Display,
			Prompt:     fc.Authentication.Prompt,
			MaxAge:     time.Duration(fc.Authentication.MaxAgeSec) * time.Second,
			UILocales:  fc.Authentication.UILocales,
			ClientName: fc.Authentication.ClientName,
		},
		Session: mobileconnect.SessionConfig{
			TokenKey: fc.Session.TokenKey,
			TTL:      time.Duration(fc.Session.TTLSec) * time.Second,
		},
		Async: mobileconnect.AsyncConfig{Workers: fc.Async.Workers},
	}
	if fc.Policies.Lua.Enabled {
		cfg.ClaimsPolicy.Lua = fc.Policies.Lua.Script
	}
	return cfg
}

// fileLoader reads a file and decodes it with unmarshal.
type fileLoader struct {
	path      string
	format    string
	unmarshal func([]byte, any) error
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &fileLoader{path: path, format: "json", unmarshal: json.Unmarshal}
}

// FromYAMLFile creates a Loader that reads config from a YAML file. Keys are
// the same as in JSON.
func FromYAMLFile(path string) Loader {
	return &fileLoader{path: path, format: "yaml", unmarshal: yaml.Unmarshal}
}

func (l *fileLoader) Load(_ context.Context) (*mobileconnect.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read %s config: %w", l.format, err)
	}
	var fc fileConfig
	if err := l.unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", l.format, err)
	}
	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// envConfig lists the environment variables FromEnv reads.
type envConfig struct {
	ClientID         string        `env:"MC_CLIENT_ID"`
	ClientSecret     string        `env:"MC_CLIENT_SECRET"`
	DiscoveryURL     string        `env:"MC_DISCOVERY_URL"`
	RedirectURL      string        `env:"MC_REDIRECT_URL"`
	IncludeRequestIP bool          `env:"MC_INCLUDE_REQUEST_IP"`
	HTTPTimeout      time.Duration `env:"MC_HTTP_TIMEOUT"`
	JWKSCacheTTL     time.Duration `env:"MC_JWKS_CACHE_TTL"`
	JWKSAllowStale   bool          `env:"MC_JWKS_ALLOW_STALE"`
	CacheBackend     string        `env:"MC_DISCOVERY_CACHE_BACKEND"`
	CacheCleanup     time.Duration `env:"MC_DISCOVERY_CACHE_CLEANUP"`
	RedisAddr        string        `env:"MC_REDIS_ADDR"`
	RedisPassword    string        `env:"MC_REDIS_PASSWORD"`
	RedisDB          int           `env:"MC_REDIS_DB"`
	RedisKeyPrefix   string        `env:"MC_REDIS_KEY_PREFIX"`
	Scope            string        `env:"MC_SCOPE"`
	ACRValues        string        `env:"MC_ACR_VALUES"`
	Display          string        `env:"MC_DISPLAY"`
	MaxAge           time.Duration `env:"MC_MAX_AGE"`
	SessionTokenKey  string        `env:"MC_SESSION_TOKEN_KEY"`
	SessionTTL       time.Duration `env:"MC_SESSION_TTL"`
	ClaimsPolicyFile string        `env:"MC_CLAIMS_POLICY_FILE"`
	AsyncWorkers     int           `env:"MC_ASYNC_WORKERS"`
}

type envLoader struct{}

// FromEnv creates a Loader that reads MC_* environment variables. Durations
// use time.ParseDuration syntax. MC_CLAIMS_POLICY_FILE names a Lua policy
// script to read.
func FromEnv() Loader {
	return envLoader{}
}

func (envLoader) Load(_ context.Context) (*mobileconnect.Config, error) {
	var ec envConfig
	if err := envdecode.Decode(&ec); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env config: %w", err)
	}
	cfg := mobileconnect.Config{
		ClientID:         ec.ClientID,
		ClientSecret:     ec.ClientSecret,
		DiscoveryURL:     ec.DiscoveryURL,
		RedirectURL:      ec.RedirectURL,
		IncludeRequestIP: ec.IncludeRequestIP,
		HTTPTimeout:      ec.HTTPTimeout,
		JWKS:             mobileconnect.JWKSConfig{CacheTTL: ec.JWKSCacheTTL, AllowStale: ec.JWKSAllowStale},
		DiscoveryCache: mobileconnect.DiscoveryCacheConfig{
			Backend:         mobileconnect.CacheBackend(ec.CacheBackend),
			CleanupInterval: ec.CacheCleanup,
			Redis: mobileconnect.RedisConfig{
				Addr:      ec.RedisAddr,
				Password:  ec.RedisPassword,
				DB:        ec.RedisDB,
				KeyPrefix: ec.RedisKeyPrefix,
			},
		},
		Authentication: mobileconnect.AuthenticationOptions{
			Scope:     ec.Scope,
			ACRValues: ec.ACRValues,
			Display:   ec.Display,
			MaxAge:    ec.MaxAge,
		},
		Session: mobileconnect.SessionConfig{TokenKey: ec.SessionTokenKey, TTL: ec.SessionTTL},
		Async:   mobileconnect.AsyncConfig{Workers: ec.AsyncWorkers},
	}
	if ec.ClaimsPolicyFile != "" {
		script, err := os.ReadFile(ec.ClaimsPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read claims policy: %w", err)
		}
		cfg.ClaimsPolicy.Lua = string(script)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file. The
// script must return a table shaped like the JSON config.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*mobileconnect.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString runs a Lua config script in the sandbox and maps the table
// it returns.
func LoadLuaString(script string) (*mobileconnect.Config, error) {
	L := luaengine.NewSandbox()
	defer L.Close()

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}

	cfg := luaTableToConfig(tbl).toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func luaTableToConfig(tbl *lua.LTable) fileConfig {
	fc := fileConfig{
		ClientID:         getStringField(tbl, "client_id"),
		ClientSecret:     getStringField(tbl, "client_secret"),
		DiscoveryURL:     getStringField(tbl, "discovery_url"),
		RedirectURL:      getStringField(tbl, "redirect_url"),
		IncludeRequestIP: getBoolField(tbl, "include_request_ip"),
		HTTPTimeoutMs:    int(getNumberField(tbl, "http_timeout_ms")),
	}

	if t := getTableField(tbl, "jwks"); t != nil {
		fc.JWKS.CacheTTLSec = int(getNumberField(t, "cache_ttl_sec"))
		fc.JWKS.AllowStale = getBoolField(t, "allow_stale")
	}

	if t := getTableField(tbl, "discovery_cache"); t != nil {
		fc.DiscoveryCache.Backend = getStringField(t, "backend")
		fc.DiscoveryCache.CleanupIntervalSec = int(getNumberField(t, "cleanup_interval_sec"))
		if r := getTableField(t, "redis"); r != nil {
			fc.DiscoveryCache.Redis = fileRedis{
				Addr:      getStringField(r, "addr"),
				Password:  getStringField(r, "password"),
				DB:        int(getNumberField(r, "db")),
				KeyPrefix: getStringField(r, "key_prefix"),
			}
		}
	}

	if t := getTableField(tbl, "authentication"); t != nil {
		fc.Authentication = fileAuth{
			Scope:      getStringField(t, "scope"),
			ACRValues:  getStringField(t, "acr_values"),
			Display:    getStringField(t, "display"),
			Prompt:     getStringField(t, "prompt"),
			MaxAgeSec:  int(getNumberField(t, "max_age_sec")),
			UILocales:  getStringField(t, "ui_locales"),
			ClientName: getStringField(t, "client_name"),
		}
		// A scope list is joined the way it is sent.
		if scopes := getStringSliceField(t, "scope"); len(scopes) > 0 {
			fc.Authentication.Scope = strings.Join(scopes, " ")
		}
	}

	if t := getTableField(tbl, "session"); t != nil {
		fc.Session.TokenKey = getStringField(t, "token_key")
		fc.Session.TTLSec = int(getNumberField(t, "ttl_sec"))
	}

	if p := getTableField(tbl, "policies"); p != nil {
		if t := getTableField(p, "lua"); t != nil {
			fc.Policies.Lua.Enabled = getBoolField(t, "enabled")
			fc.Policies.Lua.Script = getStringField(t, "script")
		}
	}

	if t := getTableField(tbl, "async"); t != nil {
		fc.Async.Workers = int(getNumberField(t, "workers"))
	}
	return fc
}

// Lua table helper functions

func getStringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	v := tbl.RawGetString(key)
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string) bool {
	v := tbl.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	v := tbl.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}
