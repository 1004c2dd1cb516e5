// Package config loads the client configuration: built-in defaults, then an optional JSON or YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/sokdak/sokdak/common/atomicfile"
	"github.com/sokdak/sokdak/common/env"
)

// Keys for the configuration values.
const (
	SupabaseURLKey       = "supabase_url"
	AnonKeyKey           = "anon_key"
	RedirectURLKey       = "redirect_url"
	ForegroundDelayKey   = "foreground_delay"
	RefreshMarginKey     = "refresh_margin"
	AutoRefreshTickKey   = "auto_refresh_tick"
	HTTPTimeoutKey       = "http_timeout"
	HTTPRetriesKey       = "http_retries"
	LogLevelKey          = "log_level"
	SentryDSNKey         = "sentry_dsn"
	WatchSessionFileKey  = "watch_session_file"
	ProfileWorkersKey    = "profile_workers"
	RedeemedCacheSizeKey = "redeemed_cache_size"
	OTELEndpointKey      = "otel.endpoint"
	OTELSampleRateKey    = "otel.traces_sample_rate"
)

var ErrMissingBackend = errors.New("supabase_url and anon_key are required")

type Config struct {
	// SupabaseURL is the project URL, e.g. https://<ref>.supabase.co
	SupabaseURL string `koanf:"supabase_url"`
	AnonKey     string `koanf:"anon_key"`
	// RedirectURL is the deep link the OAuth provider sends the user back to.
	RedirectURL string `koanf:"redirect_url"`

	// ForegroundDelay is how long the app waits after returning to the foreground before it
	// polls for a session, giving a pending deep link the chance to arrive first.
	ForegroundDelay time.Duration `koanf:"foreground_delay"`
	// RefreshMargin is how long before expiry a session is refreshed.
	RefreshMargin   time.Duration `koanf:"refresh_margin"`
	AutoRefreshTick time.Duration `koanf:"auto_refresh_tick"`

	HTTPTimeout time.Duration `koanf:"http_timeout"`
	HTTPRetries int           `koanf:"http_retries"`

	LogLevel  string `koanf:"log_level"`
	SentryDSN string `koanf:"sentry_dsn"`

	WatchSessionFile  bool `koanf:"watch_session_file"`
	ProfileWorkers    int  `koanf:"profile_workers"`
	RedeemedCacheSize int  `koanf:"redeemed_cache_size"`

	OTEL OTEL `koanf:"otel"`
}

// OTEL configures the OpenTelemetry exporters. An empty Endpoint disables them.
type OTEL struct {
	Endpoint         string            `koanf:"endpoint"`
	Headers          map[string]string `koanf:"headers"`
	TracesSampleRate float64           `koanf:"traces_sample_rate"`
	Insecure         bool              `koanf:"insecure"`
}

var defaults = map[string]any{
	RedirectURLKey:       "sokdak://auth/callback",
	ForegroundDelayKey:   "1500ms",
	RefreshMarginKey:     "90s",
	AutoRefreshTickKey:   "30s",
	HTTPTimeoutKey:       "30s",
	HTTPRetriesKey:       2,
	LogLevelKey:          "info",
	WatchSessionFileKey:  true,
	ProfileWorkersKey:    2,
	RedeemedCacheSizeKey: 64,
	OTELSampleRateKey:    1.0,
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load(nil, nil)
	if err != nil {
		// the defaults are static and always decode
		panic(err)
	}
	return cfg
}

// Load reads the configuration file at path, if any, over the defaults and applies environment
// overrides. A missing file is not an error. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		if v, ok := env.Get(env.ConfigPath); ok {
			path = v
		}
	}
	if path == "" {
		return load(nil, nil)
	}
	raw, err := atomicfile.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return load(nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return load(raw, parserFor(path))
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlParser{}
	default:
		return json.Parser()
	}
}

func load(raw []byte, parser koanf.Parser) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}
	if raw != nil {
		if err := k.Load(rawbytes.Provider(raw), parser); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	for key, name := range map[string]env.Key{
		SupabaseURLKey:  env.SupabaseURL,
		AnonKeyKey:      env.AnonKey,
		LogLevelKey:     env.LogLevel,
		SentryDSNKey:    env.SentryDSN,
		OTELEndpointKey: env.OTELEndpoint,
	} {
		if v, ok := env.Get(name); ok {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("applying %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete enough to talk to the backend.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" || c.AnonKey == "" {
		return ErrMissingBackend
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid supabase_url %q", c.SupabaseURL)
	}
	if _, err := url.Parse(c.RedirectURL); err != nil || c.RedirectURL == "" {
		return fmt.Errorf("invalid redirect_url %q", c.RedirectURL)
	}
	if c.ForegroundDelay < 0 || c.RefreshMargin < 0 || c.AutoRefreshTick <= 0 {
		return errors.New("durations must not be negative and auto_refresh_tick must be positive")
	}
	return nil
}

// yamlParser adapts goccy/go-yaml to koanf.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]any) ([]byte, error) {
	return yaml.Marshal(o)
}
