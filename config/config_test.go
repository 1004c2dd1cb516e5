package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokdak/sokdak/common/env"
)

func clearEnv(t *testing.T) {
	for _, key := range []env.Key{env.ConfigPath, env.SupabaseURL, env.AnonKey, env.LogLevel, env.SentryDSN, env.OTELEndpoint} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Chdir(t.TempDir())
	env.Reload()
	t.Cleanup(env.Reload)
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	assert.Equal(t, 1500*time.Millisecond, cfg.ForegroundDelay)
	assert.Equal(t, 90*time.Second, cfg.RefreshMargin)
	assert.Equal(t, 30*time.Second, cfg.AutoRefreshTick)
	assert.Equal(t, 2, cfg.HTTPRetries)
	assert.Equal(t, "sokdak://auth/callback", cfg.RedirectURL)
	assert.Equal(t, 64, cfg.RedeemedCacheSize)
	assert.True(t, cfg.WatchSessionFile)
	assert.Equal(t, 1.0, cfg.OTEL.TracesSampleRate)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingBackend)
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"supabase_url": "https://abc.supabase.co",
		"anon_key": "anon",
		"foreground_delay": "2s",
		"http_retries": 5,
		"otel": {"endpoint": "localhost:4317", "headers": {"x-key": "v"}}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://abc.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, 2*time.Second, cfg.ForegroundDelay)
	assert.Equal(t, 5, cfg.HTTPRetries)
	assert.Equal(t, "localhost:4317", cfg.OTEL.Endpoint)
	assert.Equal(t, map[string]string{"x-key": "v"}, cfg.OTEL.Headers)
	assert.Equal(t, 90*time.Second, cfg.RefreshMargin, "unset keys keep their defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"supabase_url: https://abc.supabase.co\nanon_key: anon\nrefresh_margin: 10s\nwatch_session_file: false\n",
	), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.RefreshMargin)
	assert.False(t, cfg.WatchSessionFile)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"supabase_url": "https://file.supabase.co", "anon_key": "file"}`), 0o600))
	t.Setenv(env.SupabaseURL, "https://env.supabase.co")
	t.Setenv(env.LogLevel, "debug")
	t.Setenv(env.ConfigPath, path)
	env.Reload()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, "file", cfg.AnonKey)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() *Config {
		cfg := Default()
		cfg.SupabaseURL = "https://abc.supabase.co"
		cfg.AnonKey = "anon"
		return cfg
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.SupabaseURL = "abc"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RedirectURL = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ForegroundDelay = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.AutoRefreshTick = 0
	assert.Error(t, cfg.Validate())
}
