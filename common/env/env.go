// Package env reads process configuration from the environment, falling back to a .env file in
// the working directory.
package env

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Key = string

const (
	LogLevel     Key = "SOKDAK_LOG_LEVEL"
	LogPath      Key = "SOKDAK_LOG_PATH"
	DataPath     Key = "SOKDAK_DATA_PATH"
	ConfigPath   Key = "SOKDAK_CONFIG"
	SupabaseURL  Key = "SOKDAK_SUPABASE_URL"
	AnonKey      Key = "SOKDAK_ANON_KEY"
	SentryDSN    Key = "SOKDAK_SENTRY_DSN"
	OTELEndpoint Key = "SOKDAK_OTEL_ENDPOINT"
)

var keys = []Key{LogLevel, LogPath, DataPath, ConfigPath, SupabaseURL, AnonKey, SentryDSN, OTELEndpoint}

var (
	mu      sync.RWMutex
	envVars = map[string]string{}
)

func init() {
	Reload()
}

// Reload re-reads the .env file and the process environment. Process variables win over the
// .env file.
func Reload() {
	vars := map[string]string{}
	buf, err := os.ReadFile(".env")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error(".env file found, but failed to read", slog.Any("error", err))
	} else if err == nil {
		for line := range strings.SplitSeq(string(buf), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue // Skip empty lines and comments
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	for _, key := range keys {
		if value, exists := os.LookupEnv(key); exists {
			vars[key] = value
		}
	}
	mu.Lock()
	envVars = vars
	mu.Unlock()
}

func Get(key Key) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := envVars[key]
	return v, ok
}
