package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/common/env"
)

var (
	dataPath atomic.Value
	logPath  atomic.Value
)

// ensure dataPath and logPath are of type string
func init() {
	dataPath.Store("")
	logPath.Store("")
}

// SetupDirectories creates the data and log directories. Mobile shells always pass their sandbox
// directories; on desktop an empty value falls back to the environment, then to the user config
// and cache directories.
func SetupDirectories(data, logs string) (dataDir, logDir string, err error) {
	dataDir, logDir = data, logs
	if v, ok := env.Get(env.DataPath); ok && dataDir == "" {
		dataDir = v
	}
	if v, ok := env.Get(env.LogPath); ok && logDir == "" {
		logDir = v
	}
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", "", fmt.Errorf("no data directory given and none found: %w", err)
		}
		dataDir = filepath.Join(base, app.Name)
	}
	if logDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = dataDir
		}
		logDir = filepath.Join(base, app.Name)
	}
	dataDir = maybeAddSuffix(dataDir, "data")
	logDir = maybeAddSuffix(logDir, "logs")
	for _, path := range []string{dataDir, logDir} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", "", fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	dataPath.Store(dataDir)
	logPath.Store(logDir)
	return dataDir, logDir, nil
}

func maybeAddSuffix(path, suffix string) string {
	if filepath.Base(path) != suffix {
		path = filepath.Join(path, suffix)
	}
	return path
}

func DataPath() string {
	return dataPath.Load().(string)
}

func LogPath() string {
	return logPath.Load().(string)
}
