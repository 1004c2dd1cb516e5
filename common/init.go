package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/common/env"
	"github.com/sokdak/sokdak/common/reporting"
	"github.com/sokdak/sokdak/internal"
)

const defaultLogLevel = "info"

var (
	initMutex   sync.Mutex
	initialized bool
	logFile     io.Closer
)

// InitOptions configures Init.
type InitOptions struct {
	DataDir   string
	LogDir    string
	LogLevel  string
	SentryDSN string
}

// Init initializes the common components of the application: the data and log directories, the
// default logger and crash reporting. Only the first call has any effect.
func Init(opts InitOptions) error {
	initMutex.Lock()
	defer initMutex.Unlock()
	if initialized {
		return nil
	}

	dataDir, logDir, err := SetupDirectories(opts.DataDir, opts.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup directories: %w", err)
	}

	if err := initLogger(filepath.Join(logDir, LogFileName), opts.LogLevel); err != nil {
		return fmt.Errorf("initialize log: %w", err)
	}
	if err := reporting.Init(opts.SentryDSN, app.Version); err != nil {
		slog.Error("Failed to initialize crash reporting", "error", err)
	}
	slog.Info("Initialized", "app", app.Name, "version", app.Version, "platform", app.Platform, "dataDir", dataDir)
	initialized = true
	return nil
}

// initLogger reconfigures the default slog.Logger to write to a rotating file and stdout and sets
// the log level. The level comes from the environment if set and valid, then from the given
// level, and defaults to "info".
func initLogger(logPath, level string) error {
	lvl, err := internal.ParseLogLevel(defaultLogLevel)
	if err != nil {
		return err
	}
	if level != "" {
		if lvl, err = internal.ParseLogLevel(level); err != nil {
			slog.Warn("Failed to parse given log level", "error", err)
		}
	}
	if envLvl, ok := env.Get(env.LogLevel); ok {
		if parsed, err := internal.ParseLogLevel(envLvl); err != nil {
			slog.Warn("Failed to parse "+env.LogLevel, "error", err)
		} else {
			lvl = parsed
		}
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if lvl == internal.Disable {
		slog.SetDefault(internal.NoOpLogger())
		return nil
	}
	f := internal.NewRotatingWriter(logPath, logMaxSizeMB, logMaxBackups)
	logFile = f
	slog.SetDefault(internal.NewLogger(io.MultiWriter(os.Stdout, f), lvl))
	return nil
}
