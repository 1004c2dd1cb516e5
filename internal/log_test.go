package internal

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     Disable,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := ParseLogLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, LevelInfo, got)
}

func TestFormatLogLevel(t *testing.T) {
	assert.Equal(t, "TRACE", FormatLogLevel(LevelTrace))
	assert.Equal(t, "INFO", FormatLogLevel(LevelInfo))
	assert.Equal(t, "FATAL", FormatLogLevel(LevelFatal))
	assert.Equal(t, "PANIC", FormatLogLevel(LevelPanic+1))
}

func TestSplitFunction(t *testing.T) {
	pkg, fn := splitFunction("github.com/sokdak/sokdak/resolver.(*Resolver).handle")
	assert.Equal(t, "resolver", pkg)
	assert.Equal(t, "(*Resolver).handle", fn)

	pkg, fn = splitFunction("github.com/sokdak/sokdak/common/reporting.Init")
	assert.Equal(t, "common/reporting", pkg)
	assert.Equal(t, "Init", fn)

	pkg, fn = splitFunction("main.main")
	assert.Equal(t, "main", pkg)
	assert.Equal(t, "main", fn)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "resolving", "state", "resolving")
	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "msg=resolving")
	assert.Contains(t, out, "UTC")
	assert.Contains(t, out, "log_test.go")

	buf.Reset()
	NoOpLogger().Error("dropped")
	assert.Empty(t, buf.String())
}
