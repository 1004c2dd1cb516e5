package common

import (
	"testing"
)

// SetPathsForTesting points the data and log directories at a per-test temporary directory.
func SetPathsForTesting(t *testing.T) {
	if !testing.Testing() {
		panic("SetPathsForTesting should only be called in tests")
	}
	t.Helper()
	tmp := t.TempDir()
	dataPath.Store(tmp)
	logPath.Store(tmp)
}
