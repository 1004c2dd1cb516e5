package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDirectories(t *testing.T) {
	base := t.TempDir()
	dataDir, logDir, err := SetupDirectories(filepath.Join(base, "app"), filepath.Join(base, "app", "logs"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "app", "data"), dataDir)
	assert.Equal(t, filepath.Join(base, "app", "logs"), logDir)
	assert.Equal(t, dataDir, DataPath())
	assert.Equal(t, logDir, LogPath())
	for _, dir := range []string{dataDir, logDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSetPathsForTesting(t *testing.T) {
	SetPathsForTesting(t)
	assert.NotEmpty(t, DataPath())
	assert.Equal(t, DataPath(), LogPath())
}
