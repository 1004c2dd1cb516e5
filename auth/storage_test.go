package auth

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	s, err := fs.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, s)
	v, err := fs.LoadVerifier()
	require.NoError(t, err)
	assert.Empty(t, v)
	require.NoError(t, fs.DeleteSession(), "deleting a missing session is fine")

	want := &Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: 42, User: User{ID: testUserID, Email: "x@y.z"}}
	require.NoError(t, fs.SaveSession(want))
	got, err := fs.LoadSession()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(fs.SessionPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, fs.SaveVerifier("verifier"))
	v, err = fs.LoadVerifier()
	require.NoError(t, err)
	assert.Equal(t, "verifier", v)
	require.NoError(t, fs.DeleteVerifier())
	v, err = fs.LoadVerifier()
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, os.WriteFile(fs.SessionPath(), []byte("garbage"), 0o600))
	_, err = fs.LoadSession()
	assert.Error(t, err)
}
