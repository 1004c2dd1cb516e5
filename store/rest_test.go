package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokdak/sokdak/common"
)

func newRESTProfiles(t *testing.T, handler http.HandlerFunc, token TokenSource) *RESTProfiles {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	wc := common.NewWebClient(&common.Opts{BaseURL: srv.URL, APIKey: "anon"})
	return NewRESTProfiles(wc, token)
}

func staticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

func TestRESTFetchProfile(t *testing.T) {
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, profilesPath, r.URL.Path)
		assert.Equal(t, "eq."+alice, r.URL.Query().Get("id"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, singleObjectType, r.Header.Get("Accept"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "anon", r.Header.Get(common.APIKeyHeader))
		w.Header().Set("Content-Type", singleObjectType+"; charset=utf-8")
		w.Write([]byte(`{"id":"` + alice + `","nickname":"솜사탕","avatar_url":null,"updated_at":"2024-05-01T09:00:00+00:00"}`))
	}, staticToken("user-token"))

	p, err := r.FetchProfile(t.Context(), alice)
	require.NoError(t, err)
	assert.Equal(t, alice, p.ID)
	assert.Equal(t, "솜사탕", p.Nickname)
	assert.Empty(t, p.AvatarURL)
	assert.Equal(t, 2024, p.UpdatedAt.Year())
}

func TestRESTFetchProfileNotFound(t *testing.T) {
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotAcceptable)
		w.Write([]byte(`{"code":"PGRST116","details":"The result contains 0 rows","hint":null,"message":"JSON object requested, multiple (or no) rows returned"}`))
	}, nil)

	_, err := r.FetchProfile(t.Context(), alice)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestRESTRejectsInvalidUserID(t *testing.T) {
	called := false
	r := newRESTProfiles(t, func(http.ResponseWriter, *http.Request) { called = true }, nil)
	_, err := r.FetchProfile(t.Context(), "1 or 1=1")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	assert.ErrorIs(t, r.UpdateNickname(t.Context(), "", "x"), ErrInvalidUserID)
	assert.False(t, called)
}

func TestRESTTokenError(t *testing.T) {
	r := newRESTProfiles(t, func(http.ResponseWriter, *http.Request) {}, func(context.Context) (string, error) {
		return "", errors.New("signed out")
	})
	_, err := r.FetchProfile(t.Context(), alice)
	assert.ErrorContains(t, err, "signed out")
}

func TestRESTUpdateNickname(t *testing.T) {
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq."+alice, r.URL.Query().Get("id"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got map[string]string
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, map[string]string{"nickname": "새 닉네임"}, got)
		w.WriteHeader(http.StatusNoContent)
	}, staticToken("user-token"))

	require.NoError(t, r.UpdateNickname(t.Context(), alice, "새 닉네임"))
}

func TestRESTUpdateNicknameError(t *testing.T) {
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":"42501","message":"permission denied for table profiles"}`))
	}, staticToken("user-token"))

	err := r.UpdateNickname(t.Context(), alice, "x")
	require.Error(t, err)
	assert.True(t, common.IsStatus(err, http.StatusForbidden))
}

func TestRESTUpdateAvatar(t *testing.T) {
	var uploaded, patched bool
	var baseURL string
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, storagePath+"/avatars/"+alice+"/1714554000000.png", r.URL.Path)
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Equal(t, "true", r.Header.Get("x-upsert"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "PNGDATA", string(body))
			uploaded = true
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"Key":"avatars/` + alice + `/1714554000000.png"}`))
		case http.MethodPatch:
			assert.Equal(t, profilesPath, r.URL.Path)
			assert.Equal(t, "eq."+alice, r.URL.Query().Get("id"))
			var got map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, baseURL+storagePath+"/public/avatars/"+alice+"/1714554000000.png", got["avatar_url"])
			patched = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}, staticToken("user-token"))
	baseURL = r.wc.BaseURL
	r.now = func() time.Time { return time.UnixMilli(1714554000000) }

	url, err := r.UpdateAvatar(t.Context(), alice, "IMG_0001.PNG", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, baseURL+"/storage/v1/object/public/avatars/"+alice+"/1714554000000.png", url)
	assert.True(t, uploaded)
	assert.True(t, patched)
}

func TestRESTUpdateAvatarTooLarge(t *testing.T) {
	patched := false
	r := newRESTProfiles(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patched = true
			return
		}
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":"413","error":"Payload too large","message":"The object exceeded the maximum allowed size"}`))
	}, staticToken("user-token"))

	_, err := r.UpdateAvatar(t.Context(), alice, "photo", strings.NewReader("big"))
	assert.ErrorIs(t, err, ErrAvatarTooLarge)
	assert.False(t, patched, "a failed upload leaves the profile alone")

	_, err = r.UpdateAvatar(t.Context(), "nobody", "a.png", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidUserID)
}
