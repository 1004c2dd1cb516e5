// Package auth is a client for a GoTrue-compatible authentication server. It redeems OAuth
// redirects into sessions, persists the session across restarts, keeps it fresh and notifies
// subscribers whenever it changes.
package auth

import (
	"time"
)

// User is the authenticated account as reported by the auth server.
type User struct {
	ID           string         `json:"id"`
	Aud          string         `json:"aud,omitempty"`
	Role         string         `json:"role,omitempty"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitzero"`
	UpdatedAt    time.Time      `json:"updated_at,omitzero"`
}

// Provider returns the identity provider the user last signed in with, e.g. "google".
func (u User) Provider() string {
	p, _ := u.AppMetadata["provider"].(string)
	return p
}

// Session is the credential bundle returned by the auth server.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	// ExpiresAt is the access token expiry in unix seconds.
	ExpiresAt     int64  `json:"expires_at"`
	ProviderToken string `json:"provider_token,omitempty"`
	User          User   `json:"user"`
}

func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires less than d after now.
func (s *Session) ExpiresWithin(d time.Duration, now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(d).Before(s.Expiry())
}

// Equal reports whether both sessions carry the same access token. Two nil sessions are equal.
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.AccessToken == other.AccessToken
}

// normalize fills in the expiry fields the server may leave out.
func (s *Session) normalize(now time.Time) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Unix() + s.ExpiresIn
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
}
