package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/sokdak/sokdak/common"
	"github.com/sokdak/sokdak/events"
	"github.com/sokdak/sokdak/internal"
	"github.com/sokdak/sokdak/traces"
)

const (
	tracerName = "github.com/sokdak/sokdak/auth"

	tokenPath     = "/auth/v1/token"
	userPath      = "/auth/v1/user"
	logoutPath    = "/auth/v1/logout"
	authorizePath = "/auth/v1/authorize"

	defaultRefreshMargin   = 90 * time.Second
	defaultAutoRefreshTick = 30 * time.Second
)

type Options struct {
	// BaseURL is the project URL, e.g. https://<ref>.supabase.co
	BaseURL string
	// APIKey is the project's anon key.
	APIKey string
	Locale string
	// RedirectURL is the default deep link the provider redirects to after sign in.
	RedirectURL string
	HTTPClient  *http.Client
	Storage     Storage
	// RefreshMargin is how long before expiry a session is refreshed.
	RefreshMargin   time.Duration
	AutoRefreshTick time.Duration
	// WatchSessionFile reloads the session when another process rewrites the session file. It
	// only applies to FileStorage.
	WatchSessionFile bool
}

// Client talks to the auth server and owns the current session.
type Client struct {
	baseURL     string
	redirectURL string
	wc          *common.WebClient
	storage     Storage
	bus         *events.Bus
	tracer      trace.Tracer

	refreshMargin   time.Duration
	autoRefreshTick time.Duration
	refreshGroup    singleflight.Group
	now             func() time.Time

	mu      sync.Mutex
	session *Session
	loaded  bool

	watcher *internal.FileWatcher
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("auth: base URL is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("auth: storage is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	c := &Client{
		baseURL:     baseURL,
		redirectURL: opts.RedirectURL,
		wc: common.NewWebClient(&common.Opts{
			BaseURL:    baseURL,
			APIKey:     opts.APIKey,
			Locale:     opts.Locale,
			HTTPClient: opts.HTTPClient,
		}),
		storage:         opts.Storage,
		bus:             events.NewBus(),
		tracer:          otel.Tracer(tracerName),
		refreshMargin:   opts.RefreshMargin,
		autoRefreshTick: opts.AutoRefreshTick,
		now:             time.Now,
	}
	if c.refreshMargin <= 0 {
		c.refreshMargin = defaultRefreshMargin
	}
	if c.autoRefreshTick <= 0 {
		c.autoRefreshTick = defaultAutoRefreshTick
	}
	if fs, ok := opts.Storage.(*FileStorage); ok && opts.WatchSessionFile {
		c.watcher = internal.NewFileWatcher(fs.SessionPath(), c.reloadSession)
		if err := c.watcher.Start(); err != nil {
			slog.Warn("Not watching session file", "error", err)
			c.watcher = nil
		}
	}
	return c, nil
}

// Close stops watching the session file.
func (c *Client) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// SubscribeAuthStateChanges registers cb for every session change and returns a function that
// removes it. cb runs on the goroutine that caused the change and must not block.
func (c *Client) SubscribeAuthStateChanges(cb func(StateChange)) (unsubscribe func()) {
	sub := events.Subscribe(c.bus, cb)
	return sub.Unsubscribe
}

// CurrentSession returns the persisted session, refreshing it first if it expires within the
// refresh margin. It returns nil without error when nobody is signed in.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	s, err := c.stored()
	if err != nil || s == nil {
		return nil, err
	}
	now := c.now()
	if !s.ExpiresWithin(c.refreshMargin, now) {
		return s, nil
	}
	refreshed, err := c.refresh(ctx, s.RefreshToken, s)
	if err == nil {
		return refreshed, nil
	}
	if errors.Is(err, ErrSessionChanged) {
		return c.stored()
	}
	if isFatalRefreshError(err) {
		slog.Info("Refresh token rejected, signing out locally", "error", err)
		c.removeSession(s)
		return nil, err
	}
	if !s.ExpiresWithin(0, now) {
		// still usable, try again later
		traces.RecordWarning(ctx, "Failed to refresh session early", err)
		return s, nil
	}
	return nil, err
}

// SetSessionFromTokens establishes a session from an access and refresh token pair delivered by
// an implicit grant redirect. An expired access token is refreshed; otherwise the server is asked
// for the user the token belongs to.
func (c *Client) SetSessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "auth.SetSessionFromTokens")
	defer span.End()

	if accessToken == "" || refreshToken == "" {
		return nil, traces.RecordError(ctx, fmt.Errorf("%w: access and refresh token are required", ErrInvalidToken))
	}
	claims, err := decodeAccessToken(accessToken)
	if err != nil {
		return nil, traces.RecordError(ctx, err)
	}
	now := c.now()
	if !claims.ExpiresAt.After(now) {
		slog.Debug("Access token already expired, refreshing", "sub", claims.Subject)
		s, err := c.refresh(ctx, refreshToken, nil)
		if err != nil {
			return nil, traces.RecordError(ctx, err)
		}
		return s, nil
	}

	var user User
	req := c.wc.NewRequest(ctx).SetAuthToken(accessToken)
	if err := c.wc.Send(ctx, http.MethodGet, userPath, req, &user); err != nil {
		return nil, traces.RecordError(ctx, fmt.Errorf("fetching user: %w", err))
	}
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    claims.ExpiresAt.Unix(),
		ExpiresIn:    int64(claims.ExpiresAt.Sub(now).Seconds()),
		User:         user,
	}
	span.SetAttributes(attribute.String("user.id", s.UserID()))
	c.commit(ctx, s, SignedIn)
	return s, nil
}

type pkceGrant struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

// ExchangeCodeForSession redeems an authorization code using the PKCE verifier stored by
// SignInWithOAuth. The verifier is discarded before the exchange so a code is never redeemed
// twice from this device.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "auth.ExchangeCodeForSession")
	defer span.End()

	verifier, err := c.storage.LoadVerifier()
	if err != nil {
		return nil, traces.RecordError(ctx, err)
	}
	if verifier == "" {
		return nil, traces.RecordError(ctx, ErrMissingCodeVerifier)
	}
	if err := c.storage.DeleteVerifier(); err != nil {
		slog.Warn("Failed to delete code verifier", "error", err)
	}

	var s Session
	req := c.wc.NewRequest(ctx).
		SetQueryParam("grant_type", "pkce").
		SetBody(pkceGrant{AuthCode: code, CodeVerifier: verifier})
	if err := c.wc.Send(ctx, http.MethodPost, tokenPath, req, &s); err != nil {
		return nil, traces.RecordError(ctx, fmt.Errorf("exchanging code: %w", err))
	}
	if s.AccessToken == "" {
		return nil, traces.RecordError(ctx, fmt.Errorf("%w: empty token response", ErrInvalidToken))
	}
	s.normalize(c.now())
	span.SetAttributes(attribute.String("user.id", s.UserID()))
	c.commit(ctx, &s, SignedIn)
	return &s, nil
}

// SignOut revokes the session on the server and removes it locally. The local session is removed
// even when the server call fails; that error is still returned.
func (c *Client) SignOut(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "auth.SignOut")
	defer span.End()

	s, err := c.stored()
	if err != nil {
		slog.Warn("Failed to load session for sign out", "error", err)
	}
	var remoteErr error
	if s != nil {
		req := c.wc.NewRequest(ctx).SetAuthToken(s.AccessToken)
		err := c.wc.Send(ctx, http.MethodPost, logoutPath, req, nil)
		// the session is already gone on the server
		if err != nil && !common.IsStatus(err, http.StatusUnauthorized, http.StatusNotFound) {
			remoteErr = traces.RecordError(ctx, fmt.Errorf("signing out: %w", err))
		}
	}
	c.removeSession(nil)
	return remoteErr
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh trades refreshToken for a new session. Concurrent refreshes of the same token share one
// request, since the server rotates refresh tokens and a second use would be rejected. When from
// is not nil the result only replaces that session; if it was signed out or replaced in the
// meantime the result is dropped and ErrSessionChanged returned.
func (c *Client) refresh(ctx context.Context, refreshToken string, from *Session) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrNoSession
	}
	v, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		ctx, span := c.tracer.Start(ctx, "auth.refresh")
		defer span.End()
		var s Session
		req := c.wc.NewRequest(ctx).
			SetQueryParam("grant_type", "refresh_token").
			SetBody(refreshGrant{RefreshToken: refreshToken})
		if err := c.wc.Send(ctx, http.MethodPost, tokenPath, req, &s); err != nil {
			return nil, traces.RecordError(ctx, fmt.Errorf("refreshing session: %w", err))
		}
		if s.AccessToken == "" {
			return nil, fmt.Errorf("%w: empty token response", ErrInvalidToken)
		}
		s.normalize(c.now())
		if !c.replace(ctx, from, &s, TokenRefreshed) {
			return nil, ErrSessionChanged
		}
		return &s, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("Shared in-flight session refresh")
	}
	return v.(*Session), nil
}

// stored returns the in-memory session, loading it from storage on first use.
func (c *Client) stored() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.session, nil
	}
	s, err := c.storage.LoadSession()
	if err != nil {
		return nil, err
	}
	c.session = s
	c.loaded = true
	return s, nil
}

// commit makes s the current session, persists it and notifies subscribers.
func (c *Client) commit(ctx context.Context, s *Session, evt Event) {
	c.replace(ctx, nil, s, evt)
}

// replace commits s unless expected is not nil and is no longer the current session. It reports
// whether s was committed.
func (c *Client) replace(ctx context.Context, expected, s *Session, evt Event) bool {
	c.mu.Lock()
	if expected != nil && !c.session.Equal(expected) {
		c.mu.Unlock()
		slog.Debug("Session changed meanwhile, dropping result", "event", evt, "user", s.UserID())
		return false
	}
	c.session = s
	c.loaded = true
	// written under the lock so the file always matches the in-memory session
	err := c.storage.SaveSession(s)
	c.mu.Unlock()
	if err != nil {
		traces.RecordWarning(ctx, "Failed to persist session", err)
	}
	slog.Debug("Session changed", "event", evt, "user", s.UserID(), "expiresAt", s.Expiry())
	events.Emit(c.bus, StateChange{Event: evt, Session: s})
	return true
}

// removeSession clears the current session and notifies subscribers. If expected is not nil the
// session is only removed if it is still the current one.
func (c *Client) removeSession(expected *Session) {
	c.mu.Lock()
	if expected != nil && !c.session.Equal(expected) {
		c.mu.Unlock()
		return
	}
	had := c.session != nil
	c.session = nil
	c.loaded = true
	err := c.storage.DeleteSession()
	c.mu.Unlock()
	if err != nil {
		slog.Warn("Failed to delete persisted session", "error", err)
	}
	if had {
		slog.Debug("Session removed")
	}
	events.Emit(c.bus, StateChange{Event: SignedOut})
}

// reloadSession picks up a session file rewritten by another process.
func (c *Client) reloadSession() {
	s, err := c.storage.LoadSession()
	if err != nil {
		slog.Warn("Failed to reload session file", "error", err)
		return
	}
	c.mu.Lock()
	if c.loaded && c.session.Equal(s) {
		c.mu.Unlock()
		return
	}
	c.session = s
	c.loaded = true
	c.mu.Unlock()

	if s == nil {
		slog.Info("Session file removed externally")
		events.Emit(c.bus, StateChange{Event: SignedOut})
		return
	}
	slog.Info("Session file changed externally", "user", s.UserID())
	events.Emit(c.bus, StateChange{Event: TokenRefreshed, Session: s})
}
