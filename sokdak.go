// Package sokdak is the client core of the sokdak app. It signs the user in with a social OAuth
// provider, keeps the session in sync with deep links and app lifecycle events, and exposes the
// signed in user's session and profile to the app shell.
package sokdak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/Xuanwo/go-locale"
	"go.opentelemetry.io/otel"

	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/auth"
	"github.com/sokdak/sokdak/common"
	"github.com/sokdak/sokdak/config"
	"github.com/sokdak/sokdak/resolver"
	"github.com/sokdak/sokdak/store"
	"github.com/sokdak/sokdak/telemetry"
	"github.com/sokdak/sokdak/traces"
)

const tracerName = "github.com/sokdak/sokdak"

var ErrEmptyNickname = errors.New("nickname must not be empty")

// AppState re-exports the lifecycle states accepted by AppStateChanged.
type AppState = resolver.AppState

const (
	AppActive   = resolver.AppActive
	AppInactive = resolver.AppInactive
)

// providerPresets are the authorization parameters the app uses per identity provider.
var providerPresets = map[string]auth.OAuthOptions{
	"google": {
		QueryParams: map[string]string{"prompt": "select_account"},
	},
	"kakao": {
		// scopes stay empty so this scope replaces kakao's defaults, which fail with KOE205
		QueryParams: map[string]string{"scope": "profile_nickname", "prompt": "login"},
	},
}

type Options struct {
	DataDir  string
	LogDir   string
	LogLevel string
	// Locale is sent as Accept-Language. Defaults to the system locale.
	Locale string
	// ConfigPath is the JSON or YAML configuration file. Ignored when Config is set.
	ConfigPath string
	Config     *config.Config
}

// Client wires the auth server client, the session store and the resolver together.
type Client struct {
	cfg      *config.Config
	auth     *auth.Client
	profiles *store.RESTProfiles
	store    *store.Store
	resolver *resolver.Resolver

	shutdownFuncs []func(context.Context) error
	closeOnce     sync.Once
}

// New creates a client and starts resolving the session persisted by a previous run.
func New(opts Options) (*Client, error) {
	if opts.Locale == "" {
		// the shell's locale is preferable; the system locale is a fallback
		if tag, err := locale.Detect(); err != nil {
			opts.Locale = app.DefaultLocale
		} else {
			opts.Locale = tag.String()
		}
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := common.Init(common.InitOptions{
		DataDir:   opts.DataDir,
		LogDir:    opts.LogDir,
		LogLevel:  logLevel,
		SentryDSN: cfg.SentryDSN,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	dataDir, _, err := common.SetupDirectories(opts.DataDir, opts.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to setup directories: %w", err)
	}
	if err := telemetry.Init(context.Background(), cfg.OTEL, telemetry.DefaultAttributes(opts.Locale)); err != nil {
		slog.Warn("Continuing without telemetry", "error", err)
	}

	httpClient := common.NewHTTPClient(cfg.HTTPTimeout, cfg.HTTPRetries)
	authClient, err := auth.NewClient(auth.Options{
		BaseURL:          cfg.SupabaseURL,
		APIKey:           cfg.AnonKey,
		Locale:           opts.Locale,
		RedirectURL:      cfg.RedirectURL,
		HTTPClient:       httpClient,
		Storage:          auth.NewFileStorage(dataDir),
		RefreshMargin:    cfg.RefreshMargin,
		AutoRefreshTick:  cfg.AutoRefreshTick,
		WatchSessionFile: cfg.WatchSessionFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	c := &Client{cfg: cfg, auth: authClient}
	c.profiles = store.NewRESTProfiles(common.NewWebClient(&common.Opts{
		BaseURL:    strings.TrimRight(cfg.SupabaseURL, "/"),
		APIKey:     cfg.AnonKey,
		Locale:     opts.Locale,
		HTTPClient: httpClient,
	}), c.accessToken)
	c.store = store.New(c.profiles, store.Options{
		Workers:      cfg.ProfileWorkers,
		FetchTimeout: cfg.HTTPTimeout,
	})
	c.resolver, err = resolver.New(resolver.Options{
		Provider:          authClient,
		Store:             c.store,
		ForegroundDelay:   cfg.ForegroundDelay,
		RedeemedCacheSize: cfg.RedeemedCacheSize,
	})
	if err != nil {
		c.store.Close()
		authClient.Close()
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.resolver.Start(ctx)
	authClient.StartAutoRefresh(ctx)
	c.addShutdownFunc(
		func(context.Context) error {
			cancel()
			c.resolver.Close()
			return nil
		},
		func(context.Context) error {
			c.store.Close()
			return nil
		},
		func(context.Context) error { return authClient.Close() },
		telemetry.Close,
	)
	slog.Info("Client started", "locale", opts.Locale, "backend", cfg.SupabaseURL)
	return c, nil
}

func (c *Client) addShutdownFunc(fns ...func(context.Context) error) {
	for _, fn := range fns {
		if fn != nil {
			c.shutdownFuncs = append(c.shutdownFuncs, fn)
		}
	}
}

// Close stops background work. The persisted session is kept for the next run.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		slog.Debug("Closing client")
		for _, shutdown := range c.shutdownFuncs {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("Failed to shutdown", "error", err)
			}
		}
	})
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	s, err := c.auth.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.AccessToken, nil
}

// Login starts signing in with provider and returns the URL to open in a browser session. The
// browser eventually redirects to the configured redirect URL, which is passed to CompleteLogin
// or HandleURL.
func (c *Client) Login(ctx context.Context, provider string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "login")
	defer span.End()
	provider = strings.ToLower(strings.TrimSpace(provider))
	opts := providerPresets[provider]
	opts.Provider = provider
	u, err := c.auth.SignInWithOAuth(ctx, opts)
	if err != nil {
		return "", traces.RecordError(ctx, fmt.Errorf("failed to start %s login: %w", provider, err))
	}
	return u, nil
}

// CompleteLogin redeems the redirect URL returned by the browser session of a login the user
// started, reporting why it failed if it did.
func (c *Client) CompleteLogin(ctx context.Context, redirectURL string) error {
	return c.resolver.Redeem(ctx, redirectURL)
}

// HandleURL passes a deep link delivered by the OS. It never fails; links without an auth payload
// are ignored.
func (c *Client) HandleURL(rawURL string) {
	c.resolver.HandleURL(rawURL)
}

// AppStateChanged reports that the app became active or inactive.
func (c *Client) AppStateChanged(state AppState) {
	c.resolver.AppStateChanged(state)
}

// Refresh re-reads the session from the auth server client.
func (c *Client) Refresh() {
	c.resolver.Refresh()
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.resolver.SignOut(ctx)
}

func (c *Client) State() resolver.State {
	return c.resolver.State()
}

func (c *Client) Session() *auth.Session {
	return c.store.Session()
}

func (c *Client) Profile() *store.Profile {
	return c.store.Profile()
}

// SubscribeState registers cb for resolver state transitions.
func (c *Client) SubscribeState(cb func(resolver.StateChange)) (unsubscribe func()) {
	return c.resolver.SubscribeState(cb)
}

// SubscribeStore registers cb for session and profile changes.
func (c *Client) SubscribeStore(cb func(store.Change)) (unsubscribe func()) {
	return c.store.Subscribe(cb)
}

// ReloadProfile fetches the signed in user's profile again.
func (c *Client) ReloadProfile(ctx context.Context) error {
	s := c.store.Session()
	if s == nil {
		return store.ErrNoSession
	}
	return c.store.FetchProfile(ctx, s.UserID())
}

// UpdateNickname saves a new nickname on the server and then in the local profile.
func (c *Client) UpdateNickname(ctx context.Context, nickname string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "update_nickname")
	defer span.End()
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrEmptyNickname
	}
	s := c.store.Session()
	if s == nil {
		return store.ErrNoSession
	}
	if err := c.profiles.UpdateNickname(ctx, s.UserID(), nickname); err != nil {
		return traces.RecordError(ctx, err)
	}
	if !c.store.UpdateNickname(nickname) {
		slog.Debug("Nickname saved before the profile was loaded", "user", s.UserID())
	}
	return nil
}

// UpdateAvatar uploads a new profile picture, saves its URL on the profile and then in the local
// profile. name is the image's file name; its extension picks the content type.
func (c *Client) UpdateAvatar(ctx context.Context, name string, image io.Reader) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "update_avatar")
	defer span.End()
	s := c.store.Session()
	if s == nil {
		return "", store.ErrNoSession
	}
	url, err := c.profiles.UpdateAvatar(ctx, s.UserID(), name, image)
	if err != nil {
		return "", traces.RecordError(ctx, err)
	}
	if !c.store.UpdateAvatarURL(url) {
		slog.Debug("Avatar saved before the profile was loaded", "user", s.UserID())
	}
	return url, nil
}
