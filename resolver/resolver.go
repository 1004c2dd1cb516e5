// Package resolver establishes and keeps the user's session in sync with the auth server. Deep
// links, app lifecycle changes, auth server notifications and explicit requests are all fed to a
// single loop goroutine, which is the only code that writes the session to the store.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sokdak/sokdak/auth"
	"github.com/sokdak/sokdak/common/reporting"
	"github.com/sokdak/sokdak/events"
	"github.com/sokdak/sokdak/redirect"
	"github.com/sokdak/sokdak/traces"
)

const (
	instrumentationName = "github.com/sokdak/sokdak/resolver"

	// DefaultForegroundDelay gives a deep link delivered on resume time to arrive before the
	// fallback poll runs.
	DefaultForegroundDelay   = 1500 * time.Millisecond
	defaultRedeemedCacheSize = 64
	triggerQueueSize         = 64
)

var (
	ErrAlreadyRedeemed = errors.New("redirect already redeemed")
	ErrNoPayload       = errors.New("URL carries no auth payload")
	ErrClosed          = errors.New("resolver closed")
)

// RedirectError is an error reported by the identity provider in the redirect URL itself.
type RedirectError struct {
	Message string
}

func (e *RedirectError) Error() string {
	return "sign in failed: " + e.Message
}

// Provider is the auth server client.
type Provider interface {
	// CurrentSession returns the persisted session, or nil if there is none.
	CurrentSession(ctx context.Context) (*auth.Session, error)
	SetSessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*auth.Session, error)
	SubscribeAuthStateChanges(cb func(auth.StateChange)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// Store holds the session and profile seen by the rest of the app.
type Store interface {
	// SetSession replaces the session, reporting whether it changed.
	SetSession(*auth.Session) bool
	Session() *auth.Session
	// FetchProfileAsync loads the profile of userID in the background.
	FetchProfileAsync(userID string)
	// HasProfile reports whether the profile of userID is loaded.
	HasProfile(userID string) bool
	ClearProfile()
}

type Options struct {
	Provider Provider
	Store    Store
	// ForegroundDelay is how long to wait after the app becomes active again before polling the
	// provider for a session. Defaults to DefaultForegroundDelay.
	ForegroundDelay time.Duration
	// RedeemedCacheSize bounds how many redeemed redirects are remembered.
	RedeemedCacheSize int
}

type Resolver struct {
	provider        Provider
	store           Store
	foregroundDelay time.Duration
	redeemed        *lru.Cache[string, redemption]
	triggers        chan trigger
	bus             *events.Bus

	tracer      trace.Tracer
	triggerCtr  metric.Int64Counter
	redeemedCtr metric.Int64Counter

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	unsub     func()

	stateMu sync.RWMutex
	state   State

	// owned by the loop goroutine
	appState  AppState
	pollTimer *time.Timer
	pollID    uint64
}

func New(opts Options) (*Resolver, error) {
	if opts.Provider == nil || opts.Store == nil {
		return nil, errors.New("resolver: provider and store are required")
	}
	if opts.ForegroundDelay <= 0 {
		opts.ForegroundDelay = DefaultForegroundDelay
	}
	if opts.RedeemedCacheSize <= 0 {
		opts.RedeemedCacheSize = defaultRedeemedCacheSize
	}
	redeemed, err := lru.New[string, redemption](opts.RedeemedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	meter := otel.Meter(instrumentationName)
	triggerCtr, err := meter.Int64Counter("resolver.triggers",
		metric.WithDescription("Triggers handled by the session resolver"))
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	redeemedCtr, err := meter.Int64Counter("resolver.redemptions",
		metric.WithDescription("Redirect redemptions by payload kind and result"))
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		provider:        opts.Provider,
		store:           opts.Store,
		foregroundDelay: opts.ForegroundDelay,
		redeemed:        redeemed,
		triggers:        make(chan trigger, triggerQueueSize),
		bus:             events.NewBus(),
		tracer:          otel.Tracer(instrumentationName),
		triggerCtr:      triggerCtr,
		redeemedCtr:     redeemedCtr,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		appState:        AppActive,
	}, nil
}

// Start subscribes to the provider and starts the loop with a cold start lookup of the persisted
// session. The loop runs until ctx is done or Close is called.
func (r *Resolver) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		context.AfterFunc(ctx, r.cancel)
		r.unsub = r.provider.SubscribeAuthStateChanges(r.onAuthChange)
		r.enqueueAsync(trigger{kind: coldStart})
		go r.loop()
	})
}

// Close stops the loop and waits for the trigger being handled, if any, to finish.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		// a Start after Close does nothing
		r.startOnce.Do(func() {})
		if r.started.Load() {
			<-r.done
		}
		if r.unsub != nil {
			r.unsub()
		}
	})
}

// State returns the current state.
func (r *Resolver) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// SubscribeState registers cb for every state transition. cb runs on the loop goroutine and must
// not block or call back into the resolver synchronously.
func (r *Resolver) SubscribeState(cb func(StateChange)) (unsubscribe func()) {
	return events.Subscribe(r.bus, cb).Unsubscribe
}

// HandleURL queues a deep link for redemption. Failures are logged, not returned.
func (r *Resolver) HandleURL(rawURL string) {
	r.enqueue(trigger{kind: deepLink, url: rawURL})
}

// AppStateChanged reports an app lifecycle transition.
func (r *Resolver) AppStateChanged(state AppState) {
	r.enqueue(trigger{kind: appStateChanged, appState: state})
}

// Refresh asks the provider for the current session again.
func (r *Resolver) Refresh() {
	r.enqueue(trigger{kind: refreshRequested})
}

// Redeem redeems the redirect URL from a sign in the user started and returns the outcome:
// ErrNoPayload if the URL carries nothing, a *RedirectError if the identity provider reported a
// failure, or the provider's error. A URL redeemed before returns that earlier outcome, which is
// nil while its user is still signed in and ErrAlreadyRedeemed once they are not.
func (r *Resolver) Redeem(ctx context.Context, rawURL string) error {
	return r.request(ctx, trigger{kind: redeemRequested, url: rawURL})
}

// SignOut signs out with the provider. The local session is cleared even if the provider call
// fails; that error is still returned.
func (r *Resolver) SignOut(ctx context.Context) error {
	return r.request(ctx, trigger{kind: signOutRequested})
}

func (r *Resolver) request(ctx context.Context, t trigger) error {
	t.ctx = ctx
	t.reply = make(chan error, 1)
	if !r.enqueue(t) {
		return ErrClosed
	}
	select {
	case err := <-t.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Resolver) enqueue(t trigger) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.triggers <- t:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// enqueueAsync never blocks. Provider notifications may be emitted from inside a provider call
// made by the loop itself, which would deadlock on a full queue.
func (r *Resolver) enqueueAsync(t trigger) {
	select {
	case r.triggers <- t:
	default:
		go r.enqueue(t)
	}
}

func (r *Resolver) onAuthChange(c auth.StateChange) {
	r.enqueueAsync(trigger{kind: authChanged, change: c})
}

func (r *Resolver) loop() {
	defer close(r.done)
	defer r.stopPoll()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.triggers:
			r.handle(t)
		}
	}
}

func (r *Resolver) handle(t trigger) {
	ctx := r.ctx
	if t.ctx != nil {
		ctx = t.ctx
	}
	ctx, span := r.tracer.Start(ctx, "resolver."+t.kind.String())
	defer span.End()
	r.triggerCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", t.kind.String())))

	var err error
	defer func() {
		if p := recover(); p != nil {
			reporting.CapturePanic(p, "resolver."+t.kind.String())
			err = fmt.Errorf("panic handling %s: %v", t.kind, p)
			r.settle()
		}
		if t.reply != nil {
			t.reply <- err
		}
	}()

	switch t.kind {
	case coldStart, refreshRequested:
		r.lookup(ctx, false)
	case foregroundPoll:
		if t.pollID != r.pollID || r.pollTimer == nil {
			slog.Debug("Ignoring cancelled foreground poll")
			return
		}
		r.pollTimer = nil
		r.lookup(ctx, true)
	case deepLink:
		payload, ok := redirect.Parse(t.url)
		if !ok {
			slog.Debug("Ignoring deep link without auth payload")
			return
		}
		// the link the foreground poll was waiting for
		r.stopPoll()
		if err := r.redeem(ctx, payload); err != nil && !errors.Is(err, ErrAlreadyRedeemed) {
			traces.RecordWarning(ctx, "Failed to redeem deep link", err)
		}
	case redeemRequested:
		payload, ok := redirect.Parse(t.url)
		if !ok {
			err = ErrNoPayload
			return
		}
		r.stopPoll()
		err = r.redeem(ctx, payload)
	case appStateChanged:
		r.appStateChanged(t.appState)
	case authChanged:
		r.authChanged(ctx, t.change)
	case signOutRequested:
		err = r.signOut(ctx)
	}
}

// lookup asks the provider for its current session. A poll never signs the user out: a missing
// session while authenticated is more likely a provider hiccup than a sign out, which the
// provider announces separately.
func (r *Resolver) lookup(ctx context.Context, poll bool) {
	r.setState(Resolving)
	defer r.settle()
	s, err := r.provider.CurrentSession(ctx)
	if err != nil {
		traces.RecordWarning(ctx, "Failed to look up session", err)
		return
	}
	if s == nil && poll && r.store.Session() != nil {
		slog.Debug("Poll found no session, keeping the current one")
		return
	}
	r.commit(s)
}

// redemption is the outcome of redeeming a redirect: the error it failed with, or the user it
// signed in.
type redemption struct {
	err    error
	userID string
}

func (r *Resolver) redeem(ctx context.Context, p redirect.Payload) error {
	if p.Kind == redirect.KindError {
		r.countRedemption(ctx, p, "provider_error")
		return traces.RecordError(ctx, &RedirectError{Message: p.Message})
	}

	key := p.Key()
	if prev, ok := r.redeemed.Get(key); ok {
		slog.Debug("Redirect already redeemed", "payload", p)
		r.countRedemption(ctx, p, "duplicate")
		return r.redeemedBefore(prev)
	}
	// marked before the call so an artifact is never sent to the provider twice
	r.redeemed.Add(key, redemption{err: ErrAlreadyRedeemed})

	slog.Info("Redeeming redirect", "payload", p)
	r.setState(Resolving)
	defer r.settle()
	var (
		s   *auth.Session
		err error
	)
	switch p.Kind {
	case redirect.KindTokenPair:
		s, err = r.provider.SetSessionFromTokens(ctx, p.AccessToken, p.RefreshToken)
	case redirect.KindCode:
		s, err = r.provider.ExchangeCodeForSession(ctx, p.Code)
	}
	if err == nil && s == nil {
		err = auth.ErrNoSession
	}
	if err != nil {
		r.countRedemption(ctx, p, "failed")
		err = fmt.Errorf("redeeming %s: %w", p.Kind, err)
		r.redeemed.Add(key, redemption{err: err})
		return traces.RecordError(ctx, err)
	}
	r.countRedemption(ctx, p, "ok")
	r.redeemed.Add(key, redemption{userID: s.UserID()})
	r.commit(s)
	return nil
}

// redeemedBefore reports the outcome of a redirect that arrives again, typically once as a deep
// link and once from the browser session that started the login. A success still counts while
// the user it signed in is signed in.
func (r *Resolver) redeemedBefore(prev redemption) error {
	if prev.err != nil {
		return prev.err
	}
	if current := r.store.Session(); current != nil && current.UserID() == prev.userID {
		return nil
	}
	return ErrAlreadyRedeemed
}

func (r *Resolver) countRedemption(ctx context.Context, p redirect.Payload, result string) {
	r.redeemedCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", p.Kind.String()),
		attribute.String("result", result),
	))
}

func (r *Resolver) authChanged(ctx context.Context, c auth.StateChange) {
	current := r.store.Session()
	switch {
	case c.Event == auth.SignedOut:
		if current == nil && r.State() == Unauthenticated {
			return
		}
	case c.Session == nil || current.Equal(c.Session):
		// echo of a session we committed ourselves
		return
	}
	slog.Debug("Provider auth state changed", "event", c.Event)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.event", string(c.Event)))
	r.setState(Resolving)
	defer r.settle()
	r.commit(c.Session)
}

func (r *Resolver) signOut(ctx context.Context) error {
	r.stopPoll()
	err := r.provider.SignOut(ctx)
	if err != nil {
		traces.RecordError(ctx, err)
	}
	r.commit(nil)
	r.settle()
	return err
}

func (r *Resolver) appStateChanged(state AppState) {
	prev := r.appState
	r.appState = state
	switch {
	case state == AppInactive:
		r.stopPoll()
	case prev == AppInactive:
		r.schedulePoll()
	}
}

// schedulePoll queues a foreground poll after the foreground delay, replacing any pending one.
func (r *Resolver) schedulePoll() {
	r.stopPoll()
	id := r.pollID
	r.pollTimer = time.AfterFunc(r.foregroundDelay, func() {
		r.enqueueAsync(trigger{kind: foregroundPoll, pollID: id})
	})
	slog.Debug("Scheduled foreground poll", "delay", r.foregroundDelay)
}

// stopPoll cancels a pending foreground poll, including one already queued.
func (r *Resolver) stopPoll() {
	if r.pollTimer != nil {
		r.pollTimer.Stop()
		r.pollTimer = nil
	}
	r.pollID++
}

// commit writes s to the store and starts loading the profile when the user changed or has no
// profile yet. A refreshed token for the same user keeps the loaded profile. A nil session also
// clears the profile.
func (r *Resolver) commit(s *auth.Session) {
	if s == nil {
		r.store.SetSession(nil)
		r.store.ClearProfile()
		return
	}
	prev := r.store.Session()
	if !r.store.SetSession(s) {
		return
	}
	if prev.UserID() != s.UserID() || !r.store.HasProfile(s.UserID()) {
		r.store.FetchProfileAsync(s.UserID())
	}
}

// settle leaves Resolving for the state the store's session implies.
func (r *Resolver) settle() {
	if r.store.Session() != nil {
		r.setState(Authenticated)
	} else {
		r.setState(Unauthenticated)
	}
}

func (r *Resolver) setState(s State) {
	r.stateMu.Lock()
	prev := r.state
	r.state = s
	r.stateMu.Unlock()
	if prev == s {
		return
	}
	slog.Debug("Session state changed", "from", prev, "to", s)
	events.Emit(r.bus, StateChange{From: prev, To: s})
}
