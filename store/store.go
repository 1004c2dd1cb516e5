// Package store holds the signed in user's session and profile and notifies subscribers when
// either changes. A Store is created explicitly and handed to whatever needs it.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond"

	"github.com/sokdak/sokdak/auth"
	"github.com/sokdak/sokdak/events"
	"github.com/sokdak/sokdak/traces"
)

var (
	ErrNoSession = errors.New("no session")
	// ErrStaleProfile is returned by FetchProfile when the session changed while the profile was
	// being fetched. The result is discarded.
	ErrStaleProfile    = errors.New("session changed during profile fetch")
	ErrProfileMismatch = errors.New("profile does not belong to the session user")
)

// Profile is the user-visible account record.
type Profile struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// ProfileFetcher loads a user's profile from the backend.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	Session        *auth.Session
	Profile        *Profile
	LoadingProfile bool
	// Generation increases whenever the signed in identity changes.
	Generation uint64
}

type ChangeKind int

const (
	SessionChanged ChangeKind = iota + 1
	ProfileChanged
	LoadingChanged
)

func (k ChangeKind) String() string {
	switch k {
	case SessionChanged:
		return "session"
	case ProfileChanged:
		return "profile"
	case LoadingChanged:
		return "loading"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot
}

type Options struct {
	// Workers bounds the number of concurrent background profile fetches.
	Workers int
	// FetchTimeout bounds a single background profile fetch.
	FetchTimeout time.Duration
}

type Store struct {
	fetcher      ProfileFetcher
	fetchTimeout time.Duration
	pool         *pond.WorkerPool
	bus          *events.Bus
	ctx          context.Context
	cancel       context.CancelFunc

	mu       sync.RWMutex
	session  *auth.Session
	profile  *Profile
	inflight int
	gen      uint64
}

func New(fetcher ProfileFetcher, opts Options) *Store {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		fetcher:      fetcher,
		fetchTimeout: opts.FetchTimeout,
		pool:         pond.New(opts.Workers, 16, pond.Context(ctx)),
		bus:          events.NewBus(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Close cancels pending profile fetches and waits for running ones to return.
func (s *Store) Close() {
	s.cancel()
	s.pool.StopAndWait()
}

// Subscribe registers cb for every change and returns a function that removes it. cb runs on the
// goroutine that made the change.
func (s *Store) Subscribe(cb func(Change)) (unsubscribe func()) {
	return events.Subscribe(s.bus, cb).Unsubscribe
}

func (s *Store) Session() *auth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// HasProfile reports whether the profile of userID is loaded.
func (s *Store) HasProfile(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile != nil && s.profile.ID == userID
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Session:        s.session,
		Profile:        s.profile,
		LoadingProfile: s.inflight > 0,
		Generation:     s.gen,
	}
}

// SetSession replaces the session and reports whether anything changed. Setting a session with
// the access token already stored is a no-op. A nil session, or one for a different user, also
// clears the profile.
func (s *Store) SetSession(session *auth.Session) bool {
	s.mu.Lock()
	if s.session.Equal(session) {
		s.mu.Unlock()
		return false
	}
	if session == nil || s.session.UserID() != session.UserID() {
		s.gen++
		s.profile = nil
	}
	s.session = session
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Debug("Session set", "user", session.UserID(), "generation", snap.Generation)
	s.emit(SessionChanged, snap)
	return true
}

// FetchProfile loads the profile of userID and stores it, provided userID is still signed in
// and the session identity did not change in the meantime. A failed fetch leaves the current
// profile as is.
func (s *Store) FetchProfile(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.session == nil || s.session.UserID() != userID {
		s.mu.Unlock()
		return ErrNoSession
	}
	gen := s.gen
	s.inflight++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(LoadingChanged, snap)

	profile, err := s.fetcher.FetchProfile(ctx, userID)

	s.mu.Lock()
	s.inflight--
	switch {
	case err != nil:
	case s.gen != gen || s.session.UserID() != userID:
		err = ErrStaleProfile
	default:
		s.profile = profile
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.emit(LoadingChanged, snap)
		return err
	}
	s.emit(ProfileChanged, snap)
	return nil
}

// FetchProfileAsync runs FetchProfile on the store's worker pool. Failures are logged.
func (s *Store) FetchProfileAsync(userID string) {
	submitted := s.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.fetchTimeout)
		defer cancel()
		err := s.FetchProfile(ctx, userID)
		switch {
		case err == nil:
		case errors.Is(err, ErrStaleProfile), errors.Is(err, ErrNoSession):
			slog.Debug("Discarded profile fetch", "user", userID, "reason", err)
		default:
			traces.RecordWarning(ctx, "Failed to fetch profile", err)
		}
	})
	if !submitted {
		slog.Warn("Profile fetch queue full, dropping fetch", "user", userID)
	}
}

func (s *Store) ClearProfile() {
	s.mu.Lock()
	if s.profile == nil {
		s.mu.Unlock()
		return
	}
	s.profile = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(ProfileChanged, snap)
}

// SetProfile replaces the profile. It is refused while nobody is signed in.
func (s *Store) SetProfile(p *Profile) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if p != nil && p.ID != s.session.UserID() {
		s.mu.Unlock()
		return ErrProfileMismatch
	}
	s.profile = p
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(ProfileChanged, snap)
	return nil
}

// UpdateNickname edits the nickname of the loaded profile. It reports false when no profile is
// loaded.
func (s *Store) UpdateNickname(nickname string) bool {
	return s.editProfile(func(p *Profile) { p.Nickname = nickname })
}

// UpdateAvatarURL points the loaded profile at a new avatar. It reports false when no profile is
// loaded.
func (s *Store) UpdateAvatarURL(url string) bool {
	return s.editProfile(func(p *Profile) { p.AvatarURL = url })
}

// editProfile applies edit to a copy of the loaded profile, leaving earlier snapshots untouched.
func (s *Store) editProfile(edit func(*Profile)) bool {
	s.mu.Lock()
	if s.profile == nil {
		s.mu.Unlock()
		return false
	}
	p := *s.profile
	edit(&p)
	s.profile = &p
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(ProfileChanged, snap)
	return true
}

func (s *Store) emit(kind ChangeKind, snap Snapshot) {
	events.Emit(s.bus, Change{Kind: kind, Snapshot: snap})
}
