package resolver

import (
	"context"
	"sync"

	"github.com/sokdak/sokdak/auth"
)

// fakeProvider is an in-memory auth server client. Like the real one, it notifies subscribers
// synchronously from inside the calls that change the session.
type fakeProvider struct {
	mu          sync.Mutex
	current     *auth.Session
	currentErr  error
	exchangeErr error
	setErr      error
	signOutErr  error
	panicOnSet  bool
	subscribers map[int]func(auth.StateChange)
	nextSub     int

	currentCalls  int
	setCalls      [][2]string
	exchangeCalls []string
	signOutCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subscribers: map[int]func(auth.StateChange){}}
}

func (p *fakeProvider) CurrentSession(context.Context) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentCalls++
	return p.current, p.currentErr
}

func (p *fakeProvider) SetSessionFromTokens(_ context.Context, access, refresh string) (*auth.Session, error) {
	p.mu.Lock()
	p.setCalls = append(p.setCalls, [2]string{access, refresh})
	if p.panicOnSet {
		p.mu.Unlock()
		panic("provider exploded")
	}
	if p.setErr != nil {
		err := p.setErr
		p.mu.Unlock()
		return nil, err
	}
	s := &auth.Session{AccessToken: access, RefreshToken: refresh, User: auth.User{ID: "user-" + access}}
	p.current = s
	p.mu.Unlock()
	p.emit(auth.StateChange{Event: auth.SignedIn, Session: s})
	return s, nil
}

func (p *fakeProvider) ExchangeCodeForSession(_ context.Context, code string) (*auth.Session, error) {
	p.mu.Lock()
	p.exchangeCalls = append(p.exchangeCalls, code)
	if p.exchangeErr != nil {
		err := p.exchangeErr
		p.mu.Unlock()
		return nil, err
	}
	s := &auth.Session{AccessToken: "from-" + code, RefreshToken: "r", User: auth.User{ID: "user-" + code}}
	p.current = s
	p.mu.Unlock()
	p.emit(auth.StateChange{Event: auth.SignedIn, Session: s})
	return s, nil
}

func (p *fakeProvider) SubscribeAuthStateChanges(cb func(auth.StateChange)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	p.current = nil
	err := p.signOutErr
	p.mu.Unlock()
	p.emit(auth.StateChange{Event: auth.SignedOut})
	return err
}

func (p *fakeProvider) emit(c auth.StateChange) {
	p.mu.Lock()
	subs := make([]func(auth.StateChange), 0, len(p.subscribers))
	for _, cb := range p.subscribers {
		subs = append(subs, cb)
	}
	p.mu.Unlock()
	for _, cb := range subs {
		cb(c)
	}
}

func (p *fakeProvider) setCurrent(s *auth.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
}

func (p *fakeProvider) counts() (current, set, exchange, signOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCalls, len(p.setCalls), len(p.exchangeCalls), p.signOutCalls
}

func (p *fakeProvider) subscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

// fakeStore records what the resolver does to the store.
type fakeStore struct {
	mu      sync.Mutex
	session *auth.Session
	sets    int
	fetches []string
	clears  int
	// profileOf is the user whose profile counts as loaded
	profileOf string
}

func (s *fakeStore) SetSession(session *auth.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Equal(session) {
		return false
	}
	s.session = session
	s.sets++
	return true
}

func (s *fakeStore) Session() *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *fakeStore) FetchProfileAsync(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, userID)
}

func (s *fakeStore) HasProfile(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileOf != "" && s.profileOf == userID
}

func (s *fakeStore) ClearProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.profileOf = ""
}

func (s *fakeStore) loadProfile(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileOf = userID
}

func (s *fakeStore) stats() (sets int, fetches []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets, append([]string(nil), s.fetches...)
}
