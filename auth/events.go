package auth

// Event names a change of the session, using the auth server's vocabulary.
type Event string

const (
	SignedIn       Event = "SIGNED_IN"
	SignedOut      Event = "SIGNED_OUT"
	TokenRefreshed Event = "TOKEN_REFRESHED"
	UserUpdated    Event = "USER_UPDATED"
)

// StateChange is delivered to subscribers of SubscribeAuthStateChanges. Session is nil for
// SignedOut.
type StateChange struct {
	Event   Event
	Session *Session
}
