package resolver

// State is the authentication state the resolver last settled on.
type State int

const (
	Uninitialized State = iota
	Resolving
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// StateChange is delivered to SubscribeState subscribers on every transition.
type StateChange struct {
	From State
	To   State
}

// AppState is the lifecycle signal reported by the operating system.
type AppState int

const (
	AppActive AppState = iota
	AppInactive
)

func (a AppState) String() string {
	if a == AppActive {
		return "active"
	}
	return "inactive"
}
