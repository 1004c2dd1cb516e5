package resolver

import (
	"context"

	"github.com/sokdak/sokdak/auth"
)

type triggerKind int

const (
	coldStart triggerKind = iota
	deepLink
	appStateChanged
	foregroundPoll
	authChanged
	refreshRequested
	redeemRequested
	signOutRequested
)

func (k triggerKind) String() string {
	switch k {
	case coldStart:
		return "cold_start"
	case deepLink:
		return "deep_link"
	case appStateChanged:
		return "app_state"
	case foregroundPoll:
		return "foreground_poll"
	case authChanged:
		return "auth_changed"
	case refreshRequested:
		return "refresh"
	case redeemRequested:
		return "redeem"
	case signOutRequested:
		return "sign_out"
	default:
		return "unknown"
	}
}

// trigger is a message for the resolver loop. Only the fields relevant to kind are set.
type trigger struct {
	kind     triggerKind
	url      string
	appState AppState
	change   auth.StateChange
	pollID   uint64

	// set for user-initiated triggers, which report their outcome
	ctx   context.Context
	reply chan error
}
