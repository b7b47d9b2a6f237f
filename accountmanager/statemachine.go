package accountmanager

import "github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"

// EventKind enumerates the tagged Event variants from spec.md §3.
type EventKind int

const (
	EventInitialize EventKind = iota
	EventAccountNotFound
	EventAccountRestored
	EventAuthenticated
	EventAuthenticationError
	EventRecoveredFromAuthenticationProblem
	EventFetchProfile
	EventFetchedProfile
	EventFailedToFetchProfile
	EventLogout
)

func (k EventKind) String() string {
	names := [...]string{
		"initialize", "accountNotFound", "accountRestored", "authenticated",
		"authenticationError", "recoveredFromAuthenticationProblem",
		"fetchProfile", "fetchedProfile", "failedToFetchProfile", "logout",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}

// Event is the tagged variant driving the state machine. AuthData is only
// populated for EventAuthenticated.
type Event struct {
	Kind     EventKind
	AuthData *fxaclient.AuthData
}

func evInitialize() Event                       { return Event{Kind: EventInitialize} }
func evAccountNotFound() Event                   { return Event{Kind: EventAccountNotFound} }
func evAccountRestored() Event                   { return Event{Kind: EventAccountRestored} }
func evAuthenticated(data fxaclient.AuthData) Event {
	return Event{Kind: EventAuthenticated, AuthData: &data}
}
func evAuthenticationError() Event                  { return Event{Kind: EventAuthenticationError} }
func evRecoveredFromAuthProblem() Event             { return Event{Kind: EventRecoveredFromAuthenticationProblem} }
func evFetchProfile() Event                         { return Event{Kind: EventFetchProfile} }
func evFetchedProfile() Event                       { return Event{Kind: EventFetchedProfile} }
func evFailedToFetchProfile() Event                 { return Event{Kind: EventFailedToFetchProfile} }
func evLogout() Event                               { return Event{Kind: EventLogout} }

// next is the pure transition function from spec.md §4.1. It returns
// (state, false) for unlisted (state, event) pairs — callers must log and
// leave the current state unchanged.
func next(state AccountState, event EventKind) (AccountState, bool) {
	switch state {
	case StateStart:
		switch event {
		case EventInitialize:
			return StateStart, true
		case EventAccountNotFound:
			return StateNotAuthenticated, true
		case EventAccountRestored:
			return StateAuthenticatedNoProfile, true
		}
	case StateNotAuthenticated:
		switch event {
		case EventAuthenticated:
			return StateAuthenticatedNoProfile, true
		}
	case StateAuthenticatedNoProfile:
		switch event {
		case EventAuthenticationError:
			return StateAuthenticationProblem, true
		case EventFetchProfile:
			return StateAuthenticatedNoProfile, true
		case EventFetchedProfile:
			return StateAuthenticatedWithProfile, true
		case EventFailedToFetchProfile:
			return StateAuthenticatedNoProfile, true
		case EventLogout:
			return StateNotAuthenticated, true
		}
	case StateAuthenticatedWithProfile:
		switch event {
		case EventAuthenticationError:
			return StateAuthenticationProblem, true
		case EventLogout:
			return StateNotAuthenticated, true
		}
	case StateAuthenticationProblem:
		switch event {
		case EventAuthenticated:
			return StateAuthenticatedNoProfile, true
		case EventRecoveredFromAuthenticationProblem:
			return StateAuthenticatedNoProfile, true
		case EventLogout:
			return StateNotAuthenticated, true
		}
	}
	return state, false
}
