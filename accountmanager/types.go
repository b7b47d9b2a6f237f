package accountmanager

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
)

// AccountState is the finite set of states from spec.md §3.
type AccountState int

const (
	StateStart AccountState = iota
	StateNotAuthenticated
	StateAuthenticatedNoProfile
	StateAuthenticatedWithProfile
	StateAuthenticationProblem
)

func (s AccountState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateNotAuthenticated:
		return "notAuthenticated"
	case StateAuthenticatedNoProfile:
		return "authenticatedNoProfile"
	case StateAuthenticatedWithProfile:
		return "authenticatedWithProfile"
	case StateAuthenticationProblem:
		return "authenticationProblem"
	default:
		return "unknown"
	}
}

// HasAccount reports spec.md §3's hasAccount() invariant.
func (s AccountState) HasAccount() bool {
	switch s {
	case StateAuthenticatedNoProfile, StateAuthenticatedWithProfile, StateAuthenticationProblem:
		return true
	default:
		return false
	}
}

// NeedsReauth reports spec.md §3's accountNeedsReauth() invariant.
func (s AccountState) NeedsReauth() bool {
	return s == StateAuthenticationProblem
}

// DeviceConfig is supplied once at Manager construction; it drives
// device initialization and capability-ensuring. PreferredLanguage is a
// supplemental field (SPEC_FULL.md §D) validated against BCP 47.
type DeviceConfig struct {
	Name               string
	Type               fxaclient.DeviceType
	Capabilities       []fxaclient.Capability
	PreferredLanguage  string
}

// HasCapability reports whether cap is present in the configured set.
func (c DeviceConfig) HasCapability(cap fxaclient.Capability) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// Validate checks the config is well-formed. Called once at construction.
func (c DeviceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("accountmanager: device config requires a name")
	}
	if c.PreferredLanguage != "" {
		if _, err := language.Parse(c.PreferredLanguage); err != nil {
			return fmt.Errorf("accountmanager: invalid preferred language %q: %w", c.PreferredLanguage, err)
		}
	}
	return nil
}

// AccountObserver receives account-lifecycle notifications. All methods
// are invoked on the manager's UI-facing dispatch context, never on the
// gate. Implementations are held in a single observerSlot, by an ordinary
// (not weak) reference — see observer.go.
type AccountObserver interface {
	OnLoggedOut()
	OnAuthenticationProblems()
	OnAuthenticated(authType fxaclient.AuthType)
	OnProfileUpdated(profile fxaclient.Profile)
}

// DeviceEventsObserver receives batches of incoming device events.
type DeviceEventsObserver interface {
	OnEvents(events []fxaclient.DeviceEvent)
}
