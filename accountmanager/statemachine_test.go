package accountmanager

import "testing"

func TestNextTransitionTable(t *testing.T) {
	cases := []struct {
		from_ AccountState
		event EventKind
		want  AccountState
		ok    bool
	}{
		{from_: StateStart, event: EventInitialize, want: StateStart, ok: true},
		{from_: StateStart, event: EventAccountNotFound, want: StateNotAuthenticated, ok: true},
		{from_: StateStart, event: EventAccountRestored, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateStart, event: EventAuthenticated, want: StateStart, ok: false},

		{from_: StateNotAuthenticated, event: EventAuthenticated, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateNotAuthenticated, event: EventLogout, want: StateNotAuthenticated, ok: false},

		{from_: StateAuthenticatedNoProfile, event: EventAuthenticationError, want: StateAuthenticationProblem, ok: true},
		{from_: StateAuthenticatedNoProfile, event: EventFetchProfile, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateAuthenticatedNoProfile, event: EventFetchedProfile, want: StateAuthenticatedWithProfile, ok: true},
		{from_: StateAuthenticatedNoProfile, event: EventFailedToFetchProfile, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateAuthenticatedNoProfile, event: EventLogout, want: StateNotAuthenticated, ok: true},
		{from_: StateAuthenticatedNoProfile, event: EventAccountNotFound, want: StateAuthenticatedNoProfile, ok: false},

		{from_: StateAuthenticatedWithProfile, event: EventAuthenticationError, want: StateAuthenticationProblem, ok: true},
		{from_: StateAuthenticatedWithProfile, event: EventLogout, want: StateNotAuthenticated, ok: true},
		{from_: StateAuthenticatedWithProfile, event: EventFetchProfile, want: StateAuthenticatedWithProfile, ok: false},

		{from_: StateAuthenticationProblem, event: EventAuthenticated, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateAuthenticationProblem, event: EventRecoveredFromAuthenticationProblem, want: StateAuthenticatedNoProfile, ok: true},
		{from_: StateAuthenticationProblem, event: EventLogout, want: StateNotAuthenticated, ok: true},
		{from_: StateAuthenticationProblem, event: EventFetchProfile, want: StateAuthenticationProblem, ok: false},
	}

	for _, c := range cases {
		got, ok := next(c.from_, c.event)
		if ok != c.ok {
			t.Errorf("next(%s, %s): ok = %v, want %v", c.from_, c.event, ok, c.ok)
			continue
		}
		if ok && got != c.want {
			t.Errorf("next(%s, %s) = %s, want %s", c.from_, c.event, got, c.want)
		}
	}
}

func TestAccountStateInvariants(t *testing.T) {
	if !StateAuthenticatedNoProfile.HasAccount() || !StateAuthenticatedWithProfile.HasAccount() || !StateAuthenticationProblem.HasAccount() {
		t.Fatal("expected all three authenticated-ish states to report hasAccount()")
	}
	if StateStart.HasAccount() || StateNotAuthenticated.HasAccount() {
		t.Fatal("start/notAuthenticated must not report hasAccount()")
	}
	if !StateAuthenticationProblem.NeedsReauth() {
		t.Fatal("authenticationProblem must report accountNeedsReauth()")
	}
	for _, s := range []AccountState{StateStart, StateNotAuthenticated, StateAuthenticatedNoProfile, StateAuthenticatedWithProfile} {
		if s.NeedsReauth() {
			t.Fatalf("%s must not report accountNeedsReauth()", s)
		}
	}
}
