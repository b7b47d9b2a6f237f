// Package accountmanager is the client-side coordinator that drives a
// user account through authentication, session recovery, profile
// retrieval, and device-messaging lifecycle on top of a lower-level
// account library (fxaclient.Handle) that performs the actual
// cryptographic and network work. See spec.md and SPEC_FULL.md.
package accountmanager

import (
	"context"
	"log"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/secretstore"

	"sync"
)

// Manager is the public surface of the account manager core. It owns
// the account handle, the cached profile, the latest auth-flow state,
// and the device constellation, and serializes every mutation of the
// handle onto a single gate (spec.md §4.2, §4.5).
type Manager struct {
	handleConfig HandleConfig
	deviceConfig DeviceConfig
	construct    fxaclient.Constructor
	deserialize  fxaclient.Deserializer
	secretStore  secretstore.Store

	persist  *persistenceCoordinator
	gate     *gate
	ui       *uiDispatcher
	registry *prometheus.Registry

	mu                 sync.RWMutex
	state              AccountState
	handle             fxaclient.Handle
	profile            *fxaclient.Profile
	latestAuthState    *string
	pendingRestoreBlob string
	constellation      *constellation.Constellation

	initMu      sync.Mutex
	initialized bool

	accountObserver      observerSlot[AccountObserver]
	deviceEventsObserver observerSlot[DeviceEventsObserver]
}

// New constructs a Manager. It does not create or restore an account
// handle yet — that happens as a side effect of Initialize(), per
// spec.md §4.1's "Enter start via initialize" row.
func New(
	handleConfig HandleConfig,
	deviceConfig DeviceConfig,
	construct fxaclient.Constructor,
	deserialize fxaclient.Deserializer,
	store secretstore.Store,
) (*Manager, error) {
	if err := deviceConfig.Validate(); err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	return &Manager{
		handleConfig: handleConfig,
		deviceConfig: deviceConfig,
		construct:    construct,
		deserialize:  deserialize,
		secretStore:  store,
		persist:      newPersistenceCoordinator(store, registry),
		gate:         newGate(registry),
		ui:           newUIDispatcher(),
		registry:     registry,
		state:        StateStart,
	}, nil
}

// Metrics returns an http.Handler serving this Manager's gate and persist
// gauges/counters in Prometheus exposition format. Each Manager owns a
// private registry rather than registering onto the global default one,
// since multiple Managers (e.g. in tests) would otherwise collide on
// duplicate metric registration.
func (m *Manager) Metrics() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close releases the gate, the UI dispatcher, and the live handle. Not
// part of spec.md's public surface, but required to not leak the
// goroutines gate/ui start — the Go idiom for "destruction releases
// external resources" (spec.md §3).
func (m *Manager) Close() {
	m.gate.shutdown()
	m.ui.shutdown()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			log.Printf("accountmanager: close handle failed: %v", err)
		}
	}
}

// Initialize is one-shot: it enqueues the initialize event. Subsequent
// calls are no-ops.
func (m *Manager) Initialize() error {
	m.initMu.Lock()
	if m.initialized {
		m.initMu.Unlock()
		return nil
	}
	m.initialized = true
	m.initMu.Unlock()

	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evInitialize())
	})
	return nil
}

// HasAccount reports spec.md §3's invariant.
func (m *Manager) HasAccount() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.HasAccount()
}

// AccountNeedsReauth reports spec.md §3's invariant.
func (m *Manager) AccountNeedsReauth() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.NeedsReauth()
}

// AccountProfile returns the cached profile only when the current state
// permits it (authenticatedWithProfile or authenticationProblem).
func (m *Manager) AccountProfile() *fxaclient.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticatedWithProfile && m.state != StateAuthenticationProblem {
		return nil
	}
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// DeviceConstellation returns the live constellation, or nil when
// unauthenticated.
func (m *Manager) DeviceConstellation() *constellation.Constellation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.state.HasAccount() {
		return nil
	}
	return m.constellation
}

// Register installs the single AccountObserver slot.
func (m *Manager) Register(o AccountObserver) {
	m.accountObserver.register(o)
}

// RegisterForDeviceEvents installs the single DeviceEventsObserver slot.
func (m *Manager) RegisterForDeviceEvents(o DeviceEventsObserver) {
	m.deviceEventsObserver.register(o)
}

// OnEvents implements constellation.EventsObserver: the Manager registers
// itself on every constellation it creates and forwards event batches to
// the application's DeviceEventsObserver (spec.md §4.1 "register self as
// device-events observer on the new constellation"). Called on the UI
// dispatch context, so no further hop is needed here.
func (m *Manager) OnEvents(events []fxaclient.DeviceEvent) {
	if obs, ok := m.deviceEventsObserver.get(); ok {
		obs.OnEvents(events)
	}
}

// BeginAuthentication starts an interactive sign-in/sign-up OAuth flow.
func (m *Manager) BeginAuthentication(ctx context.Context, scopes []string, entrypoint string) (string, error) {
	return m.beginFlow(ctx, func(ctx context.Context, h fxaclient.Handle) (string, error) {
		return h.BeginOAuthFlow(ctx, scopes, entrypoint)
	})
}

// BeginPairingAuthentication starts a pairing flow anchored at pairingURL.
func (m *Manager) BeginPairingAuthentication(ctx context.Context, pairingURL string, scopes []string, entrypoint string) (string, error) {
	return m.beginFlow(ctx, func(ctx context.Context, h fxaclient.Handle) (string, error) {
		return h.BeginPairingFlow(ctx, pairingURL, scopes, entrypoint)
	})
}

func (m *Manager) beginFlow(ctx context.Context, begin func(context.Context, fxaclient.Handle) (string, error)) (string, error) {
	var resultURL string
	var resultErr error
	m.gate.Submit(func(ctx context.Context) {
		m.mu.RLock()
		handle := m.handle
		m.mu.RUnlock()
		if handle == nil {
			resultErr = ErrNotAuthenticated
			return
		}
		rawURL, err := begin(ctx, handle)
		if err != nil {
			resultErr = internalFxaError(err)
			return
		}
		state, err := parseStateParam(rawURL)
		if err != nil {
			resultErr = internalFxaError(err)
			return
		}
		m.mu.Lock()
		m.latestAuthState = &state
		m.mu.Unlock()
		resultURL = rawURL
	})
	return resultURL, resultErr
}

// parseStateParam extracts the "state" query parameter from a begin*Flow
// redirect URL, per spec.md §6.
func parseStateParam(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Query().Get("state"), nil
}

// DeriveAuthType maps a redirect's "action" query parameter to an
// AuthType, per spec.md §6. existingAccount and recovered are produced
// internally and never by this function.
func DeriveAuthType(action string) fxaclient.AuthType {
	switch action {
	case "signin":
		return fxaclient.AuthTypeSignin
	case "signup":
		return fxaclient.AuthTypeSignup
	case "pairing":
		return fxaclient.AuthTypePairing
	default:
		return fxaclient.AuthTypeOther(action)
	}
}

// FinishAuthentication completes an in-flight auth flow.
func (m *Manager) FinishAuthentication(authData fxaclient.AuthData) error {
	m.mu.RLock()
	latest := m.latestAuthState
	m.mu.RUnlock()

	if latest == nil {
		return ErrNoExistingAuthFlow
	}
	if authData.State != *latest {
		return ErrWrongAuthFlow
	}

	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evAuthenticated(authData))
	})
	return nil
}

// GetAccessToken delegates to the handle, surfacing its error verbatim
// wrapped as an internalFxaError.
func (m *Manager) GetAccessToken(ctx context.Context, scope string) (*fxaclient.AccessTokenInfo, error) {
	var info *fxaclient.AccessTokenInfo
	var resultErr error
	m.gate.Submit(func(ctx context.Context) {
		m.mu.RLock()
		handle := m.handle
		m.mu.RUnlock()
		if handle == nil {
			resultErr = ErrNotAuthenticated
			return
		}
		i, err := handle.GetAccessToken(ctx, scope)
		if err != nil {
			resultErr = internalFxaError(err)
			return
		}
		info = i
	})
	return info, resultErr
}

// RefreshProfile enqueues a fetchProfile event.
func (m *Manager) RefreshProfile() {
	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evFetchProfile())
	})
}

// Logout enqueues a logout event. Always succeeds from the caller's
// viewpoint; internal disconnect failure is logged only.
func (m *Manager) Logout() error {
	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evLogout())
	})
	return nil
}

// process drives the state machine to quiescence: it applies next(),
// runs the side effects for the resulting (fromState, event) transition,
// and if act() produces a follow-up event it recurses inline, on the
// same gate task, rather than resubmitting (spec.md §4.1's closing
// note: "runs to quiescence before the gate accepts the next task").
func (m *Manager) process(ctx context.Context, event Event) {
	m.mu.Lock()
	from := m.state
	to, ok := next(from, event.Kind)
	if !ok {
		m.mu.Unlock()
		log.Printf("accountmanager: no transition for state=%s event=%s", from, event.Kind)
		return
	}
	m.state = to
	m.mu.Unlock()

	if follow, has := m.act(ctx, from, event, to); has {
		m.process(ctx, follow)
	}
}

// act performs the side effects named in spec.md §4.1 for the transition
// (from, event) -> to, and reports a follow-up event when one is defined.
func (m *Manager) act(ctx context.Context, from AccountState, event Event, to AccountState) (Event, bool) {
	switch {
	case from == StateStart && event.Kind == EventInitialize:
		return m.actEnterStartViaInitialize(ctx)

	case to == StateNotAuthenticated && event.Kind == EventAccountNotFound:
		return m.actEnterNotAuthenticatedViaAccountNotFound(ctx)

	case to == StateNotAuthenticated && event.Kind == EventLogout:
		return m.actEnterNotAuthenticatedViaLogout(ctx)

	case to == StateAuthenticatedNoProfile && event.Kind == EventAuthenticated:
		return m.actEnterAuthNoProfileViaAuthenticated(ctx, *event.AuthData)

	case to == StateAuthenticatedNoProfile && event.Kind == EventAccountRestored:
		return m.actEnterAuthNoProfileViaAccountRestored(ctx)

	case to == StateAuthenticatedNoProfile && event.Kind == EventRecoveredFromAuthenticationProblem:
		return m.actEnterAuthNoProfileViaRecovered(ctx)

	case to == StateAuthenticatedNoProfile && event.Kind == EventFetchProfile:
		return m.actFetchProfile(ctx)

	case to == StateAuthenticatedNoProfile && event.Kind == EventFailedToFetchProfile:
		return Event{}, false

	case to == StateAuthenticatedWithProfile && event.Kind == EventFetchedProfile:
		return m.actEnterAuthWithProfileViaFetchedProfile(ctx)

	case to == StateAuthenticationProblem && event.Kind == EventAuthenticationError:
		return m.actEnterAuthProblemViaAuthenticationError(ctx)
	}
	return Event{}, false
}

// actEnterStartViaInitialize is the cold-start path: read the secret
// store and, if a blob is present, restore a handle from it. No fresh
// handle is created here — that is the accountNotFound side effect's job
// (spec.md §4.1), so there is a brief window with no handle at all
// between start and notAuthenticated. Nothing queries the handle in that
// window since process() runs the whole chain synchronously.
func (m *Manager) actEnterStartViaInitialize(ctx context.Context) (Event, bool) {
	blob, found, err := m.secretStore.Read(ctx)
	if err != nil {
		log.Printf("accountmanager: initialize: secret store read failed: %v", err)
		return evAccountNotFound(), true
	}
	if !found {
		return evAccountNotFound(), true
	}

	handle, err := m.deserialize(ctx, m.handleConfig.ContentURL, m.handleConfig.ClientID, m.handleConfig.RedirectURI, blob)
	if err != nil {
		log.Printf("accountmanager: initialize: deserialize handle failed, treating as signed out: %v", err)
		return evAccountNotFound(), true
	}
	m.setHandle(handle)
	return evAccountRestored(), true
}

// actEnterNotAuthenticatedViaAccountNotFound creates the fresh handle
// that every notAuthenticated state needs so begin*Authentication has
// something to call.
func (m *Manager) actEnterNotAuthenticatedViaAccountNotFound(ctx context.Context) (Event, bool) {
	handle, err := m.construct(ctx, m.handleConfig.ContentURL, m.handleConfig.ClientID, m.handleConfig.RedirectURI)
	if err != nil {
		log.Printf("accountmanager: account not found: construct handle failed: %v", err)
		return Event{}, false
	}
	m.setHandle(handle)
	return Event{}, false
}

// actEnterNotAuthenticatedViaLogout tears down server state best-effort,
// clears the secret store and cached profile, drops the constellation,
// creates a fresh handle, and notifies observers.
func (m *Manager) actEnterNotAuthenticatedViaLogout(ctx context.Context) (Event, bool) {
	m.mu.Lock()
	oldHandle := m.handle
	m.profile = nil
	m.latestAuthState = nil
	m.teardownConstellationLocked()
	m.mu.Unlock()

	if oldHandle != nil {
		if err := oldHandle.Disconnect(ctx); err != nil {
			log.Printf("accountmanager: logout: disconnect failed: %v", err)
		}
	}
	m.persist.clear(ctx)

	handle, err := m.construct(ctx, m.handleConfig.ContentURL, m.handleConfig.ClientID, m.handleConfig.RedirectURI)
	if err != nil {
		log.Printf("accountmanager: logout: construct fresh handle failed: %v", err)
	} else {
		m.setHandle(handle)
	}

	m.notifyLoggedOut()
	return Event{}, false
}

// actEnterAuthNoProfileViaAuthenticated handles a freshly completed
// interactive flow: exchange the code, set up persistence and the
// constellation, initialize this device's record, notify, fetch profile.
func (m *Manager) actEnterAuthNoProfileViaAuthenticated(ctx context.Context, authData fxaclient.AuthData) (Event, bool) {
	m.mu.RLock()
	handle := m.handle
	m.mu.RUnlock()
	if handle == nil {
		log.Printf("accountmanager: authenticated event with no handle, ignoring")
		return Event{}, false
	}

	if err := handle.CompleteOAuthFlow(ctx, authData.Code, authData.State); err != nil {
		log.Printf("accountmanager: complete oauth flow failed: %v", err)
		return evAuthenticationError(), true
	}

	m.afterAuthenticatedSetup(ctx)
	m.notifyAuthenticated(authData.AuthType)
	m.maybeKickOffSendTabSync(ctx)
	return evFetchProfile(), true
}

// actEnterAuthNoProfileViaAccountRestored handles a restored handle at
// cold start: persistence callback and constellation setup as usual, but
// ensureCapabilities rather than initializeDevice (the device record
// already exists from a previous run) and authType=existingAccount.
func (m *Manager) actEnterAuthNoProfileViaAccountRestored(ctx context.Context) (Event, bool) {
	m.mu.Lock()
	m.persist.installOn(m.handle)
	m.setupConstellationLocked(m.handle)
	c := m.constellation
	m.mu.Unlock()

	if err := c.EnsureCapabilities(ctx, m.deviceConfig.Capabilities, m.deviceConfig.PreferredLanguage); err != nil {
		log.Printf("accountmanager: ensure capabilities failed: %v", err)
	}
	m.notifyAuthenticated(fxaclient.AuthTypeExistingAccount)
	m.maybeKickOffSendTabSync(ctx)
	return evFetchProfile(), true
}

// actEnterAuthNoProfileViaRecovered handles silent recovery from an
// authentication problem (e.g. a token refresh that quietly succeeded).
// There is no fresh AuthData here, so CompleteOAuthFlow does not apply;
// only the post-auth setup and notification steps run.
func (m *Manager) actEnterAuthNoProfileViaRecovered(ctx context.Context) (Event, bool) {
	m.afterAuthenticatedSetup(ctx)
	m.notifyAuthenticated(fxaclient.AuthTypeRecovered)
	m.maybeKickOffSendTabSync(ctx)
	return evFetchProfile(), true
}

// afterAuthenticatedSetup installs the persist callback, (re)builds the
// constellation bound to the current handle, and initializes this
// device's record. Shared by the authenticated and recovered paths; the
// accountRestored path does the same setup inline but ensures
// capabilities instead of initializing the device.
func (m *Manager) afterAuthenticatedSetup(ctx context.Context) {
	m.mu.Lock()
	m.persist.installOn(m.handle)
	m.setupConstellationLocked(m.handle)
	c := m.constellation
	m.mu.Unlock()

	if err := c.InitDevice(ctx, m.deviceConfig.Name, m.deviceConfig.Type, m.deviceConfig.Capabilities, m.deviceConfig.PreferredLanguage); err != nil {
		log.Printf("accountmanager: initialize device failed: %v", err)
	}
}

// maybeKickOffSendTabSync implements spec.md §4.1's post-authentication
// hook: if this device advertises sendTab, prime the device cache and
// drain any commands waiting since before the device was signed in.
// Called from within the gate task that just entered authenticatedNoProfile,
// so it must use the *OnGate reentrant forms to avoid deadlocking the gate.
func (m *Manager) maybeKickOffSendTabSync(ctx context.Context) {
	if !m.deviceConfig.HasCapability(fxaclient.CapabilitySendTab) {
		return
	}
	m.mu.RLock()
	c := m.constellation
	m.mu.RUnlock()
	if c == nil {
		return
	}
	c.RefreshStateOnGate(ctx)
	c.PollForEventsOnGate(ctx)
}

// actFetchProfile fetches the profile and reports the fetched/failed
// follow-up event; it never itself leaves the caller's state.
func (m *Manager) actFetchProfile(ctx context.Context) (Event, bool) {
	m.mu.RLock()
	handle := m.handle
	m.mu.RUnlock()
	if handle == nil {
		return evFailedToFetchProfile(), true
	}

	profile, err := handle.FetchProfile(ctx)
	if err != nil {
		log.Printf("accountmanager: fetch profile failed: %v", err)
		return evFailedToFetchProfile(), true
	}

	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()
	return evFetchedProfile(), true
}

// actEnterAuthWithProfileViaFetchedProfile notifies observers with the
// profile just cached by actFetchProfile.
func (m *Manager) actEnterAuthWithProfileViaFetchedProfile(ctx context.Context) (Event, bool) {
	m.mu.RLock()
	profile := m.profile
	m.mu.RUnlock()
	if profile != nil {
		m.notifyProfileUpdated(*profile)
	}
	return Event{}, false
}

// actEnterAuthProblemViaAuthenticationError checks whether the problem
// is already resolved (spec.md §4.1): if the authorization check reports
// the account still active, clear the access-token cache and fetch a
// fresh profile-scoped token to confirm recovery before emitting
// recoveredFromAuthenticationProblem — in which case onAuthenticationProblems
// never fires, since the caller never observably left the authenticated
// state. Any failure along that path (inactive, check error, or the
// confirming token fetch itself failing) falls back to notifying
// onAuthenticationProblems and stopping. The handle itself is always kept:
// a subsequent authenticated/recoveredFromAuthenticationProblem event
// reuses it rather than replacing it.
func (m *Manager) actEnterAuthProblemViaAuthenticationError(ctx context.Context) (Event, bool) {
	m.mu.RLock()
	handle := m.handle
	m.mu.RUnlock()
	if handle == nil {
		m.notifyAuthenticationProblems()
		return Event{}, false
	}

	status, err := handle.CheckAuthorizationStatus(ctx)
	if err != nil || status == nil || !status.Active {
		if err != nil {
			log.Printf("accountmanager: authentication error: authorization check failed: %v", err)
		}
		m.notifyAuthenticationProblems()
		return Event{}, false
	}

	if err := handle.ClearAccessTokenCache(ctx); err != nil {
		log.Printf("accountmanager: authentication error: clear access token cache failed: %v", err)
	}
	if _, err := handle.GetAccessToken(ctx, "profile"); err != nil {
		log.Printf("accountmanager: authentication error: confirm recovery token fetch failed: %v", err)
		m.notifyAuthenticationProblems()
		return Event{}, false
	}

	return evRecoveredFromAuthProblem(), true
}

// setHandle installs handle as the live account handle, closing and
// replacing whatever was there before. Per spec.md §3's invariant, a
// handle replacement always tears down the constellation bound to the
// old one; a fresh constellation is built later (by afterAuthenticatedSetup
// or the accountRestored side effect) once the new handle reaches an
// authenticated state.
func (m *Manager) setHandle(handle fxaclient.Handle) {
	m.mu.Lock()
	old := m.handle
	m.handle = handle
	m.teardownConstellationLocked()
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("accountmanager: close previous handle failed: %v", err)
		}
	}
}

// setupConstellationLocked and teardownConstellationLocked must be
// called with m.mu held.
func (m *Manager) setupConstellationLocked(handle fxaclient.Handle) {
	c := constellation.New(handle, m.gate, m.ui)
	c.RegisterDeviceEventsObserver(m)
	m.constellation = c
}

func (m *Manager) teardownConstellationLocked() {
	m.constellation = nil
}

func (m *Manager) notifyLoggedOut() {
	if obs, ok := m.accountObserver.get(); ok {
		m.ui.Dispatch(func() { obs.OnLoggedOut() })
	}
}

func (m *Manager) notifyAuthenticationProblems() {
	if obs, ok := m.accountObserver.get(); ok {
		m.ui.Dispatch(func() { obs.OnAuthenticationProblems() })
	}
}

func (m *Manager) notifyAuthenticated(authType fxaclient.AuthType) {
	if obs, ok := m.accountObserver.get(); ok {
		m.ui.Dispatch(func() { obs.OnAuthenticated(authType) })
	}
}

func (m *Manager) notifyProfileUpdated(profile fxaclient.Profile) {
	if obs, ok := m.accountObserver.get(); ok {
		m.ui.Dispatch(func() { obs.OnProfileUpdated(profile) })
	}
}
