package accountmanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
	storemem "github.com/mozilla-mobile/account-manager-go/accountmanager/secretstore/memory"
)

// fakeHandle is a fully-controllable fxaclient.Handle test double, used
// instead of fxaclient/memory so scenarios can inject specific failures
// (wrong state, unrecoverable authentication problems) without a real
// OAuth exchange.
type fakeHandle struct {
	mu sync.Mutex

	authed           bool
	authStatusActive bool
	authStatusErr    error
	getTokenErr      error
	completeErr      error

	deviceInitialized bool
	capsEnsured       bool
	sentTabs          []sentTab
	persistCB         fxaclient.PersistCallback
	closed            bool
}

type sentTab struct {
	target, title, url string
}

type fakeHandleState struct {
	Authed bool `json:"authed"`
}

func newFakeHandle(context.Context, string, string, string) (fxaclient.Handle, error) {
	return &fakeHandle{authStatusActive: true}, nil
}

func deserializeFakeHandle(ctx context.Context, contentURL, clientID, redirectURI, blob string) (fxaclient.Handle, error) {
	var s fakeHandleState
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, err
	}
	return &fakeHandle{authed: s.Authed, authStatusActive: true}, nil
}

func (h *fakeHandle) BeginOAuthFlow(ctx context.Context, scopes []string, entrypoint string) (string, error) {
	return "https://x/?state=ABC&action=signin", nil
}

func (h *fakeHandle) BeginPairingFlow(ctx context.Context, pairingURL string, scopes []string, entrypoint string) (string, error) {
	return pairingURL + "&state=PAIR", nil
}

func (h *fakeHandle) CompleteOAuthFlow(ctx context.Context, code, state string) error {
	if h.completeErr != nil {
		return h.completeErr
	}
	h.mu.Lock()
	h.authed = true
	h.mu.Unlock()
	h.notifyPersist()
	return nil
}

func (h *fakeHandle) FetchProfile(ctx context.Context) (*fxaclient.Profile, error) {
	return &fxaclient.Profile{UID: "uid-1", Email: "person@example.invalid"}, nil
}

func (h *fakeHandle) FetchDevices(ctx context.Context) ([]fxaclient.Device, error) {
	return []fxaclient.Device{{ID: "local", IsCurrentDevice: true}}, nil
}

func (h *fakeHandle) InitializeDevice(ctx context.Context, name string, typ fxaclient.DeviceType, capabilities []fxaclient.Capability, lang string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deviceInitialized = true
	return nil
}

func (h *fakeHandle) EnsureCapabilities(ctx context.Context, capabilities []fxaclient.Capability, lang string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capsEnsured = true
	return nil
}

func (h *fakeHandle) SetDeviceName(ctx context.Context, name string) error { return nil }

func (h *fakeHandle) SetDevicePushSubscription(ctx context.Context, sub fxaclient.DevicePushSubscription) error {
	return nil
}

func (h *fakeHandle) PollDeviceCommands(ctx context.Context) ([]fxaclient.DeviceEvent, error) {
	return nil, nil
}

func (h *fakeHandle) HandlePushMessage(ctx context.Context, rawPayload string) ([]fxaclient.DeviceEvent, error) {
	return []fxaclient.DeviceEvent{{TabReceived: &fxaclient.TabReceivedEvent{
		Entries: []fxaclient.TabEntry{{Title: "t", URL: rawPayload}},
	}}}, nil
}

func (h *fakeHandle) SendSingleTab(ctx context.Context, targetDeviceID, title, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sentTabs = append(h.sentTabs, sentTab{targetDeviceID, title, url})
	return nil
}

func (h *fakeHandle) GetAccessToken(ctx context.Context, scope string) (*fxaclient.AccessTokenInfo, error) {
	if h.getTokenErr != nil {
		return nil, h.getTokenErr
	}
	return &fxaclient.AccessTokenInfo{Token: "tok", Scope: scope, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (h *fakeHandle) ClearAccessTokenCache(ctx context.Context) error { return nil }

func (h *fakeHandle) CheckAuthorizationStatus(ctx context.Context) (*fxaclient.AuthorizationStatus, error) {
	if h.authStatusErr != nil {
		return nil, h.authStatusErr
	}
	return &fxaclient.AuthorizationStatus{Active: h.authStatusActive}, nil
}

func (h *fakeHandle) Disconnect(ctx context.Context) error { return nil }

func (h *fakeHandle) RegisterPersistCallback(cb fxaclient.PersistCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.persistCB = cb
}

func (h *fakeHandle) notifyPersist() {
	h.mu.Lock()
	cb := h.persistCB
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (h *fakeHandle) ToJSON() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := json.Marshal(fakeHandleState{Authed: h.authed})
	return string(b), err
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

// recObserver records the sequence of AccountObserver notifications.
type recObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recObserver) record(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, s)
}

func (o *recObserver) OnLoggedOut()                                 { o.record("loggedOut") }
func (o *recObserver) OnAuthenticationProblems()                    { o.record("authenticationProblems") }
func (o *recObserver) OnAuthenticated(t fxaclient.AuthType)         { o.record("authenticated:" + t.String()) }
func (o *recObserver) OnProfileUpdated(p fxaclient.Profile)         { o.record("profileUpdated:" + p.Email) }

func (o *recObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	copy(out, o.events)
	return out
}

func testDeviceConfig() DeviceConfig {
	return DeviceConfig{Name: "test device", Type: fxaclient.DeviceTypeDesktop}
}

func newTestManager(t *testing.T, store *storemem.Store) *Manager {
	t.Helper()
	m, err := New(HandleConfig{ContentURL: "https://x", ClientID: "c", RedirectURI: "https://r"}, testDeviceConfig(), newFakeHandle, deserializeFakeHandle, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitForObserverCount(t *testing.T, obs *recObserver, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(obs.snapshot()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d observer notifications, got %v", n, obs.snapshot())
}

// Scenario 1: cold start, no stored account.
func TestColdStartNoStoredAccount(t *testing.T) {
	store := storemem.New()
	m := newTestManager(t, store)
	obs := &recObserver{}
	m.Register(obs)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if m.HasAccount() {
		t.Fatal("expected hasAccount() == false")
	}
	if m.DeviceConstellation() != nil {
		t.Fatal("expected nil constellation")
	}
	time.Sleep(10 * time.Millisecond)
	if got := obs.snapshot(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %v", got)
	}
}

// Scenario 2: cold start, stored account.
func TestColdStartStoredAccount(t *testing.T) {
	store := storemem.New()
	blob, _ := json.Marshal(fakeHandleState{Authed: true})
	if err := store.Write(context.Background(), string(blob)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	m := newTestManager(t, store)
	obs := &recObserver{}
	m.Register(obs)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	waitForObserverCount(t, obs, 2)
	if !m.HasAccount() {
		t.Fatal("expected hasAccount() == true")
	}
	if m.DeviceConstellation() == nil {
		t.Fatal("expected non-nil constellation")
	}
	want := []string{"authenticated:existingAccount", "profileUpdated:person@example.invalid"}
	got := obs.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

// Scenario 3 & 4: interactive sign-in, and wrong-state redirect.
func TestInteractiveSignInAndWrongState(t *testing.T) {
	store := storemem.New()
	m := newTestManager(t, store)
	obs := &recObserver{}
	m.Register(obs)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	u, err := m.BeginAuthentication(context.Background(), []string{"profile"}, "test")
	if err != nil {
		t.Fatalf("BeginAuthentication: %v", err)
	}
	if u == "" {
		t.Fatal("expected non-empty auth URL")
	}

	if err := m.FinishAuthentication(fxaclient.AuthData{Code: "c", State: "XYZ", AuthType: fxaclient.AuthTypeSignin}); err != ErrWrongAuthFlow {
		t.Fatalf("FinishAuthentication with wrong state: err = %v, want ErrWrongAuthFlow", err)
	}
	if m.HasAccount() {
		t.Fatal("wrong-state redirect must not change state")
	}

	if err := m.FinishAuthentication(fxaclient.AuthData{Code: "c", State: "ABC", AuthType: fxaclient.AuthTypeSignin}); err != nil {
		t.Fatalf("FinishAuthentication: %v", err)
	}

	waitForObserverCount(t, obs, 2)
	if !m.HasAccount() {
		t.Fatal("expected hasAccount() == true after finishing authentication")
	}
	want := []string{"authenticated:signin", "profileUpdated:person@example.invalid"}
	got := obs.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

// FinishAuthentication before any begin* call fails with noExistingAuthFlow.
func TestFinishAuthenticationWithoutBegin(t *testing.T) {
	store := storemem.New()
	m := newTestManager(t, store)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.FinishAuthentication(fxaclient.AuthData{State: "anything"}); err != ErrNoExistingAuthFlow {
		t.Fatalf("err = %v, want ErrNoExistingAuthFlow", err)
	}
}

// Scenario 6: auth problem, unrecoverable, then logout.
func TestUnrecoverableAuthProblemThenLogout(t *testing.T) {
	store := storemem.New()
	blob, _ := json.Marshal(fakeHandleState{Authed: true})
	store.Write(context.Background(), string(blob))

	m, err := New(HandleConfig{ContentURL: "https://x", ClientID: "c", RedirectURI: "https://r"}, testDeviceConfig(), newFakeHandle,
		func(ctx context.Context, contentURL, clientID, redirectURI, blob string) (fxaclient.Handle, error) {
			h, err := deserializeFakeHandle(ctx, contentURL, clientID, redirectURI, blob)
			if err != nil {
				return nil, err
			}
			h.(*fakeHandle).authStatusActive = false
			return h, nil
		}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	obs := &recObserver{}
	m.Register(obs)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForObserverCount(t, obs, 2)

	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evAuthenticationError())
	})
	waitForObserverCount(t, obs, 3)

	if !m.AccountNeedsReauth() {
		t.Fatal("expected accountNeedsReauth() == true")
	}
	got := obs.snapshot()
	if got[2] != "authenticationProblems" {
		t.Fatalf("notifications = %v, want 3rd == authenticationProblems", got)
	}

	if err := m.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	waitForObserverCount(t, obs, 4)
	if m.HasAccount() {
		t.Fatal("expected hasAccount() == false after logout")
	}
	got = obs.snapshot()
	if got[3] != "loggedOut" {
		t.Fatalf("notifications = %v, want 4th == loggedOut", got)
	}
}

// Scenario 5: auth problem with silent recovery — no onAuthenticationProblems.
func TestRecoverableAuthProblem(t *testing.T) {
	store := storemem.New()
	blob, _ := json.Marshal(fakeHandleState{Authed: true})
	store.Write(context.Background(), string(blob))

	m := newTestManager(t, store)
	obs := &recObserver{}
	m.Register(obs)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForObserverCount(t, obs, 2)

	m.gate.Submit(func(ctx context.Context) {
		m.process(ctx, evAuthenticationError())
	})
	waitForObserverCount(t, obs, 4)

	if m.AccountNeedsReauth() {
		t.Fatal("expected accountNeedsReauth() == false after silent recovery")
	}
	got := obs.snapshot()
	for _, e := range got {
		if e == "authenticationProblems" {
			t.Fatalf("onAuthenticationProblems must not fire on silent recovery, got %v", got)
		}
	}
	if got[2] != "authenticated:recovered" {
		t.Fatalf("notifications = %v, want 3rd == authenticated:recovered", got)
	}
	if got[3] != "profileUpdated:person@example.invalid" {
		t.Fatalf("notifications = %v, want 4th to be a fresh profileUpdated", got)
	}
}

// Scenario 7: send-tab round trip.
func TestSendTabRoundTrip(t *testing.T) {
	store := storemem.New()
	blob, _ := json.Marshal(fakeHandleState{Authed: true})
	store.Write(context.Background(), string(blob))

	dc := testDeviceConfig()
	dc.Capabilities = []fxaclient.Capability{fxaclient.CapabilitySendTab}
	m, err := New(HandleConfig{ContentURL: "https://x", ClientID: "c", RedirectURI: "https://r"}, dc, newFakeHandle, deserializeFakeHandle, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	eventsObs := &recDeviceEventsObserver{}
	m.RegisterForDeviceEvents(eventsObs)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	c := m.DeviceConstellation()
	if c == nil {
		t.Fatal("expected non-nil constellation")
	}

	wantState := constellation.State{LocalDevice: &fxaclient.Device{ID: "local", IsCurrentDevice: true}}
	if diff := cmp.Diff(wantState, *c.State()); diff != "" {
		t.Fatalf("constellation state mismatch (-want +got):\n%s", diff)
	}

	c.SendEventToDevice("remote-1", constellation.OutgoingEvent{
		SendTab: &constellation.SendTabCommand{Title: "T", URL: "U"},
	})

	c.ProcessRawIncomingDeviceEvent("https://example.invalid/tab")
	eventsObs.wait(t, 1)
}

type recDeviceEventsObserver struct {
	mu     sync.Mutex
	events [][]fxaclient.DeviceEvent
}

func (o *recDeviceEventsObserver) OnEvents(events []fxaclient.DeviceEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events)
}

func (o *recDeviceEventsObserver) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		got := len(o.events)
		o.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d event batches", n)
}
