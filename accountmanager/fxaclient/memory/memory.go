// Package memory is a reference/test-double implementation of
// fxaclient.Handle backed by golang.org/x/oauth2 and an in-process
// device/command model. It performs real OAuth2 code-exchange wiring
// against whatever authorization/token endpoints contentURL implies, but
// keeps devices, push subscriptions, and pending commands in memory —
// there is no production Firefox Accounts server behind it.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	sf "github.com/tinode/snowflake"
	"golang.org/x/oauth2"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
)

var (
	idGenOnce sync.Once
	idGen     *sf.Node
)

func nextDeviceID() string {
	idGenOnce.Do(func() {
		n, err := sf.NewNode(2)
		if err != nil {
			panic(err)
		}
		idGen = n
	})
	return idGen.Generate().Base32()
}

// pendingCommand is a queued outgoing tab send awaiting delivery to a
// target device's PollDeviceCommands call.
type pendingCommand struct {
	From    fxaclient.Device
	Entries []fxaclient.TabEntry
}

// Handle is the in-memory fxaclient.Handle implementation.
type Handle struct {
	oauthConfig oauth2.Config
	clientID    string

	mu           sync.Mutex
	token        *oauth2.Token
	profile      *fxaclient.Profile
	localDevice  *fxaclient.Device
	remoteDevices map[string]fxaclient.Device
	pushSub      *fxaclient.DevicePushSubscription
	pendingCmds  map[string][]pendingCommand
	persistCB    fxaclient.PersistCallback
}

type persistedState struct {
	Token         *oauth2.Token                        `json:"token"`
	Profile       *fxaclient.Profile                    `json:"profile"`
	LocalDevice   *fxaclient.Device                      `json:"local_device"`
	RemoteDevices map[string]fxaclient.Device           `json:"remote_devices"`
	PushSub       *fxaclient.DevicePushSubscription      `json:"push_subscription"`
}

// New builds a fresh Handle, satisfying fxaclient.Constructor.
func New(ctx context.Context, contentURL, clientID, redirectURI string) (fxaclient.Handle, error) {
	return &Handle{
		oauthConfig: oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  contentURL + "/authorization",
				TokenURL: contentURL + "/token",
			},
		},
		clientID:      clientID,
		remoteDevices: make(map[string]fxaclient.Device),
		pendingCmds:   make(map[string][]pendingCommand),
	}, nil
}

// FromJSON restores a Handle from a blob written by ToJSON, satisfying
// fxaclient.Deserializer.
func FromJSON(ctx context.Context, contentURL, clientID, redirectURI, blob string) (fxaclient.Handle, error) {
	h, err := New(ctx, contentURL, clientID, redirectURI)
	if err != nil {
		return nil, err
	}
	mh := h.(*Handle)

	var state persistedState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("fxaclient/memory: decode persisted state: %w", err)
	}
	mh.token = state.Token
	mh.profile = state.Profile
	mh.localDevice = state.LocalDevice
	if state.RemoteDevices != nil {
		mh.remoteDevices = state.RemoteDevices
	}
	mh.pushSub = state.PushSub
	return mh, nil
}

func (h *Handle) authenticated() bool {
	return h.token != nil
}

func (h *Handle) notifyPersist() {
	if h.persistCB != nil {
		h.persistCB()
	}
}

func (h *Handle) BeginOAuthFlow(ctx context.Context, scopes []string, entrypoint string) (string, error) {
	state := nextDeviceID()
	cfg := h.oauthConfig
	cfg.Scopes = scopes
	u := cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("entrypoint", entrypoint), oauth2.SetAuthURLParam("action", "signin"))
	return u, nil
}

func (h *Handle) BeginPairingFlow(ctx context.Context, pairingURL string, scopes []string, entrypoint string) (string, error) {
	base, err := url.Parse(pairingURL)
	if err != nil {
		return "", fmt.Errorf("fxaclient/memory: invalid pairing url: %w", err)
	}
	state := nextDeviceID()
	q := base.Query()
	q.Set("state", state)
	q.Set("entrypoint", entrypoint)
	q.Set("action", "pairing")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (h *Handle) CompleteOAuthFlow(ctx context.Context, code, state string) error {
	tok, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("fxaclient/memory: exchange code: %w", err)
	}
	h.mu.Lock()
	h.token = tok
	h.mu.Unlock()
	h.notifyPersist()
	return nil
}

func (h *Handle) FetchProfile(ctx context.Context) (*fxaclient.Profile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated() {
		return nil, errors.New("fxaclient/memory: not authenticated")
	}
	if h.profile == nil {
		h.profile = &fxaclient.Profile{UID: h.clientID, Email: "user@example.invalid"}
	}
	p := *h.profile
	return &p, nil
}

func (h *Handle) FetchDevices(ctx context.Context) ([]fxaclient.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []fxaclient.Device
	if h.localDevice != nil {
		out = append(out, *h.localDevice)
	}
	for _, d := range h.remoteDevices {
		out = append(out, d)
	}
	return out, nil
}

func (h *Handle) InitializeDevice(ctx context.Context, name string, typ fxaclient.DeviceType, capabilities []fxaclient.Capability, lang string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.localDevice == nil {
		h.localDevice = &fxaclient.Device{
			ID:              nextDeviceID(),
			IsCurrentDevice: true,
		}
	}
	h.localDevice.DisplayName = name
	h.localDevice.Type = typ
	h.localDevice.Capabilities = capabilities
	h.localDevice.Lang = lang
	h.localDevice.LastAccessTime = time.Now()
	h.notifyPersist()
	return nil
}

func (h *Handle) EnsureCapabilities(ctx context.Context, capabilities []fxaclient.Capability, lang string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.localDevice == nil {
		return errors.New("fxaclient/memory: ensure capabilities called before device initialized")
	}
	h.localDevice.Capabilities = capabilities
	h.localDevice.Lang = lang
	h.notifyPersist()
	return nil
}

func (h *Handle) SetDeviceName(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.localDevice == nil {
		return errors.New("fxaclient/memory: set device name called before device initialized")
	}
	h.localDevice.DisplayName = name
	h.notifyPersist()
	return nil
}

func (h *Handle) SetDevicePushSubscription(ctx context.Context, sub fxaclient.DevicePushSubscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushSub = &sub
	if h.localDevice != nil {
		h.localDevice.PushSubscription = &sub
	}
	h.notifyPersist()
	return nil
}

func (h *Handle) PollDeviceCommands(ctx context.Context) ([]fxaclient.DeviceEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.localDevice == nil {
		return nil, nil
	}
	cmds := h.pendingCmds[h.localDevice.ID]
	delete(h.pendingCmds, h.localDevice.ID)

	var events []fxaclient.DeviceEvent
	for _, c := range cmds {
		from := c.From
		events = append(events, fxaclient.DeviceEvent{
			TabReceived: &fxaclient.TabReceivedEvent{From: &from, Entries: c.Entries},
		})
	}
	return events, nil
}

func (h *Handle) HandlePushMessage(ctx context.Context, rawPayload string) ([]fxaclient.DeviceEvent, error) {
	var events []fxaclient.DeviceEvent
	if err := json.Unmarshal([]byte(rawPayload), &events); err != nil {
		return nil, fmt.Errorf("fxaclient/memory: decode push payload: %w", err)
	}
	return events, nil
}

func (h *Handle) SendSingleTab(ctx context.Context, targetDeviceID, title, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.localDevice == nil {
		return errors.New("fxaclient/memory: send tab called before device initialized")
	}
	from := *h.localDevice
	h.pendingCmds[targetDeviceID] = append(h.pendingCmds[targetDeviceID], pendingCommand{
		From:    from,
		Entries: []fxaclient.TabEntry{{Title: title, URL: url}},
	})
	return nil
}

func (h *Handle) GetAccessToken(ctx context.Context, scope string) (*fxaclient.AccessTokenInfo, error) {
	h.mu.Lock()
	tok := h.token
	h.mu.Unlock()
	if tok == nil {
		return nil, errors.New("fxaclient/memory: not authenticated")
	}
	return &fxaclient.AccessTokenInfo{Token: tok.AccessToken, Scope: scope, ExpiresAt: tok.Expiry}, nil
}

func (h *Handle) ClearAccessTokenCache(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = nil
	h.notifyPersist()
	return nil
}

func (h *Handle) CheckAuthorizationStatus(ctx context.Context) (*fxaclient.AuthorizationStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &fxaclient.AuthorizationStatus{Active: h.authenticated()}, nil
}

func (h *Handle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = nil
	h.profile = nil
	h.localDevice = nil
	h.remoteDevices = make(map[string]fxaclient.Device)
	h.pushSub = nil
	return nil
}

func (h *Handle) RegisterPersistCallback(cb fxaclient.PersistCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.persistCB = cb
}

func (h *Handle) ToJSON() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := persistedState{
		Token:         h.token,
		Profile:       h.profile,
		LocalDevice:   h.localDevice,
		RemoteDevices: h.remoteDevices,
		PushSub:       h.pushSub,
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("fxaclient/memory: encode persisted state: %w", err)
	}
	return string(b), nil
}

func (h *Handle) Close() error { return nil }
