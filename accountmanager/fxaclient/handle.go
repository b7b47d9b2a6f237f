// Package fxaclient declares the boundary to the lower-level account
// library: an opaque per-account Handle that performs the actual
// cryptographic and network work (OAuth, device commands, push
// registration, profile fetch). Implementations of Handle are owned
// externally to this module; accountmanager.Manager holds exactly one at
// a time. See memory for a reference/test-double implementation.
package fxaclient

import (
	"context"
	"time"
)

// Capability is a device capability a handle can advertise or act on.
type Capability string

// Capabilities supported by this port. The set is extensible; unknown
// values round-trip but are not acted on.
const (
	CapabilitySendTab Capability = "sendTab"
)

// AuthType classifies how an authenticated state was reached. See
// spec.md §6 "AuthType derivation".
type AuthType struct {
	kind   string
	reason string
}

var (
	AuthTypeExistingAccount = AuthType{kind: "existingAccount"}
	AuthTypeSignin          = AuthType{kind: "signin"}
	AuthTypeSignup          = AuthType{kind: "signup"}
	AuthTypePairing         = AuthType{kind: "pairing"}
	AuthTypeRecovered       = AuthType{kind: "recovered"}
)

// AuthTypeOther builds the catch-all AuthType carrying the raw action
// query parameter, per spec.md §6.
func AuthTypeOther(action string) AuthType { return AuthType{kind: "other", reason: action} }

func (a AuthType) String() string {
	if a.kind == "other" {
		return "other(" + a.reason + ")"
	}
	return a.kind
}

// Reason returns the raw action string for AuthTypeOther, "" otherwise.
func (a AuthType) Reason() string { return a.reason }

// AuthData is the redirect payload handed to FinishAuthentication.
type AuthData struct {
	Code     string
	State    string
	AuthType AuthType
}

// Avatar is the user's profile picture, when set.
type Avatar struct {
	URL       string
	IsDefault bool
}

// Profile is present only while the manager's state is
// authenticatedWithProfile or authenticationProblem.
type Profile struct {
	UID         string
	Email       string
	Avatar      *Avatar
	DisplayName *string
}

// AccessTokenInfo is the result of a scoped access-token request.
type AccessTokenInfo struct {
	Token     string
	Scope     string
	ExpiresAt time.Time
}

// DeviceType is the platform category of a device record.
type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeTV      DeviceType = "tv"
	DeviceTypeVR      DeviceType = "vr"
	DeviceTypeUnknown DeviceType = "unknown"
)

// DevicePushSubscription is the webpush-style endpoint a device registers
// to receive device-event pushes.
type DevicePushSubscription struct {
	Endpoint  string
	PublicKey string
	AuthKey   string
}

// Device is a single record from the account's device list, either the
// local device or a remote one.
type Device struct {
	ID                 string
	DisplayName        string
	Type               DeviceType
	Lang               string
	IsCurrentDevice    bool
	LastAccessTime     time.Time
	Capabilities       []Capability
	PushSubscription   *DevicePushSubscription
	SubscriptionExpired bool
}

// TabEntry is a single URL carried by a tabReceived device event.
type TabEntry struct {
	Title string
	URL   string
}

// DeviceEvent is an incoming event surfaced by PollDeviceCommands or
// HandlePushMessage. Only TabReceived is defined today; the variant is
// extensible (spec.md §3).
type DeviceEvent struct {
	TabReceived *TabReceivedEvent
}

// TabReceivedEvent carries one or more tabs sent from another device.
type TabReceivedEvent struct {
	From    *Device
	Entries []TabEntry
}

// AuthorizationStatus reports whether the account's cached credentials
// are still considered valid by the handle/server.
type AuthorizationStatus struct {
	Active bool
}

// PersistCallback is invoked by a Handle after any mutation that changes
// its persisted state. Implementations must not block the caller for
// long; accountmanager's persistence coordinator hops the actual write onto
// a background context.
type PersistCallback func()

// Handle is the account-library collaborator. All methods are
// synchronous and potentially blocking (network I/O); callers in this
// module invoke them from the serialization gate, except
// SetDevicePushSubscription (run inline by the constellation), ToJSON
// (run by the persistence coordinator on a background goroutine) and
// Close (run by Manager.Close after the gate has shut down).
type Handle interface {
	// BeginOAuthFlow starts an interactive sign-in/sign-up flow and
	// returns the URL the embedding UI should present.
	BeginOAuthFlow(ctx context.Context, scopes []string, entrypoint string) (string, error)
	// BeginPairingFlow starts a pairing flow anchored at pairingURL.
	BeginPairingFlow(ctx context.Context, pairingURL string, scopes []string, entrypoint string) (string, error)
	// CompleteOAuthFlow exchanges the redirect's code/state for tokens.
	CompleteOAuthFlow(ctx context.Context, code, state string) error

	// FetchProfile fetches the user's profile.
	FetchProfile(ctx context.Context) (*Profile, error)

	// FetchDevices lists all devices known to the server for this account.
	FetchDevices(ctx context.Context) ([]Device, error)
	// InitializeDevice creates this device's record. lang is a BCP 47 tag,
	// or empty if the embedder expressed no preference.
	InitializeDevice(ctx context.Context, name string, typ DeviceType, capabilities []Capability, lang string) error
	// EnsureCapabilities makes sure this device's record advertises
	// capabilities and lang, without recreating the record.
	EnsureCapabilities(ctx context.Context, capabilities []Capability, lang string) error
	// SetDeviceName updates this device's display name.
	SetDeviceName(ctx context.Context, name string) error
	// SetDevicePushSubscription forwards subscription details to the server.
	SetDevicePushSubscription(ctx context.Context, sub DevicePushSubscription) error
	// PollDeviceCommands fetches and decodes any pending device commands.
	PollDeviceCommands(ctx context.Context) ([]DeviceEvent, error)
	// HandlePushMessage decrypts and decodes a raw push payload into events.
	HandlePushMessage(ctx context.Context, rawPayload string) ([]DeviceEvent, error)
	// SendSingleTab delivers a send-tab command to targetDeviceID.
	SendSingleTab(ctx context.Context, targetDeviceID, title, url string) error

	// GetAccessToken returns a cached or freshly minted token for scope.
	GetAccessToken(ctx context.Context, scope string) (*AccessTokenInfo, error)
	// ClearAccessTokenCache drops all cached access tokens.
	ClearAccessTokenCache(ctx context.Context) error
	// CheckAuthorizationStatus asks the server whether cached credentials
	// are still considered valid.
	CheckAuthorizationStatus(ctx context.Context) (*AuthorizationStatus, error)

	// Disconnect tears down the account server-side (device record,
	// refresh token). Best-effort from the caller's perspective.
	Disconnect(ctx context.Context) error

	// RegisterPersistCallback installs the hook invoked after a mutation
	// changes persisted state. Exactly one callback is live at a time.
	RegisterPersistCallback(cb PersistCallback)

	// ToJSON serializes internal state to an opaque string.
	ToJSON() (string, error)

	// Close releases any resources held by the handle. Called when the
	// handle is replaced or the manager is torn down.
	Close() error
}

// Constructor builds a fresh Handle from its construction parameters.
// Implemented per-backend; the interface only names the shape because Go
// has no static "constructor" requirement on an interface.
type Constructor func(ctx context.Context, contentURL, clientID, redirectURI string) (Handle, error)

// Deserializer restores a Handle from a previously serialized blob.
type Deserializer func(ctx context.Context, contentURL, clientID, redirectURI, blob string) (Handle, error)
