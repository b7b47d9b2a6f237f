// Package constellation implements the device constellation: the cache
// of local and remote devices bound to one account handle, plus ingest
// of incoming device events and dispatch of outgoing ones (spec.md
// §4.3). A Constellation is created whenever an authenticated handle
// exists and is replaced — never mutated across accounts — whenever the
// handle is replaced.
package constellation

import (
	"context"
	"log"
	"sync"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
)

// GateSubmitter runs fn on the owning Manager's serialization gate and
// blocks until it completes. Constellation never talks to the handle
// off this lane, except where the spec explicitly allows it (see
// SetDevicePushSubscription).
type GateSubmitter interface {
	Submit(fn func(ctx context.Context))
}

// Dispatcher runs fn on the UI-facing context, never on the gate.
type Dispatcher interface {
	Dispatch(fn func())
}

// State is the cached snapshot of the account's devices. Source of
// truth is always the server, reached through the handle; State is a
// cache only and is nil before the first RefreshState.
type State struct {
	LocalDevice   *fxaclient.Device
	RemoteDevices []fxaclient.Device
}

// Observer receives state-cache updates.
type Observer interface {
	OnStateUpdate(state State)
}

// EventsObserver receives incoming device-event batches.
type EventsObserver interface {
	OnEvents(events []fxaclient.DeviceEvent)
}

// OutgoingEvent is the tagged variant of commands Constellation can send
// to another device. Only SendTab exists today; the variant is
// extensible per spec.md §3.
type OutgoingEvent struct {
	SendTab *SendTabCommand
}

// SendTabCommand delivers a title/URL pair to another device.
type SendTabCommand struct {
	Title string
	URL   string
}

// Constellation is bound to exactly one account handle.
type Constellation struct {
	handle fxaclient.Handle
	gate   GateSubmitter
	ui     Dispatcher

	mu    sync.RWMutex
	state *State

	obsMu          sync.RWMutex
	deviceObserver Observer
	eventsObserver EventsObserver
}

// New binds a Constellation to handle. Callers obtain one only through
// accountmanager.Manager, which owns the handle lifecycle.
func New(handle fxaclient.Handle, gate GateSubmitter, ui Dispatcher) *Constellation {
	return &Constellation{handle: handle, gate: gate, ui: ui}
}

// State returns the cached snapshot, or nil before the first refresh.
func (c *Constellation) State() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RegisterDeviceObserver installs the single device-state observer slot.
func (c *Constellation) RegisterDeviceObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.deviceObserver = o
}

// RegisterDeviceEventsObserver installs the single device-events observer slot.
func (c *Constellation) RegisterDeviceEventsObserver(o EventsObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.eventsObserver = o
}

// RefreshState fetches devices on the gate, partitions them into the
// local device and the remote set, and notifies the device observer on
// the UI context.
func (c *Constellation) RefreshState() {
	c.gate.Submit(func(ctx context.Context) {
		c.refreshStateLocked(ctx)
	})
}

// refreshStateLocked performs the refresh inline; callers must already be
// running on the gate (the state machine's post-authentication hook
// calls this directly rather than re-entering Submit).
func (c *Constellation) refreshStateLocked(ctx context.Context) {
	devices, err := c.handle.FetchDevices(ctx)
	if err != nil {
		log.Printf("constellation: fetch devices failed: %v", err)
		return
	}

	var local *fxaclient.Device
	var remote []fxaclient.Device
	for i := range devices {
		d := devices[i]
		if d.IsCurrentDevice {
			dCopy := d
			local = &dCopy
		} else {
			remote = append(remote, d)
		}
	}
	if local != nil && local.SubscriptionExpired {
		log.Printf("constellation: local device %s push subscription expired", local.ID)
	}

	newState := State{LocalDevice: local, RemoteDevices: remote}

	c.mu.Lock()
	c.state = &newState
	c.mu.Unlock()

	c.notifyStateUpdate(newState)
}

func (c *Constellation) notifyStateUpdate(state State) {
	c.obsMu.RLock()
	obs := c.deviceObserver
	c.obsMu.RUnlock()
	if obs == nil {
		return
	}
	c.ui.Dispatch(func() { obs.OnStateUpdate(state) })
}

// SetLocalDeviceName updates the display name via the handle, then
// triggers a state refresh so the cache reflects the change.
func (c *Constellation) SetLocalDeviceName(name string) {
	c.gate.Submit(func(ctx context.Context) {
		if err := c.handle.SetDeviceName(ctx, name); err != nil {
			log.Printf("constellation: set device name failed: %v", err)
			return
		}
		c.refreshStateLocked(ctx)
	})
}

// PollForEvents polls for pending device commands and routes any
// resulting events to the events observer.
func (c *Constellation) PollForEvents() {
	c.gate.Submit(c.pollForEventsLocked)
}

func (c *Constellation) pollForEventsLocked(ctx context.Context) {
	events, err := c.handle.PollDeviceCommands(ctx)
	if err != nil {
		log.Printf("constellation: poll for events failed: %v", err)
		return
	}
	c.routeEvents(events)
}

// RefreshStateOnGate and PollForEventsOnGate are the reentrant forms of
// RefreshState/PollForEvents for callers that are already running on the
// gate — namely the Manager's post-authentication hook (spec.md §4.1).
// Calling RefreshState/PollForEvents from such a caller would deadlock:
// the gate is a single goroutine, so Submit would block forever waiting
// for itself to become free.
func (c *Constellation) RefreshStateOnGate(ctx context.Context) { c.refreshStateLocked(ctx) }
func (c *Constellation) PollForEventsOnGate(ctx context.Context) { c.pollForEventsLocked(ctx) }

// ProcessRawIncomingDeviceEvent hands an opaque push payload to the
// handle for decryption/parsing and routes the resulting events.
func (c *Constellation) ProcessRawIncomingDeviceEvent(rawPayload string) {
	c.gate.Submit(func(ctx context.Context) {
		events, err := c.handle.HandlePushMessage(ctx, rawPayload)
		if err != nil {
			log.Printf("constellation: handle push message failed: %v", err)
			return
		}
		c.routeEvents(events)
	})
}

func (c *Constellation) routeEvents(events []fxaclient.DeviceEvent) {
	if len(events) == 0 {
		return
	}
	c.obsMu.RLock()
	obs := c.eventsObserver
	c.obsMu.RUnlock()
	if obs == nil {
		return
	}
	c.ui.Dispatch(func() { obs.OnEvents(events) })
}

// SendEventToDevice dispatches an outgoing event by variant.
func (c *Constellation) SendEventToDevice(targetDeviceID string, event OutgoingEvent) {
	c.gate.Submit(func(ctx context.Context) {
		switch {
		case event.SendTab != nil:
			if err := c.handle.SendSingleTab(ctx, targetDeviceID, event.SendTab.Title, event.SendTab.URL); err != nil {
				log.Printf("constellation: send tab to %s failed: %v", targetDeviceID, err)
			}
		default:
			log.Printf("constellation: send event to %s: unrecognized outgoing event variant", targetDeviceID)
		}
	})
}

// SetDevicePushSubscription forwards sub to the handle. Per spec.md §9's
// open question, this runs inline rather than on the gate: it is a
// single cheap round-trip with no downstream fan-out. If the handle's
// implementation of this call is ever non-trivial, move it onto the gate.
func (c *Constellation) SetDevicePushSubscription(ctx context.Context, sub fxaclient.DevicePushSubscription) error {
	return c.handle.SetDevicePushSubscription(ctx, sub)
}

// InitDevice creates this device's record. Internal: invoked by the
// state machine on behalf of the Manager. The caller must already be
// running on the gate.
func (c *Constellation) InitDevice(ctx context.Context, name string, typ fxaclient.DeviceType, capabilities []fxaclient.Capability, lang string) error {
	return c.handle.InitializeDevice(ctx, name, typ, capabilities, lang)
}

// EnsureCapabilities makes sure this device's record advertises
// capabilities and lang without recreating it. Internal, same gate
// requirement as InitDevice.
func (c *Constellation) EnsureCapabilities(ctx context.Context, capabilities []fxaclient.Capability, lang string) error {
	return c.handle.EnsureCapabilities(ctx, capabilities, lang)
}
