// Package push contains the pluggable push-transport registry used by
// the demo command to relay opaque payload strings between simulated
// devices. This is deliberately outside accountmanager/constellation:
// the spec treats the push transport as an external collaborator
// (spec.md §1 Out of scope), and scheduling push delivery is a listed
// Non-goal — this package only gives that external collaborator a
// pluggable shape, mirroring the teacher's server/push registry
// (Register/Init/Push/Stop over a Handler interface).
package push

import (
	"encoding/json"
	"errors"
	"log"
)

// Receipt is one push delivery: a target device and an opaque payload
// the receiving Handle will decode via HandlePushMessage.
type Receipt struct {
	// TargetDeviceID names the device the payload is destined for.
	TargetDeviceID string
	// RawPayload is the opaque string handed to Handle.HandlePushMessage.
	RawPayload string
}

// Handler is implemented by a push-transport plugin.
type Handler interface {
	// Init configures the handler from a JSON blob, mirroring the
	// teacher's push.Handler.Init(jsonconf string) shape.
	Init(jsonconf string) error
	// IsReady reports whether Init succeeded.
	IsReady() bool
	// Send delivers receipt, best-effort. Errors are for logging only —
	// push delivery has no synchronous caller waiting on it.
	Send(receipt Receipt) error
	// Stop releases any resources held by the handler.
	Stop()
}

type configEntry struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

var handlers = map[string]Handler{}

// Register adds a named handler. Panics on a duplicate name or a nil
// handler, mirroring the teacher's push.Register.
func Register(name string, h Handler) {
	if h == nil {
		panic("push: Register: handler is nil")
	}
	if _, dup := handlers[name]; dup {
		panic("push: Register: called twice for handler " + name)
	}
	handlers[name] = h
}

// Init configures every registered handler named in jsconfig, a JSON
// array of {name, config} entries.
func Init(jsconfig string) error {
	var entries []configEntry
	if err := json.Unmarshal([]byte(jsconfig), &entries); err != nil {
		return errors.New("push: failed to parse config: " + err.Error())
	}
	for _, e := range entries {
		if h, ok := handlers[e.Name]; ok {
			if err := h.Init(string(e.Config)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Send delivers receipt through every ready handler.
func Send(receipt Receipt) {
	for name, h := range handlers {
		if !h.IsReady() {
			continue
		}
		if err := h.Send(receipt); err != nil {
			log.Printf("push: %s: send failed: %v", name, err)
		}
	}
}

// Stop shuts down every ready handler.
func Stop() {
	for _, h := range handlers {
		if h.IsReady() {
			h.Stop()
		}
	}
}
