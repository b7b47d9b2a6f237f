// Package wsrelay implements push.Handler over a long-lived websocket
// connection per device, for the demo harness's simulated device-to-
// device relay (no production push service involved).
package wsrelay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation/push"
)

type configType struct {
	Enabled bool `json:"enabled"`
}

// Handler keeps one websocket connection per device id, registered via
// Attach, and forwards raw payloads to the matching connection.
type Handler struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
	ready bool
}

func New() *Handler {
	return &Handler{conns: make(map[string]*websocket.Conn)}
}

func (h *Handler) Init(jsonconf string) error {
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return fmt.Errorf("wsrelay: failed to parse config: %w", err)
	}
	h.ready = config.Enabled
	return nil
}

func (h *Handler) IsReady() bool { return h.ready }

// Attach registers conn as the relay target for deviceID, replacing any
// previous connection for that device.
func (h *Handler) Attach(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[deviceID] = conn
}

// Detach removes a device's relay connection, e.g. on disconnect.
func (h *Handler) Detach(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, deviceID)
}

func (h *Handler) Send(receipt push.Receipt) error {
	h.mu.RLock()
	conn, ok := h.conns[receipt.TargetDeviceID]
	h.mu.RUnlock()
	if !ok {
		return errors.New("wsrelay: no connection for device " + receipt.TargetDeviceID)
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(receipt.RawPayload))
}

func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
	h.ready = false
}
