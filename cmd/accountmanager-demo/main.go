// Command accountmanager-demo wires a Manager to an in-memory account
// handle and a local secret store, exposes a redirect-capture HTTP
// endpoint standing in for the embedding UI, and serves Prometheus
// metrics. It exists to exercise the library end to end, not as a
// production Firefox Accounts client.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"

	"github.com/mozilla-mobile/account-manager-go/accountmanager"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation/push"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation/push/wsrelay"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
	fxamemory "github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient/memory"
	"github.com/mozilla-mobile/account-manager-go/accountmanager/secretstore/filestore"
)

// peerDeviceID is the push-relay routing name given to the simulated
// second device. It is a transport address for the relay only, distinct
// from whatever device id the peer's own Handle assigns itself.
const peerDeviceID = "peer-device"

// accountLogger logs account-lifecycle notifications and, once the
// primary account authenticates, lazily brings up the simulated peer
// device so the push-relay path (see setupPushRelay) has a second,
// authenticated Manager to deliver into.
type accountLogger struct {
	peer     *accountmanager.Manager
	peerOnce *sync.Once
}

func (accountLogger) OnLoggedOut() { log.Printf("demo: logged out") }
func (accountLogger) OnAuthenticationProblems() { log.Printf("demo: authentication problems") }
func (l accountLogger) OnAuthenticated(authType fxaclient.AuthType) {
	log.Printf("demo: authenticated (%s)", authType)
	if l.peer == nil {
		return
	}
	l.peerOnce.Do(func() {
		go func() {
			// The primary's persist callback writes the shared secret
			// store asynchronously (persist.go); give it a moment to
			// land before the peer reads the same store back. Demo-only
			// simplification — the library itself exposes no
			// persist-completion signal to wait on instead.
			time.Sleep(200 * time.Millisecond)
			if err := l.peer.Initialize(); err != nil {
				log.Printf("demo: peer initialize: %v", err)
			}
		}()
	})
}
func (accountLogger) OnProfileUpdated(p fxaclient.Profile) {
	log.Printf("demo: profile updated: %s <%s>", p.UID, p.Email)
}

type deviceEventLogger struct{ label string }

func (l deviceEventLogger) OnEvents(events []fxaclient.DeviceEvent) {
	for _, e := range events {
		if e.TabReceived != nil {
			for _, entry := range e.TabReceived.Entries {
				log.Printf("demo: %s: tab received: %s (%s)", l.label, entry.Title, entry.URL)
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "./accountmanager.conf", "path to the manager config file")
	secretPath := flag.String("secret-file", "./account.secret", "path to the encrypted local secret store")
	secretKeyHex := flag.String("secret-key", "", "32-byte hex-encoded key for the local secret store")
	addr := flag.String("listen", ":6080", "address to serve the redirect-capture endpoint and metrics on")
	flag.Parse()

	handleConfig, deviceConfig, err := accountmanager.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("demo: load config: %v", err)
	}

	keyBytes, err := hex.DecodeString(*secretKeyHex)
	if err != nil || len(keyBytes) != 32 {
		log.Fatalf("demo: -secret-key must be 32 bytes hex-encoded")
	}
	var key [32]byte
	copy(key[:], keyBytes)
	store := filestore.Open(*secretPath, key)

	manager, err := accountmanager.New(handleConfig, deviceConfig, fxamemory.New, fxamemory.FromJSON, store)
	if err != nil {
		log.Fatalf("demo: construct manager: %v", err)
	}
	defer manager.Close()

	// peerManager simulates a second device signed into the same
	// account: it shares the primary's secret store, so once the
	// primary authenticates and persists, the peer's own cold-start
	// restores the same credentials and reaches its own authenticated
	// state with its own constellation (see accountLogger above).
	peerDeviceConfig := deviceConfig
	peerDeviceConfig.Name = "demo peer device"
	peerManager, err := accountmanager.New(handleConfig, peerDeviceConfig, fxamemory.New, fxamemory.FromJSON, store)
	if err != nil {
		log.Fatalf("demo: construct peer manager: %v", err)
	}
	defer peerManager.Close()
	peerManager.RegisterForDeviceEvents(deviceEventLogger{label: "peer"})

	manager.Register(accountLogger{peer: peerManager, peerOnce: &sync.Once{}})
	manager.RegisterForDeviceEvents(deviceEventLogger{label: "primary"})

	if err := manager.Initialize(); err != nil {
		log.Fatalf("demo: initialize: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", manager.Metrics())
	setupPushRelay(mux, manager, peerManager, *addr)
	mux.HandleFunc("/oauth/redirect", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code, state, action := q.Get("code"), q.Get("state"), q.Get("action")
		if code == "" || state == "" {
			http.Error(w, "missing code or state", http.StatusBadRequest)
			return
		}
		authData := fxaclient.AuthData{Code: code, State: state, AuthType: accountmanager.DeriveAuthType(action)}
		if err := manager.FinishAuthentication(authData); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("authentication in progress\n"))
	})
	mux.HandleFunc("/oauth/begin", func(w http.ResponseWriter, r *http.Request) {
		u, err := manager.BeginAuthentication(r.Context(), []string{"profile", "https://identity.mozilla.com/apps/oldsync"}, "accountmanager-demo")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		manager.Logout()
		w.WriteHeader(http.StatusOK)
	})

	logged := handlers.LoggingHandler(os.Stdout, mux)
	log.Printf("demo: listening on %s", *addr)
	if err := http.ListenAndServe(*addr, logged); err != nil {
		log.Fatalf("demo: serve: %v", err)
	}
}

// setupPushRelay registers a wsrelay.Handler as the push transport and
// wires it end to end: /devices/peer/send-tab drives primary's outgoing
// send-tab command and then hands the production push service's job of
// notifying the target device to push.Send (spec.md lists "scheduling
// push delivery" as a Non-goal of the Manager itself, so this lives here
// rather than in accountmanager/constellation); /relay/peer is the
// websocket endpoint the simulated peer device's push listener attaches
// to, and the dial loop below plays that listener, decoding delivered
// payloads straight into peer's own Constellation.ProcessRawIncomingDeviceEvent.
func setupPushRelay(mux *http.ServeMux, primary, peer *accountmanager.Manager, addr string) {
	relay := wsrelay.New()
	push.Register("wsrelay", relay)
	if err := push.Init(`[{"name":"wsrelay","config":{"enabled":true}}]`); err != nil {
		log.Fatalf("demo: push init: %v", err)
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux.HandleFunc("/relay/peer", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("demo: relay upgrade failed: %v", err)
			return
		}
		relay.Attach(peerDeviceID, conn)
		log.Printf("demo: peer relay connection attached")
	})

	mux.HandleFunc("/devices/peer/send-tab", func(w http.ResponseWriter, r *http.Request) {
		c := primary.DeviceConstellation()
		if c == nil {
			http.Error(w, "account not authenticated", http.StatusConflict)
			return
		}
		title, url := r.URL.Query().Get("title"), r.URL.Query().Get("url")
		c.SendEventToDevice(peerDeviceID, constellation.OutgoingEvent{
			SendTab: &constellation.SendTabCommand{Title: title, URL: url},
		})

		payload, err := json.Marshal([]fxaclient.DeviceEvent{{
			TabReceived: &fxaclient.TabReceivedEvent{Entries: []fxaclient.TabEntry{{Title: title, URL: url}}},
		}})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		push.Send(push.Receipt{TargetDeviceID: peerDeviceID, RawPayload: string(payload)})
		w.WriteHeader(http.StatusAccepted)
	})

	dialAddr := addr
	if strings.HasPrefix(dialAddr, ":") {
		dialAddr = "127.0.0.1" + dialAddr
	}
	go func() {
		var conn *websocket.Conn
		var err error
		for i := 0; i < 50; i++ {
			conn, _, err = websocket.DefaultDialer.Dial("ws://"+dialAddr+"/relay/peer", nil)
			if err == nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if err != nil {
			log.Printf("demo: peer relay dial failed: %v", err)
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("demo: peer relay connection closed: %v", err)
				return
			}
			if c := peer.DeviceConstellation(); c != nil {
				c.ProcessRawIncomingDeviceEvent(string(msg))
			} else {
				log.Printf("demo: peer relay: dropped payload, peer not yet authenticated")
			}
		}
	}()
}
