// Package fcm implements push.Handler over Firebase Cloud Messaging,
// mirroring the teacher's server/push/fcm adapter.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation/push"
)

type configType struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentials_file"`
}

// Handler delivers raw device-event payloads as FCM "data" messages.
type Handler struct {
	client *messaging.Client
	ready  bool
}

func (h *Handler) Init(jsonconf string) error {
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return fmt.Errorf("fcm: failed to parse config: %w", err)
	}
	if !config.Enabled {
		return nil
	}

	app, err := firebase.NewApp(context.Background(), nil, option.WithCredentialsFile(config.CredentialsFile))
	if err != nil {
		return fmt.Errorf("fcm: init firebase app: %w", err)
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		return fmt.Errorf("fcm: init messaging client: %w", err)
	}
	h.client = client
	h.ready = true
	return nil
}

func (h *Handler) IsReady() bool { return h.ready }

func (h *Handler) Send(receipt push.Receipt) error {
	if !h.ready {
		return errors.New("fcm: handler not ready")
	}
	_, err := h.client.Send(context.Background(), &messaging.Message{
		Token: receipt.TargetDeviceID,
		Data:  map[string]string{"payload": receipt.RawPayload},
	})
	return err
}

func (h *Handler) Stop() { h.ready = false }
