// Package snsgw implements push.Handler over AWS SNS direct-to-endpoint
// publishing, an alternate transport mirroring the teacher's
// server/push/tnpg gateway-relay adapter.
package snsgw

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/constellation/push"
)

type configType struct {
	Enabled bool   `json:"enabled"`
	Region  string `json:"region"`
}

// Handler publishes raw device-event payloads as SNS messages targeted
// at a per-device endpoint ARN (TargetDeviceID holds the ARN).
type Handler struct {
	client *sns.SNS
	ready  bool
}

func (h *Handler) Init(jsonconf string) error {
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return fmt.Errorf("snsgw: failed to parse config: %w", err)
	}
	if !config.Enabled {
		return nil
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(config.Region)})
	if err != nil {
		return fmt.Errorf("snsgw: session: %w", err)
	}
	h.client = sns.New(sess)
	h.ready = true
	return nil
}

func (h *Handler) IsReady() bool { return h.ready }

func (h *Handler) Send(receipt push.Receipt) error {
	if !h.ready {
		return errors.New("snsgw: handler not ready")
	}
	_, err := h.client.Publish(&sns.PublishInput{
		TargetArn: aws.String(receipt.TargetDeviceID),
		Message:   aws.String(receipt.RawPayload),
	})
	return err
}

func (h *Handler) Stop() { h.ready = false }
