// Package pubsub decodes Pub/Sub push deliveries.
package pubsub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoMessage   = errors.New("invalid Pub/Sub message format")
	ErrNoData      = errors.New("no data in Pub/Sub message")
	ErrInvalidData = errors.New("invalid message data")
)

type Message struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
	Attributes  map[string]string `json:"attributes"`
}

// PushEnvelope is the body a push subscription POSTs.
type PushEnvelope struct {
	Message      *Message `json:"message"`
	Subscription string   `json:"subscription"`
}

func (e PushEnvelope) MessageID() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.MessageID
}

// Decode unmarshals the base64 JSON payload into dst.
func (e PushEnvelope) Decode(dst any) error {
	if e.Message == nil {
		return ErrNoMessage
	}
	if strings.TrimSpace(e.Message.Data) == "" {
		return ErrNoData
	}
	raw, err := base64.StdEncoding.DecodeString(e.Message.Data)
	if err != nil {
		return fmt.Errorf("%w: not base64: %v", ErrInvalidData, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidData, err)
	}
	return nil
}

// Encode builds an envelope around payload, as a push subscription would.
func Encode(messageID string, payload any) (PushEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PushEnvelope{}, err
	}
	return PushEnvelope{
		Message: &Message{
			Data:      base64.StdEncoding.EncodeToString(raw),
			MessageID: messageID,
		},
	}, nil
}
