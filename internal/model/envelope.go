package model

import (
	"fmt"
	"time"
)

type EnvelopeKind string

const (
	KindMessage EnvelopeKind = "message"
	KindFile    EnvelopeKind = "file"
)

type EnvelopeState string

const (
	StateQueued    EnvelopeState = "queued"
	StateDelivered EnvelopeState = "delivered"
	// StateConsumed is a read one-time envelope. Only a tombstone remains.
	StateConsumed EnvelopeState = "consumed"
)

// Envelope is a queued unit addressed to one receiver. Exactly one of
// Message and File is set, matching Kind.
type Envelope struct {
	ID         string        `json:"id"`
	Kind       EnvelopeKind  `json:"kind"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	ChatID     string        `json:"chat_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	State      EnvelopeState `json:"state"`
	OneTime    bool          `json:"one_time"`

	Message *EmbeddedMessage `json:"message,omitempty"`
	File    *FilePayload     `json:"file,omitempty"`
}

func (e *Envelope) Validate() error {
	if e.ID == "" || e.ReceiverID == "" || e.SenderID == "" {
		return fmt.Errorf("envelope %q: id, sender and receiver are required", e.ID)
	}
	switch e.Kind {
	case KindMessage:
		if e.Message == nil || e.File != nil {
			return fmt.Errorf("envelope %s: message kind needs exactly a message body", e.ID)
		}
	case KindFile:
		if e.File == nil || e.Message != nil {
			return fmt.Errorf("envelope %s: file kind needs exactly a file body", e.ID)
		}
	default:
		return fmt.Errorf("envelope %s: unknown kind %q", e.ID, e.Kind)
	}
	return nil
}

func (e *Envelope) IsGroup() bool {
	return e.ChatID != ""
}
