package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventRejectsMismatchedPayload(t *testing.T) {
	_, err := NewEvent(EventUserOnline, MessageEvent{})
	assert.Error(t, err)

	_, err = NewEvent(EventKind(999), PresenceEvent{})
	assert.Error(t, err)

	evt, err := NewEvent(EventUserOnline, PresenceEvent{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, EventUserOnline, evt.Kind)
}

func TestEveryEventKindHasAName(t *testing.T) {
	for k := EventReceiveMessage; k <= EventError; k++ {
		_, ok := eventNames[k]
		assert.True(t, ok, "kind %d has no wire name", int(k))
	}
}

func TestEventWireFormat(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := MustEvent(EventReceiveOneTimeMessage, MessageEvent{
		EnvelopeID: "env-1",
		SenderID:   "alice",
		Image:      []byte{1, 2, 3},
		OneTime:    true,
		CreatedAt:  created,
	})

	b, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event":"ReceiveOneTimeMessage"`)

	decoded, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, EventReceiveOneTimeMessage, decoded.Kind)

	msg, ok := decoded.Data.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "env-1", msg.EnvelopeID)
	assert.Equal(t, []byte{1, 2, 3}, msg.Image)
	assert.True(t, created.Equal(msg.CreatedAt))
}

func TestDecodeEventUnknownKind(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"SomethingElse","data":{}}`))
	assert.Error(t, err)
}

func TestEnvelopeValidate(t *testing.T) {
	env := &Envelope{ID: "1", SenderID: "a", ReceiverID: "b", Kind: KindMessage, Message: &EmbeddedMessage{}}
	assert.NoError(t, env.Validate())

	env.File = &FilePayload{}
	assert.Error(t, env.Validate())

	env = &Envelope{ID: "1", SenderID: "a", ReceiverID: "b", Kind: KindFile}
	assert.Error(t, env.Validate())
}
