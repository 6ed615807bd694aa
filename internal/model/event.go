package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates every event the server pushes over the live channel.
type EventKind int

const (
	EventReceiveMessage EventKind = iota + 1
	EventReceiveGroupMessage
	EventReceivePendingMessage
	EventReceiveOneTimeMessage
	EventReceiveOneTimePendingMessage
	EventReceiveFile
	EventReceivePendingFile
	EventUserOnline
	EventUserOffline
	EventReceiveOnlineContacts
	EventReceiveFriendRequest
	EventConfirmFriendRequest
	EventRejectFriendRequest
	EventUserBlocked
	EventUserUnblocked
	EventMessageOpened
	EventError
)

var eventNames = map[EventKind]string{
	EventReceiveMessage:               "ReceiveMessage",
	EventReceiveGroupMessage:          "ReceiveGroupMessage",
	EventReceivePendingMessage:        "ReceivePendingMessage",
	EventReceiveOneTimeMessage:        "ReceiveOneTimeMessage",
	EventReceiveOneTimePendingMessage: "ReceiveOneTimePendingMessage",
	EventReceiveFile:                  "ReceiveFile",
	EventReceivePendingFile:           "ReceivePendingFile",
	EventUserOnline:                   "UserOnline",
	EventUserOffline:                  "UserOffline",
	EventReceiveOnlineContacts:        "ReceiveOnlineContacts",
	EventReceiveFriendRequest:         "ReceiveFriendRequest",
	EventConfirmFriendRequest:         "ConfirmFriendRequest",
	EventRejectFriendRequest:          "RejectFriendRequest",
	EventUserBlocked:                  "UserBlocked",
	EventUserUnblocked:                "UserUnblocked",
	EventMessageOpened:                "MessageOpened",
	EventError:                        "Error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	name, ok := eventNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(name), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(text))
}

type (
	MessageEvent struct {
		EnvelopeID string    `json:"envelope_id,omitempty"`
		SenderID   string    `json:"sender_id"`
		ChatID     string    `json:"chat_id,omitempty"`
		Image      []byte    `json:"image"`
		OneTime    bool      `json:"one_time"`
		CreatedAt  time.Time `json:"created_at"`
	}

	PendingMessagesEvent struct {
		Messages []MessageEvent `json:"messages"`
	}

	FileEvent struct {
		EnvelopeID string       `json:"envelope_id,omitempty"`
		SenderID   string       `json:"sender_id"`
		ChatID     string       `json:"chat_id,omitempty"`
		File       *FilePayload `json:"file"`
		CreatedAt  time.Time    `json:"created_at"`
	}

	PresenceEvent struct {
		UserID string `json:"user_id"`
	}

	OnlineContactsEvent struct {
		UserIDs []string `json:"user_ids"`
	}

	FriendRequestEvent struct {
		UserID        string `json:"user_id"`
		ContactUserID string `json:"contact_user_id"`
	}

	BlockEvent struct {
		UserID        string `json:"user_id"`
		BlockedUserID string `json:"blocked_user_id"`
	}

	OpenedEvent struct {
		EnvelopeID  string    `json:"envelope_id,omitempty"`
		SenderID    string    `json:"sender_id"`
		Plaintext   []byte    `json:"plaintext"`
		FileName    string    `json:"file_name,omitempty"`
		ContentType string    `json:"content_type,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}

	ErrorEvent struct {
		Command string `json:"command,omitempty"`
		Message string `json:"message"`
	}

	// Event is one outbound frame on the live channel.
	Event struct {
		Kind EventKind `json:"event"`
		Data any       `json:"data"`
	}
)

// NewEvent builds an event after checking that data is the payload type
// registered for kind.
func NewEvent(kind EventKind, data any) (Event, error) {
	var ok bool
	switch kind {
	case EventReceiveMessage, EventReceiveGroupMessage, EventReceiveOneTimeMessage,
		EventReceiveOneTimePendingMessage:
		_, ok = data.(MessageEvent)
	case EventReceivePendingMessage:
		_, ok = data.(PendingMessagesEvent)
	case EventReceiveFile, EventReceivePendingFile:
		_, ok = data.(FileEvent)
	case EventUserOnline, EventUserOffline:
		_, ok = data.(PresenceEvent)
	case EventReceiveOnlineContacts:
		_, ok = data.(OnlineContactsEvent)
	case EventReceiveFriendRequest, EventConfirmFriendRequest, EventRejectFriendRequest:
		_, ok = data.(FriendRequestEvent)
	case EventUserBlocked, EventUserUnblocked:
		_, ok = data.(BlockEvent)
	case EventMessageOpened:
		_, ok = data.(OpenedEvent)
	case EventError:
		_, ok = data.(ErrorEvent)
	default:
		return Event{}, fmt.Errorf("unknown event kind %d", int(kind))
	}
	if !ok {
		return Event{}, fmt.Errorf("event %s: unexpected payload %T", kind, data)
	}
	return Event{Kind: kind, Data: data}, nil
}

// MustEvent is NewEvent for call sites whose payload type is fixed at
// compile time.
func MustEvent(kind EventKind, data any) Event {
	evt, err := NewEvent(kind, data)
	if err != nil {
		panic(err)
	}
	return evt
}

// CommandKind enumerates the frames a client may send.
type CommandKind string

const (
	CommandSend          CommandKind = "send"
	CommandSendGroup     CommandKind = "send_group"
	CommandSendFile      CommandKind = "send_file"
	CommandOpen          CommandKind = "open"
	CommandOpenFile      CommandKind = "open_file"
	CommandAck           CommandKind = "ack"
	CommandFriendRequest CommandKind = "friend_request"
	CommandFriendConfirm CommandKind = "friend_confirm"
	CommandFriendReject  CommandKind = "friend_reject"
	CommandBlock         CommandKind = "block"
	CommandUnblock       CommandKind = "unblock"
)

type (
	// Command is one inbound frame. Fields are interpreted per Kind.
	Command struct {
		Kind        CommandKind  `json:"command"`
		To          string       `json:"to,omitempty"`
		ChatID      string       `json:"chat_id,omitempty"`
		Text        string       `json:"text,omitempty"`
		Carrier     []byte       `json:"carrier,omitempty"`
		OneTime     bool         `json:"one_time,omitempty"`
		EnvelopeID  string       `json:"envelope_id,omitempty"`
		Image       []byte       `json:"image,omitempty"`
		File        *FilePayload `json:"file,omitempty"`
		FileName    string       `json:"file_name,omitempty"`
		ContentType string       `json:"content_type,omitempty"`
		Data        []byte       `json:"data,omitempty"`
	}

	// rawEvent mirrors Event for decoding on the client side.
	rawEvent struct {
		Kind EventKind       `json:"event"`
		Data json.RawMessage `json:"data"`
	}
)

// DecodeEvent parses an outbound frame back into a typed Event.
func DecodeEvent(b []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return Event{}, err
	}

	var data any
	switch raw.Kind {
	case EventReceiveMessage, EventReceiveGroupMessage, EventReceiveOneTimeMessage,
		EventReceiveOneTimePendingMessage:
		data = &MessageEvent{}
	case EventReceivePendingMessage:
		data = &PendingMessagesEvent{}
	case EventReceiveFile, EventReceivePendingFile:
		data = &FileEvent{}
	case EventUserOnline, EventUserOffline:
		data = &PresenceEvent{}
	case EventReceiveOnlineContacts:
		data = &OnlineContactsEvent{}
	case EventReceiveFriendRequest, EventConfirmFriendRequest, EventRejectFriendRequest:
		data = &FriendRequestEvent{}
	case EventUserBlocked, EventUserUnblocked:
		data = &BlockEvent{}
	case EventMessageOpened:
		data = &OpenedEvent{}
	case EventError:
		data = &ErrorEvent{}
	default:
		return Event{}, fmt.Errorf("unknown event kind %d", int(raw.Kind))
	}

	if err := json.Unmarshal(raw.Data, data); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", raw.Kind, err)
	}
	return Event{Kind: raw.Kind, Data: derefPayload(data)}, nil
}

func derefPayload(p any) any {
	switch v := p.(type) {
	case *MessageEvent:
		return *v
	case *PendingMessagesEvent:
		return *v
	case *FileEvent:
		return *v
	case *PresenceEvent:
		return *v
	case *OnlineContactsEvent:
		return *v
	case *FriendRequestEvent:
		return *v
	case *BlockEvent:
		return *v
	case *OpenedEvent:
		return *v
	case *ErrorEvent:
		return *v
	}
	return p
}
