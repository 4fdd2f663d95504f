package models

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound events, server to client.
const (
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventUserStatusChanged = "user_status_changed"
	EventError             = "error"
)

// Outbound events, client to server.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
)

// Envelope is the frame exchanged over the websocket: an event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope wraps payload under event and returns the frame bytes.
func EncodeEnvelope(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return sonic.Marshal(env)
}

// DecodeEnvelope parses a frame. Frames without an event name are rejected.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s: empty payload", e.Event)
	}
	if err := sonic.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("event %s: %w", e.Event, err)
	}
	return nil
}

type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

type StatusEvent struct {
	UserID string     `json:"userId"`
	Status UserStatus `json:"status"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Attachments    []string    `json:"attachments"`
	ClientID       string      `json:"clientId,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}
