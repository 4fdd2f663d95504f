package models

import (
	"time"

	"github.com/bytedance/sonic"
)

type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
	MessageBill  MessageType = "BILL"
)

// Message is a server-confirmed chat message. IDs are assigned by the backend.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Attachments    []string    `json:"attachments,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Sender         *User       `json:"sender,omitempty"`
	// ClientID echoes the correlation id of the send that produced this message, when the backend supports it.
	ClientID string `json:"clientId,omitempty"`
}

// UnmarshalJSON accepts either a full message object or a bare string.
// Conversation listings sometimes carry lastMessage as its text only.
func (m *Message) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var content string
		if err := sonic.Unmarshal(data, &content); err != nil {
			return err
		}
		*m = Message{Content: content, Type: MessageText}
		return nil
	}

	type plain Message
	var p plain
	if err := sonic.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	return nil
}

// SenderName returns the sender's display name, or fallback when the sender was not embedded.
func (m Message) SenderName(fallback string) string {
	if m.Sender != nil {
		if n := m.Sender.DisplayName(); n != "" {
			return n
		}
	}
	return fallback
}

// MessagePage is one page of conversation history returned by the fetch collaborator.
type MessagePage struct {
	Messages   []Message  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
