package models

import (
	"strings"
	"time"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "DIRECT"
	ConversationGroup  ConversationKind = "GROUP"
)

type Participant struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	JoinedAt       time.Time `json:"joinedAt"`
	User           User      `json:"user"`
}

type Conversation struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"type"`
	Name          string           `json:"name,omitempty"`
	Avatar        string           `json:"avatar,omitempty"`
	LastMessage   *Message         `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time       `json:"lastMessageAt,omitempty"`
	UnreadCount   int              `json:"unreadCount"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Participants  []Participant    `json:"participants,omitempty"`
	Messages      []Message        `json:"messages,omitempty"`
}

// LastActivityAt is the timestamp the roster orders by.
func (c Conversation) LastActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Other returns the first participant that is not selfID.
func (c Conversation) Other(selfID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant looks up a participant by user id.
func (c Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c Conversation) DisplayName(selfID string) string {
	if c.Kind == ConversationGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group Chat"
	}
	if p, ok := c.Other(selfID); ok {
		if n := p.User.DisplayName(); n != "" {
			return n
		}
	}
	return "Unknown"
}

func (c Conversation) AvatarURL(selfID string) string {
	if c.Kind == ConversationGroup {
		return c.Avatar
	}
	if p, ok := c.Other(selfID); ok {
		return p.User.Avatar
	}
	return ""
}

// Preview is the one-line summary shown in conversation lists.
func (c Conversation) Preview() string {
	if c.LastMessage == nil {
		return "No messages yet"
	}
	return strings.TrimSpace(c.LastMessage.Content)
}

type CreateDirectRequest struct {
	ParticipantID string `json:"participantId"`
}
