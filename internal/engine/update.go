package engine

import (
	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
	"ledger-chat/internal/outbound"
)

type UpdateKind int

const (
	UpdateConnection UpdateKind = iota
	UpdateRoster
	UpdateMessages
	UpdateTyping
	UpdateStatus
	UpdateError
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateConnection:
		return "connection"
	case UpdateRoster:
		return "roster"
	case UpdateMessages:
		return "messages"
	case UpdateTyping:
		return "typing"
	case UpdateStatus:
		return "status"
	default:
		return "error"
	}
}

// Update tells the UI layer that some derived state changed.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	UserID         string
	State          conn.State
	Reason         string
	Err            error
	// Fatal marks errors after which live updates have stopped.
	Fatal bool
}

// View is a consistent snapshot of everything the UI renders.
type View struct {
	SelfID        string
	State         conn.State
	Conversations []models.Conversation
	Active        string
	// Loaded is false while the active conversation's history has not arrived.
	Loaded      bool
	Messages    []models.Message
	Typing      string
	TotalUnread int
	Draft       string
	Pending     []outbound.PendingSend
	Statuses    map[string]models.UserStatus
	LastError   error
}

// Conversation returns the active conversation from the snapshot.
func (v View) Conversation() (models.Conversation, bool) {
	for _, c := range v.Conversations {
		if c.ID == v.Active {
			return c, true
		}
	}
	return models.Conversation{}, false
}
