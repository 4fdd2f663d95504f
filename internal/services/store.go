package services

import (
	"context"
	"errors"

	"ledger-chat/internal/models"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrNotFound           = errors.New("not found")
	ErrNotParticipant     = errors.New("not a participant in this conversation")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store persists the relay's users, conversations and messages.
type Store interface {
	CreateUser(ctx context.Context, user models.User, passwordHash string) (models.User, error)
	// UserByUsername returns the user and its password hash.
	UserByUsername(ctx context.Context, username string) (models.User, string, error)
	User(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// ConversationsOf lists the conversations userID takes part in, with participants
	// and last message filled in.
	ConversationsOf(ctx context.Context, userID string) ([]models.Conversation, error)
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	// DirectBetween returns the direct conversation of the two users, creating it if
	// needed. created reports whether it is new.
	DirectBetween(ctx context.Context, userID, otherID string) (conv models.Conversation, created bool, err error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// SaveMessage assigns ID and CreatedAt and records the message as the
	// conversation's latest activity.
	SaveMessage(ctx context.Context, msg *models.Message) error
	// Messages returns page (1-based) of the conversation's history, oldest first
	// within the page, newest page first, plus the total count.
	Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, int, error)

	Close()
}
