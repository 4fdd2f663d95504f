package services

import (
	"context"
	"errors"
	"strings"

	"ledger-chat/internal/models"
)

var ErrEmptyContent = errors.New("message content is empty")

type ChatService struct {
	store Store
}

func NewChatService(store Store) *ChatService {
	return &ChatService{store: store}
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.store.ConversationsOf(ctx, userID)
}

func (s *ChatService) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	return s.store.Conversation(ctx, id)
}

// GetOrCreateDirect returns the direct conversation between the two users.
func (s *ChatService) GetOrCreateDirect(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if otherID == "" || otherID == userID {
		return models.Conversation{}, false, errors.New("a different participant is required")
	}
	return s.store.DirectBetween(ctx, userID, otherID)
}

func (s *ChatService) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	return s.store.CreateGroup(ctx, name, memberIDs)
}

// CanAccess reports whether userID may read and write conversationID.
func (s *ChatService) CanAccess(ctx context.Context, conversationID, userID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// SendMessage stores a message from senderID after checking membership.
func (s *ChatService) SendMessage(ctx context.Context, senderID string, p models.SendMessagePayload) (models.Message, error) {
	if strings.TrimSpace(p.Content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	if err := s.CanAccess(ctx, p.ConversationID, senderID); err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ConversationID: p.ConversationID,
		SenderID:       senderID,
		Content:        p.Content,
		Type:           p.Type,
		Attachments:    p.Attachments,
		ClientID:       p.ClientID,
	}
	if err := s.store.SaveMessage(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// History returns one page of messages for a participant.
func (s *ChatService) History(ctx context.Context, conversationID, userID string, page, limit int) (models.MessagePage, error) {
	if err := s.CanAccess(ctx, conversationID, userID); err != nil {
		return models.MessagePage{}, err
	}
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	msgs, total, err := s.store.Messages(ctx, conversationID, page, limit)
	if err != nil {
		return models.MessagePage{}, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return models.MessagePage{
		Messages: msgs,
		Pagination: models.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// Participants returns the user ids of a conversation.
func (s *ChatService) Participants(ctx context.Context, conversationID string) ([]string, error) {
	c, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}
