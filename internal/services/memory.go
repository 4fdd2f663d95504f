package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger-chat/internal/models"
)

type memUser struct {
	user models.User
	hash string
}

// MemoryStore keeps everything in process memory. It backs the relay when no
// database is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]memUser
	byName        map[string]string
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]memUser),
		byName:        make(map[string]string),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user models.User, passwordHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[user.Username]; ok {
		return models.User{}, ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = s.now().UTC()
	s.users[user.ID] = memUser{user: user, hash: passwordHash}
	s.byName[user.Username] = user.ID
	return user, nil
}

func (s *MemoryStore) UserByUsername(ctx context.Context, username string) (models.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return models.User{}, "", ErrNotFound
	}
	u := s.users[id]
	return u.user, u.hash, nil
}

func (s *MemoryStore) User(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u.user, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemoryStore) ConversationsOf(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Conversation
	for _, c := range s.conversations {
		if _, ok := c.Participant(userID); ok {
			out = append(out, s.copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivityAt(), out[j].LastActivityAt()
		if ai.Equal(aj) {
			return out[i].ID < out[j].ID
		}
		return ai.After(aj)
	})
	return out, nil
}

func (s *MemoryStore) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return s.copyConversation(c), nil
}

func (s *MemoryStore) DirectBetween(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.Kind != models.ConversationDirect {
			continue
		}
		_, a := c.Participant(userID)
		_, b := c.Participant(otherID)
		if a && b {
			return s.copyConversation(c), false, nil
		}
	}
	for _, id := range []string{userID, otherID} {
		if _, ok := s.users[id]; !ok {
			return models.Conversation{}, false, ErrNotFound
		}
	}
	c := s.newConversationLocked(models.ConversationDirect, "", []string{userID, otherID})
	return s.copyConversation(c), true, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range memberIDs {
		if _, ok := s.users[id]; !ok {
			return models.Conversation{}, ErrNotFound
		}
	}
	c := s.newConversationLocked(models.ConversationGroup, name, memberIDs)
	return s.copyConversation(c), nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	_, ok = c.Participant(userID)
	return ok, nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	msg.ID = uuid.New().String()
	msg.CreatedAt = s.now().UTC()
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	if u, ok := s.users[msg.SenderID]; ok {
		sender := u.user
		msg.Sender = &sender
	}
	s.messages[c.ID] = append(s.messages[c.ID], *msg)

	last := *msg
	c.LastMessage = &last
	at := msg.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	start, end := pageBounds(len(all), page, limit)
	return append([]models.Message(nil), all[start:end]...), len(all), nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) newConversationLocked(kind models.ConversationKind, name string, memberIDs []string) *models.Conversation {
	now := s.now().UTC()
	c := &models.Conversation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range memberIDs {
		c.Participants = append(c.Participants, models.Participant{
			ID:             uuid.New().String(),
			UserID:         id,
			ConversationID: c.ID,
			JoinedAt:       now,
		})
	}
	s.conversations[c.ID] = c
	return c
}

// copyConversation returns c with participant users resolved, detached from the map.
func (s *MemoryStore) copyConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Participants = make([]models.Participant, len(c.Participants))
	for i, p := range c.Participants {
		p.User = s.users[p.UserID].user
		out.Participants[i] = p
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

// pageBounds maps a 1-based page counted from the newest message to slice bounds
// over a list ordered oldest first.
func pageBounds(total, page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	end := total - (page-1)*limit
	if end <= 0 {
		return 0, 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return start, end
}
