package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-chat/internal/models"
)

// PGStore keeps relay data in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) CreateUser(ctx context.Context, user models.User, passwordHash string) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	query := `INSERT INTO users (id, username, full_name, avatar, password_hash) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	err := s.pool.QueryRow(ctx, query, user.ID, user.Username, user.FullName, user.Avatar, passwordHash).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, ErrUserExists
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *PGStore) UserByUsername(ctx context.Context, username string) (models.User, string, error) {
	var (
		u    models.User
		hash string
	)
	query := `SELECT id, username, full_name, avatar, created_at, password_hash FROM users WHERE username = $1`
	err := s.pool.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.CreatedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, "", ErrNotFound
	}
	return u, hash, err
}

func (s *PGStore) User(ctx context.Context, id string) (models.User, error) {
	var u models.User
	query := `SELECT id, username, full_name, avatar, created_at FROM users WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *PGStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, full_name, avatar, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Avatar, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGStore) ConversationsOf(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	convs := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Conversation(ctx, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

func (s *PGStore) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var c models.Conversation
	query := `SELECT id, type, name, avatar, last_message_at, created_at, updated_at FROM conversations WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Kind, &c.Name, &c.Avatar, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.user_id, p.joined_at, u.username, u.full_name, u.avatar, u.created_at
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.joined_at, p.user_id`, id)
	if err != nil {
		return models.Conversation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		p := models.Participant{ConversationID: id}
		if err := rows.Scan(&p.ID, &p.UserID, &p.JoinedAt, &p.User.Username, &p.User.FullName, &p.User.Avatar, &p.User.CreatedAt); err != nil {
			return models.Conversation{}, err
		}
		p.User.ID = p.UserID
		c.Participants = append(c.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return models.Conversation{}, err
	}

	var last models.Message
	err = s.pool.QueryRow(ctx, `
		SELECT id, sender_id, content, type, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, id).
		Scan(&last.ID, &last.SenderID, &last.Content, &last.Type, &last.CreatedAt)
	switch {
	case err == nil:
		last.ConversationID = id
		c.LastMessage = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return models.Conversation{}, err
	}
	return c, nil
}

func (s *PGStore) DirectBetween(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN participants p1 ON c.id = p1.conversation_id
		JOIN participants p2 ON c.id = p2.conversation_id
		WHERE c.type = 'DIRECT'
		AND p1.user_id = $1
		AND p2.user_id = $2
		LIMIT 1
	`
	var id string
	err := s.pool.QueryRow(ctx, query, userID, otherID).Scan(&id)
	if err == nil {
		c, err := s.Conversation(ctx, id)
		return c, false, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	id, err = s.create(ctx, models.ConversationDirect, "", []string{userID, otherID})
	if err != nil {
		return models.Conversation{}, false, err
	}
	c, err := s.Conversation(ctx, id)
	return c, true, err
}

func (s *PGStore) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	id, err := s.create(ctx, models.ConversationGroup, name, memberIDs)
	if err != nil {
		return models.Conversation{}, err
	}
	return s.Conversation(ctx, id)
}

func (s *PGStore) create(ctx context.Context, kind models.ConversationKind, name string, memberIDs []string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	id := uuid.New().String()
	if _, err := tx.Exec(ctx, "INSERT INTO conversations (id, type, name) VALUES ($1, $2, $3)", id, string(kind), name); err != nil {
		return "", err
	}
	batch := &pgx.Batch{}
	for _, uid := range memberIDs {
		batch.Queue("INSERT INTO participants (id, conversation_id, user_id) VALUES ($1, $2, $3)", uuid.New().String(), id, uid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return "", ErrNotFound
		}
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PGStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)`
	err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&ok)
	return ok, err
}

func (s *PGStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	msg.ID = uuid.New().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO messages (id, conversation_id, sender_id, content, type, client_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	if err := tx.QueryRow(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), msg.ClientID).Scan(&msg.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET last_message_at = $2, updated_at = $2 WHERE id = $1`, msg.ConversationID, msg.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if u, err := s.User(ctx, msg.SenderID); err == nil {
		msg.Sender = &u
	}
	return nil
}

func (s *PGStore) Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	start, end := pageBounds(total, page, limit)
	if end == start {
		return nil, total, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.sender_id, m.content, m.type, m.client_id, m.created_at, u.username, u.full_name, u.avatar
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at, m.id
		OFFSET $2 LIMIT $3`, conversationID, start, end-start)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m := models.Message{ConversationID: conversationID, Sender: &models.User{}}
		var created time.Time
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &m.ClientID, &created, &m.Sender.Username, &m.Sender.FullName, &m.Sender.Avatar); err != nil {
			return nil, 0, err
		}
		m.CreatedAt = created
		m.Sender.ID = m.SenderID
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}
