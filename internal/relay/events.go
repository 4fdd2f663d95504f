package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ledger-chat/internal/models"
	"ledger-chat/internal/services"
	"ledger-chat/internal/utils"
)

type session struct {
	connID   string
	userID   string
	username string
}

const eventTimeout = 10 * time.Second

// HandleMessage dispatches one client frame.
func (s *Server) HandleMessage(sess session, frame []byte) {
	env, err := models.DecodeEnvelope(frame)
	if err != nil {
		utils.LogError(s.log, err, "JSON Parse")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case models.EventJoinConversation:
		s.handleJoin(ctx, sess, env)
	case models.EventLeaveConversation:
		s.handleLeave(sess, env)
	case models.EventSendMessage:
		s.handleSend(ctx, sess, env)
	case models.EventTyping:
		s.handleTyping(sess, env)
	default:
		s.log.Debug("unknown event", zap.String("event", env.Event))
	}
}

func (s *Server) handleJoin(ctx context.Context, sess session, env models.Envelope) {
	var ref models.ConversationRef
	if err := env.Decode(&ref); err != nil || ref.ConversationID == "" {
		s.sendError(sess, "conversationId is required")
		return
	}
	if err := s.chat.CanAccess(ctx, ref.ConversationID, sess.userID); err != nil {
		s.log.Warn("join refused", zap.String("conversation_id", ref.ConversationID), zap.String("user_id", sess.userID), zap.Error(err))
		s.sendError(sess, errorText(err))
		return
	}
	s.hub.Join(ref.ConversationID, sess.connID)
	s.log.Debug("joined", zap.String("conversation_id", ref.ConversationID), zap.String("conn_id", sess.connID))
}

func (s *Server) handleLeave(sess session, env models.Envelope) {
	var ref models.ConversationRef
	if err := env.Decode(&ref); err != nil {
		return
	}
	s.hub.Leave(ref.ConversationID, sess.connID)
}

func (s *Server) handleSend(ctx context.Context, sess session, env models.Envelope) {
	var p models.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		s.sendError(sess, "invalid message payload")
		return
	}
	msg, err := s.chat.SendMessage(ctx, sess.userID, p)
	if err != nil {
		s.log.Warn("send refused", zap.String("conversation_id", p.ConversationID), zap.Error(err))
		s.sendError(sess, errorText(err))
		return
	}

	participants, err := s.chat.Participants(ctx, msg.ConversationID)
	if err != nil {
		utils.LogError(s.log, err, "Participants")
	}
	n := s.hub.Deliver(msg.ConversationID, participants, utils.EventFrame(s.log, models.EventNewMessage, msg))
	s.log.Debug("message delivered", zap.String("message_id", msg.ID), zap.Int("connections", n))
}

func (s *Server) handleTyping(sess session, env models.Envelope) {
	var p models.TypingPayload
	if err := env.Decode(&p); err != nil || p.ConversationID == "" {
		return
	}
	if s.hub.Room(sess.connID) != p.ConversationID {
		return
	}
	s.hub.Broadcast(p.ConversationID, utils.EventFrame(s.log, models.EventUserTyping, models.TypingEvent{
		UserID:         sess.userID,
		ConversationID: p.ConversationID,
		IsTyping:       p.IsTyping,
	}), sess.connID)
}

func (s *Server) sendError(sess session, message string) {
	if err := s.hub.SendTo(sess.connID, utils.EventFrame(s.log, models.EventError, models.ErrorEvent{Message: message})); err != nil {
		utils.LogError(s.log, err, "send error event")
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, services.ErrNotParticipant):
		return "Not a participant in this conversation"
	case errors.Is(err, services.ErrEmptyContent):
		return "Message content is required"
	case errors.Is(err, services.ErrNotFound):
		return "Conversation not found"
	default:
		return "Internal error"
	}
}
