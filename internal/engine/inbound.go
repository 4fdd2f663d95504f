package engine

import (
	"go.uber.org/zap"

	"ledger-chat/internal/models"
)

func (e *Engine) onOpen() {
	e.log.Info("live connection open")
	if err := e.rooms.Rejoin(); err != nil {
		e.log.Warn("rejoin failed", zap.String("conversation_id", e.rooms.Active()), zap.Error(err))
	}
	e.publish(Update{Kind: UpdateConnection, State: e.conn.State()})
}

func (e *Engine) onClose(reason string) {
	// The server forgets remote typers with the connection; so do we.
	if active := e.rooms.Active(); active != "" {
		e.typers.Reset(active)
	}
	// Our own typing state went with it; the next keystroke starts a new burst.
	e.debounce.Reset()
	e.publish(Update{Kind: UpdateConnection, State: e.conn.State(), Reason: reason})
}

func (e *Engine) onError(err error, fatal bool) {
	if fatal {
		e.log.Error("live updates stopped", zap.Error(err))
	} else {
		e.log.Warn("connection error", zap.Error(err))
	}
	e.lastErr = err
	e.publish(Update{Kind: UpdateError, State: e.conn.State(), Err: err, Fatal: fatal})
}

func (e *Engine) dispatch(env models.Envelope) {
	switch env.Event {
	case models.EventNewMessage:
		var msg models.Message
		if err := env.Decode(&msg); err != nil {
			e.log.Warn("bad new_message payload", zap.Error(err))
			return
		}
		e.onMessage(msg)
	case models.EventUserTyping:
		var ev models.TypingEvent
		if err := env.Decode(&ev); err != nil {
			e.log.Warn("bad user_typing payload", zap.Error(err))
			return
		}
		e.onTyping(ev)
	case models.EventUserStatusChanged:
		var ev models.StatusEvent
		if err := env.Decode(&ev); err != nil {
			e.log.Warn("bad user_status_changed payload", zap.Error(err))
			return
		}
		e.statuses[ev.UserID] = ev.Status
		e.publish(Update{Kind: UpdateStatus, UserID: ev.UserID})
	case models.EventError:
		var ev models.ErrorEvent
		if err := env.Decode(&ev); err != nil {
			ev.Message = string(env.Data)
		}
		err := &ServerError{Message: ev.Message}
		e.log.Error("socket error", zap.String("message", ev.Message))
		e.lastErr = err
		e.publish(Update{Kind: UpdateError, Err: err})
	default:
		e.log.Debug("ignoring event", zap.String("event", env.Event))
	}
}

func (e *Engine) onMessage(msg models.Message) {
	if msg.ID == "" || msg.ConversationID == "" {
		e.log.Warn("dropping message without id or conversation")
		return
	}
	res := e.recon.Apply(msg)
	if res.Duplicate {
		e.log.Debug("duplicate message", zap.String("message_id", msg.ID))
		return
	}
	e.outbound.Acknowledge(msg)

	if e.roster.UpsertActivity(msg.ConversationID, msg) {
		e.publish(Update{Kind: UpdateRoster, ConversationID: msg.ConversationID})
	} else {
		e.log.Info("message for unknown conversation", zap.String("conversation_id", msg.ConversationID))
	}
	if res.Materialized {
		e.publish(Update{Kind: UpdateMessages, ConversationID: msg.ConversationID})
	}
}

func (e *Engine) onTyping(ev models.TypingEvent) {
	// Typing is only rendered for the open conversation.
	if ev.ConversationID == "" || ev.ConversationID != e.rooms.Active() {
		return
	}
	name := e.typerName(ev.ConversationID, ev.UserID)
	if !e.typers.Apply(ev.ConversationID, ev.UserID, name, ev.IsTyping) && !ev.IsTyping {
		return
	}

	key := ev.ConversationID + "/" + ev.UserID
	if ev.IsTyping {
		e.trackExpiry(ev.ConversationID, key)
		e.expiry.Arm(key, e.typers.Window(), func() {
			e.untrackExpiry(ev.ConversationID, key)
			e.typers.Prune()
			e.publish(Update{Kind: UpdateTyping, ConversationID: ev.ConversationID})
		})
	} else {
		e.expiry.Cancel(key)
		e.untrackExpiry(ev.ConversationID, key)
	}
	e.publish(Update{Kind: UpdateTyping, ConversationID: ev.ConversationID})
}

func (e *Engine) typerName(conversationID, userID string) string {
	if c, ok := e.roster.Get(conversationID); ok {
		if p, ok := c.Participant(userID); ok {
			if n := p.User.DisplayName(); n != "" {
				return n
			}
		}
	}
	return "Someone"
}

func (e *Engine) trackExpiry(conversationID, key string) {
	for _, k := range e.expiryKeys[conversationID] {
		if k == key {
			return
		}
	}
	e.expiryKeys[conversationID] = append(e.expiryKeys[conversationID], key)
}

func (e *Engine) untrackExpiry(conversationID, key string) {
	keys := e.expiryKeys[conversationID]
	for i, k := range keys {
		if k == key {
			e.expiryKeys[conversationID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(e.expiryKeys[conversationID]) == 0 {
		delete(e.expiryKeys, conversationID)
	}
}
