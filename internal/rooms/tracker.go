package rooms

import (
	"errors"

	"go.uber.org/zap"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
)

// Emitter is the part of the connection the tracker acts through.
type Emitter interface {
	Emit(event string, payload interface{}) error
	IsConnected() bool
}

// Transition records one change of the active conversation.
type Transition struct {
	From string
	To   string
	// Left is set when a leave_conversation was emitted for From.
	Left bool
	// Joined is set when a join_conversation was emitted for To.
	Joined bool
}

// Changed reports whether the active conversation actually moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Tracker keeps the active conversation and the room joined on the server.
// The two differ while the connection is down: selection still moves, the join waits.
type Tracker struct {
	conn   Emitter
	log    *zap.Logger
	active string
	joined string
}

func NewTracker(c Emitter, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{conn: c, log: log.Named("rooms")}
}

func (t *Tracker) Active() string { return t.active }

func (t *Tracker) Joined() string { return t.joined }

// Select makes id the active conversation, leaving the previously joined room first.
// It never blocks on the network. When the connection is down the join is skipped and
// conn.ErrNotConnected is returned; the selection still changes.
func (t *Tracker) Select(id string) (Transition, error) {
	tr := Transition{From: t.active, To: id}
	t.active = id

	if t.joined == id {
		return tr, nil
	}

	if t.joined != "" {
		if err := t.conn.Emit(models.EventLeaveConversation, models.ConversationRef{ConversationID: t.joined}); err != nil {
			t.log.Warn("leave failed", zap.String("conversation_id", t.joined), zap.Error(err))
		} else {
			tr.Left = true
		}
		t.joined = ""
	}

	if err := t.join(id); err != nil {
		return tr, err
	}
	tr.Joined = true
	return tr, nil
}

// Rejoin joins the active conversation's room again. The server forgets room
// membership when a connection drops, so the engine calls this on every open.
func (t *Tracker) Rejoin() error {
	t.joined = ""
	if t.active == "" {
		return nil
	}
	return t.join(t.active)
}

// Clear leaves the joined room, if any, and drops the selection.
func (t *Tracker) Clear() {
	if t.joined != "" && t.conn.IsConnected() {
		if err := t.conn.Emit(models.EventLeaveConversation, models.ConversationRef{ConversationID: t.joined}); err != nil {
			t.log.Warn("leave failed", zap.String("conversation_id", t.joined), zap.Error(err))
		}
	}
	t.active = ""
	t.joined = ""
}

func (t *Tracker) join(id string) error {
	if !t.conn.IsConnected() {
		t.log.Error("cannot join conversation: not connected", zap.String("conversation_id", id))
		return conn.ErrNotConnected
	}
	if err := t.conn.Emit(models.EventJoinConversation, models.ConversationRef{ConversationID: id}); err != nil {
		t.log.Error("join failed", zap.String("conversation_id", id), zap.Error(err))
		if errors.Is(err, conn.ErrNotConnected) {
			return conn.ErrNotConnected
		}
		return err
	}
	t.joined = id
	t.log.Debug("joined conversation", zap.String("conversation_id", id))
	return nil
}
