package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ledger-chat/internal/models"
	"ledger-chat/internal/outbound"
	"ledger-chat/internal/rooms"
)

// LoadConversations fetches the conversation list and replaces the roster with it.
func (e *Engine) LoadConversations(ctx context.Context) error {
	convs, err := e.fetch.ListConversations(ctx)
	if err != nil {
		e.log.Error("failed to fetch conversations", zap.Error(err))
		return fmt.Errorf("list conversations: %w", err)
	}
	return e.do(ctx, func() {
		for _, id := range e.roster.Load(convs) {
			if id != e.rooms.Active() {
				e.recon.Forget(id)
			}
		}
		if active := e.rooms.Active(); active != "" {
			e.roster.MarkActive(active)
		}
		e.publish(Update{Kind: UpdateRoster})
	})
}

// Friends passes the friends listing through from the fetch collaborator.
func (e *Engine) Friends(ctx context.Context) ([]models.Friend, error) {
	friends, err := e.fetch.ListFriends(ctx)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

// Open makes id the active conversation. The room switch happens without waiting
// on the network; history is fetched the first time a conversation is opened.
// A failed join is returned as conn.ErrNotConnected but the selection still moves.
func (e *Engine) Open(ctx context.Context, id string) error {
	var (
		joinErr   error
		needFetch bool
	)
	if err := e.do(ctx, func() {
		var tr rooms.Transition
		tr, joinErr = e.rooms.Select(id)
		if tr.Changed() {
			e.leaveTyping(tr.From)
		}
		e.roster.MarkActive(id)
		needFetch = !e.recon.Loaded(id)
		if needFetch {
			e.recon.Expect(id)
		}
		if joinErr != nil {
			e.lastErr = joinErr
			e.publish(Update{Kind: UpdateError, ConversationID: id, Err: joinErr})
		}
		e.publish(Update{Kind: UpdateRoster, ConversationID: id})
	}); err != nil {
		return err
	}

	if needFetch {
		if err := e.loadHistory(ctx, id); err != nil {
			return err
		}
	}
	return joinErr
}

func (e *Engine) loadHistory(ctx context.Context, id string) error {
	page, err := e.fetch.GetMessages(ctx, id, 1, e.opts.PageSize)
	if err != nil {
		e.log.Error("failed to fetch messages", zap.String("conversation_id", id), zap.Error(err))
		return fmt.Errorf("fetch history of %s: %w", id, err)
	}
	return e.do(ctx, func() {
		e.recon.Open(id, page.Messages)
		e.publish(Update{Kind: UpdateMessages, ConversationID: id})
	})
}

// leaveTyping drops what was shown for a conversation the user navigated away from
// and ends the local typing burst there.
func (e *Engine) leaveTyping(id string) {
	if id == "" {
		return
	}
	e.typers.Reset(id)
	for _, key := range e.expiryKeys[id] {
		e.expiry.Cancel(key)
	}
	delete(e.expiryKeys, id)
	if e.debounce.Typing() {
		e.debounce.Stop(id)
	}
	e.publish(Update{Kind: UpdateTyping, ConversationID: id})
}

// Keystroke records the compose text for the active conversation and paces the
// typing signal. It does not wait for the loop.
func (e *Engine) Keystroke(text string) {
	e.post(func() {
		e.outbound.Buffer().Set(text)
		if id := e.rooms.Active(); id != "" {
			e.debounce.Keystroke(id, text)
		}
	})
}

// Send submits content to conversationID.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (outbound.PendingSend, error) {
	var (
		ps      outbound.PendingSend
		sendErr error
	)
	if err := e.do(ctx, func() {
		ps, sendErr = e.outbound.Send(conversationID, content)
		if sendErr != nil {
			e.lastErr = sendErr
			e.publish(Update{Kind: UpdateError, ConversationID: conversationID, Err: sendErr})
		}
	}); err != nil {
		return ps, err
	}
	return ps, sendErr
}

// SendDraft submits the compose buffer to the active conversation.
func (e *Engine) SendDraft(ctx context.Context) (outbound.PendingSend, error) {
	var id, draft string
	if err := e.do(ctx, func() {
		id = e.rooms.Active()
		draft = e.outbound.Buffer().Text()
	}); err != nil {
		return outbound.PendingSend{}, err
	}
	if id == "" {
		return outbound.PendingSend{}, fmt.Errorf("no conversation selected")
	}
	return e.Send(ctx, id, strings.TrimRight(draft, "\n"))
}

// CreateDirect starts a direct conversation with participantID, puts it in the
// roster and opens it.
func (e *Engine) CreateDirect(ctx context.Context, participantID string) (models.Conversation, error) {
	conv, err := e.fetch.CreateDirectConversation(ctx, participantID)
	if err != nil {
		e.log.Error("failed to create conversation", zap.String("participant_id", participantID), zap.Error(err))
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if err := e.do(ctx, func() {
		e.roster.Add(conv)
	}); err != nil {
		return conv, err
	}
	return conv, e.Open(ctx, conv.ID)
}

// View returns a snapshot of the current state.
func (e *Engine) View(ctx context.Context) (View, error) {
	var v View
	err := e.do(ctx, func() {
		active := e.rooms.Active()
		v = View{
			SelfID:        e.opts.SelfID,
			State:         e.conn.State(),
			Conversations: e.roster.List(),
			Active:        active,
			Loaded:        e.recon.Loaded(active),
			Messages:      e.recon.Messages(active),
			TotalUnread:   e.roster.TotalUnread(),
			Draft:         e.outbound.Buffer().Text(),
			Pending:       e.outbound.Pending(),
			Statuses:      make(map[string]models.UserStatus, len(e.statuses)),
			LastError:     e.lastErr,
		}
		if s, ok := e.typers.Summary(active); ok {
			v.Typing = s
		}
		for id, s := range e.statuses {
			v.Statuses[id] = s
		}
	})
	return v, err
}

// Search returns the roster entries whose display name contains query. An empty
// query returns the whole roster.
func (e *Engine) Search(ctx context.Context, query string) ([]models.Conversation, error) {
	var out []models.Conversation
	err := e.do(ctx, func() { out = e.roster.Filter(query) })
	return out, err
}
