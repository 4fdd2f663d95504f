// Package reconciler merges live and fetched messages into per-conversation lists.
//
// Lists are unique by message id and non-decreasing by CreatedAt. A conversation's
// list only exists once it has been opened; before that the reconciler remembers
// which ids it has seen so that replays are still recognised as duplicates.
// Between Expect and Open, live messages are held back and merged into the list
// when it is materialized.
package reconciler

import (
	"sort"

	"ledger-chat/internal/models"
)

type Result struct {
	// Duplicate is set when the id was already known for the conversation.
	Duplicate bool
	// Materialized is set when the message landed in a loaded list.
	Materialized bool
	// Buffered is set when the message is held until the list is opened.
	Buffered bool
}

type Reconciler struct {
	lists   map[string][]models.Message
	seen    map[string]map[string]struct{}
	pending map[string][]models.Message
}

func New() *Reconciler {
	return &Reconciler{
		lists:   make(map[string][]models.Message),
		seen:    make(map[string]map[string]struct{}),
		pending: make(map[string][]models.Message),
	}
}

// Expect announces that history for id is on its way. Live messages for id are
// kept from now on until Open merges them. It is a no-op for loaded lists.
func (r *Reconciler) Expect(id string) {
	if _, loaded := r.lists[id]; loaded {
		return
	}
	if _, ok := r.pending[id]; !ok {
		r.pending[id] = []models.Message{}
	}
}

// Apply records an incoming message.
func (r *Reconciler) Apply(msg models.Message) Result {
	if !r.markSeen(msg.ConversationID, msg.ID) {
		return Result{Duplicate: true}
	}
	list, loaded := r.lists[msg.ConversationID]
	if !loaded {
		if buf, ok := r.pending[msg.ConversationID]; ok {
			r.pending[msg.ConversationID] = append(buf, msg)
			return Result{Buffered: true}
		}
		return Result{}
	}
	r.lists[msg.ConversationID] = insert(list, msg)
	return Result{Materialized: true}
}

// Open materializes the list for id from fetched history, merged with whatever the
// list already holds and with messages buffered since Expect. Opening twice merges
// again rather than replacing.
func (r *Reconciler) Open(id string, history []models.Message) {
	list := r.lists[id]
	if list == nil {
		list = make([]models.Message, 0, len(history)+len(r.pending[id]))
	}
	present := make(map[string]struct{}, len(list))
	for _, m := range list {
		present[m.ID] = struct{}{}
	}
	incoming := append(r.pending[id], history...)
	delete(r.pending, id)
	for _, m := range incoming {
		if _, ok := present[m.ID]; ok {
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = id
		}
		present[m.ID] = struct{}{}
		r.markSeen(id, m.ID)
		list = append(list, m)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	r.lists[id] = list
}

func (r *Reconciler) Loaded(id string) bool {
	_, ok := r.lists[id]
	return ok
}

// Messages returns a copy of the list for id; nil when it was never opened.
func (r *Reconciler) Messages(id string) []models.Message {
	list, ok := r.lists[id]
	if !ok {
		return nil
	}
	return append([]models.Message(nil), list...)
}

// Forget drops everything held for id.
func (r *Reconciler) Forget(id string) {
	delete(r.lists, id)
	delete(r.seen, id)
	delete(r.pending, id)
}

func (r *Reconciler) markSeen(convID, msgID string) bool {
	ids, ok := r.seen[convID]
	if !ok {
		ids = make(map[string]struct{})
		r.seen[convID] = ids
	}
	if _, dup := ids[msgID]; dup {
		return false
	}
	ids[msgID] = struct{}{}
	return true
}

// insert appends msg, or places it after every entry not newer than it when it
// arrives out of order.
func insert(list []models.Message, msg models.Message) []models.Message {
	n := len(list)
	if n == 0 || !msg.CreatedAt.Before(list[n-1].CreatedAt) {
		return append(list, msg)
	}
	i := sort.Search(n, func(i int) bool { return list[i].CreatedAt.After(msg.CreatedAt) })
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	return list
}
