package roster

import (
	"sort"
	"strings"

	"ledger-chat/internal/models"
)

// Roster is the ordered conversation list with unread counters. Order is
// LastActivityAt descending, ties broken by id ascending.
type Roster struct {
	selfID string
	convs  map[string]*models.Conversation
	order  []string
	active string
}

func New(selfID string) *Roster {
	return &Roster{selfID: selfID, convs: make(map[string]*models.Conversation)}
}

// Load replaces the roster with an initial listing. Unread counters from the
// listing are kept, except for the active conversation. It returns the ids that
// were in the roster but are missing from the new listing.
func (r *Roster) Load(convs []models.Conversation) (dropped []string) {
	old := r.convs
	r.convs = make(map[string]*models.Conversation, len(convs))
	r.order = r.order[:0]
	for i := range convs {
		r.put(convs[i])
	}
	r.sort()
	for _, c := range old {
		if _, ok := r.convs[c.ID]; !ok {
			dropped = append(dropped, c.ID)
		}
	}
	return dropped
}

// Add inserts or replaces a single conversation, e.g. one just created.
func (r *Roster) Add(conv models.Conversation) {
	r.put(conv)
	r.sort()
}

func (r *Roster) put(conv models.Conversation) {
	c := conv
	c.Messages = nil
	if c.UnreadCount < 0 || c.ID == r.active {
		c.UnreadCount = 0
	}
	if c.LastMessage != nil && c.LastMessage.ConversationID == "" {
		lm := *c.LastMessage
		lm.ConversationID = c.ID
		c.LastMessage = &lm
	}
	if _, exists := r.convs[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.convs[c.ID] = &c
}

func (r *Roster) Get(id string) (models.Conversation, bool) {
	c, ok := r.convs[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

func (r *Roster) Len() int { return len(r.order) }

// List returns the conversations in roster order.
func (r *Roster) List() []models.Conversation {
	out := make([]models.Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.convs[id])
	}
	return out
}

// Filter returns conversations whose display name contains query, case-insensitively.
func (r *Roster) Filter(query string) []models.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return r.List()
	}
	var out []models.Conversation
	for _, id := range r.order {
		c := r.convs[id]
		if strings.Contains(strings.ToLower(c.DisplayName(r.selfID)), q) {
			out = append(out, *c)
		}
	}
	return out
}

// UpsertActivity records msg as the latest activity of conversation id and moves it
// up the list. The unread counter grows by one unless the conversation is active or
// the message is the local user's own. Own messages sent from another device do
// not count either, so an inactive conversation does not gain exactly one per
// message. Unknown conversations are left alone and
// reported with false: the roster never invents conversations.
func (r *Roster) UpsertActivity(id string, msg models.Message) bool {
	c, ok := r.convs[id]
	if !ok {
		return false
	}

	if !msg.CreatedAt.Before(c.LastActivityAt()) || c.LastMessage == nil {
		m := msg
		c.LastMessage = &m
		at := msg.CreatedAt
		c.LastMessageAt = &at
	}

	switch {
	case id == r.active:
		c.UnreadCount = 0
	case r.selfID != "" && msg.SenderID == r.selfID:
	default:
		c.UnreadCount++
	}

	r.sort()
	return true
}

// MarkActive makes id the active conversation and zeroes its counter.
func (r *Roster) MarkActive(id string) {
	r.active = id
	if c, ok := r.convs[id]; ok {
		c.UnreadCount = 0
	}
}

func (r *Roster) TotalUnread() int {
	total := 0
	for _, c := range r.convs {
		total += c.UnreadCount
	}
	return total
}

// Sorted reports whether the ordering invariant holds.
func (r *Roster) Sorted() bool {
	return sort.SliceIsSorted(r.order, r.less)
}

func (r *Roster) sort() {
	sort.SliceStable(r.order, r.less)
}

func (r *Roster) less(i, j int) bool {
	a, b := r.convs[r.order[i]], r.convs[r.order[j]]
	at, bt := a.LastActivityAt(), b.LastActivityAt()
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID < b.ID
}
