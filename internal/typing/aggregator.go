// Package typing tracks who is typing in each conversation and paces the local
// user's own typing signals.
package typing

import (
	"fmt"
	"time"
)

type entry struct {
	name     string
	deadline time.Time
}

type conversation struct {
	order   []string // user ids in the order they started typing
	entries map[string]entry
}

// Aggregator holds remote typing state per conversation. An entry lapses at its
// deadline even if no stop event arrives; queries never report lapsed entries.
type Aggregator struct {
	selfID string
	window time.Duration
	now    func() time.Time
	convs  map[string]*conversation
}

func NewAggregator(selfID string, window time.Duration, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		selfID: selfID,
		window: window,
		now:    now,
		convs:  make(map[string]*conversation),
	}
}

func (a *Aggregator) Window() time.Duration { return a.window }

// Apply records a typing signal. The local user's own signals are ignored.
// It reports whether the set of typers for the conversation changed.
func (a *Aggregator) Apply(conversationID, userID, name string, isTyping bool) bool {
	if userID == "" || userID == a.selfID {
		return false
	}
	now := a.now()
	c := a.convs[conversationID]

	if !isTyping {
		if c == nil {
			return false
		}
		e, ok := c.entries[userID]
		if !ok {
			return false
		}
		c.remove(userID)
		a.dropEmpty(conversationID)
		return now.Before(e.deadline)
	}

	if c == nil {
		c = &conversation{entries: make(map[string]entry)}
		a.convs[conversationID] = c
	}
	prev, existed := c.entries[userID]
	live := existed && now.Before(prev.deadline)
	if existed && !live {
		c.remove(userID)
	}
	if !live {
		c.order = append(c.order, userID)
	}
	c.entries[userID] = entry{name: name, deadline: now.Add(a.window)}
	return !live
}

// Deadline returns when the entry for userID lapses.
func (a *Aggregator) Deadline(conversationID, userID string) (time.Time, bool) {
	c := a.convs[conversationID]
	if c == nil {
		return time.Time{}, false
	}
	e, ok := c.entries[userID]
	return e.deadline, ok
}

// Typers returns the names of users currently typing, in the order they started.
func (a *Aggregator) Typers(conversationID string) []string {
	c := a.convs[conversationID]
	if c == nil {
		return nil
	}
	now := a.now()
	var names []string
	for _, id := range c.order {
		if e := c.entries[id]; now.Before(e.deadline) {
			names = append(names, e.name)
		}
	}
	return names
}

// Summary renders the typing line for a conversation. ok is false when nobody is typing.
func (a *Aggregator) Summary(conversationID string) (string, bool) {
	names := a.Typers(conversationID)
	switch len(names) {
	case 0:
		return "", false
	case 1:
		return fmt.Sprintf("%s is typing", names[0]), true
	case 2:
		return fmt.Sprintf("%s and %s are typing", names[0], names[1]), true
	default:
		return fmt.Sprintf("%s and %d others are typing", names[0], len(names)-1), true
	}
}

// Reset forgets all typing state of a conversation.
func (a *Aggregator) Reset(conversationID string) {
	delete(a.convs, conversationID)
}

// Prune drops lapsed entries and returns how many were removed.
func (a *Aggregator) Prune() int {
	now := a.now()
	removed := 0
	for id, c := range a.convs {
		for _, userID := range append([]string(nil), c.order...) {
			if !now.Before(c.entries[userID].deadline) {
				c.remove(userID)
				removed++
			}
		}
		a.dropEmpty(id)
	}
	return removed
}

func (a *Aggregator) dropEmpty(conversationID string) {
	if c := a.convs[conversationID]; c != nil && len(c.entries) == 0 {
		delete(a.convs, conversationID)
	}
}

func (c *conversation) remove(userID string) {
	delete(c.entries, userID)
	for i, id := range c.order {
		if id == userID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
