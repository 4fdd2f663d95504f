package reconciler

import (
	"fmt"
	"testing"
	"time"

	"ledger-chat/internal/models"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func msg(conv, id string, offset int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "u2",
		Content:        "hi " + id,
		Type:           models.MessageText,
		CreatedAt:      t0.Add(time.Duration(offset) * time.Second),
	}
}

func ids(list []models.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func assertInvariant(t *testing.T, list []models.Message) {
	t.Helper()
	seen := map[string]bool{}
	for i, m := range list {
		if seen[m.ID] {
			t.Fatalf("id %s appears twice: %v", m.ID, ids(list))
		}
		seen[m.ID] = true
		if i > 0 && m.CreatedAt.Before(list[i-1].CreatedAt) {
			t.Fatalf("list not ordered at %d: %v", i, ids(list))
		}
	}
}

func TestApplyDeduplicates(t *testing.T) {
	r := New()
	r.Open("c1", nil)

	deliveries := []string{"m1", "m2", "m1", "m3", "m2", "m3", "m3"}
	for i, id := range deliveries {
		n := map[string]int{"m1": 1, "m2": 2, "m3": 3}[id]
		res := r.Apply(msg("c1", id, n))
		firstTime := i == 0 || i == 1 || i == 3
		if res.Duplicate == firstTime {
			t.Fatalf("delivery %d (%s): duplicate=%v", i, id, res.Duplicate)
		}
	}

	got := r.Messages("c1")
	if fmt.Sprint(ids(got)) != "[m1 m2 m3]" {
		t.Fatalf("unexpected list %v", ids(got))
	}
	assertInvariant(t, got)
}

func TestApplyLazyForUnopenedConversation(t *testing.T) {
	r := New()

	res := r.Apply(msg("c9", "m1", 1))
	if res.Duplicate || res.Materialized {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.Loaded("c9") || r.Messages("c9") != nil {
		t.Fatal("list materialized for an unopened conversation")
	}
	if !r.Apply(msg("c9", "m1", 1)).Duplicate {
		t.Fatal("replay into an unopened conversation not recognised")
	}
}

func TestOpenMergesHistoryWithLiveMessages(t *testing.T) {
	r := New()
	r.Open("c1", nil)
	r.Apply(msg("c1", "m4", 4))

	r.Open("c1", []models.Message{msg("c1", "m1", 1), msg("c1", "m2", 2), msg("c1", "m4", 4)})

	got := r.Messages("c1")
	if fmt.Sprint(ids(got)) != "[m1 m2 m4]" {
		t.Fatalf("unexpected list %v", ids(got))
	}
	assertInvariant(t, got)

	if !r.Apply(msg("c1", "m2", 2)).Duplicate {
		t.Fatal("history id not marked seen")
	}
}

func TestOpenFillsConversationID(t *testing.T) {
	r := New()
	m := msg("", "m1", 1)
	r.Open("c1", []models.Message{m})
	if got := r.Messages("c1")[0].ConversationID; got != "c1" {
		t.Fatalf("conversation id %q", got)
	}
}

func TestOutOfOrderArrivalKeepsOrder(t *testing.T) {
	r := New()
	r.Open("c1", nil)
	for _, m := range []models.Message{msg("c1", "a", 1), msg("c1", "c", 3), msg("c1", "b", 2), msg("c1", "d", 3), msg("c1", "z", 0)} {
		r.Apply(m)
		assertInvariant(t, r.Messages("c1"))
	}
	if fmt.Sprint(ids(r.Messages("c1"))) != "[z a b c d]" {
		t.Fatalf("unexpected order %v", ids(r.Messages("c1")))
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	r := New()
	r.Open("c1", []models.Message{msg("c1", "m1", 1)})
	got := r.Messages("c1")
	got[0].Content = "mutated"
	if r.Messages("c1")[0].Content == "mutated" {
		t.Fatal("caller mutated internal state")
	}
}

func TestForget(t *testing.T) {
	r := New()
	r.Open("c1", []models.Message{msg("c1", "m1", 1)})
	r.Forget("c1")
	if r.Loaded("c1") {
		t.Fatal("still loaded")
	}
	if r.Apply(msg("c1", "m1", 1)).Duplicate {
		t.Fatal("forgotten id still tracked")
	}
}

func TestExpectKeepsLiveMessagesUntilOpen(t *testing.T) {
	r := New()
	r.Apply(msg("c1", "early", 1))
	r.Expect("c1")

	res := r.Apply(msg("c1", "live", 5))
	if !res.Buffered || res.Materialized || res.Duplicate {
		t.Fatalf("live message during fetch: %+v", res)
	}
	if r.Loaded("c1") {
		t.Fatal("list materialized before history arrived")
	}

	// History was computed before "live" existed.
	r.Open("c1", []models.Message{msg("c1", "early", 1), msg("c1", "h2", 3)})
	got := r.Messages("c1")
	if want := []string{"early", "h2", "live"}; fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	assertInvariant(t, got)

	if !r.Apply(msg("c1", "live", 5)).Duplicate {
		t.Fatal("replay of a buffered message not recognised")
	}
	if n := len(r.Messages("c1")); n != 3 {
		t.Fatalf("replay changed the list: %d", n)
	}
}

func TestExpectWithoutOpenDoesNotLeakIntoOtherConversations(t *testing.T) {
	r := New()
	r.Expect("c1")
	if res := r.Apply(msg("c2", "m1", 1)); res.Buffered {
		t.Fatal("message for a conversation not being opened was buffered")
	}
	r.Forget("c1")
	if res := r.Apply(msg("c1", "m2", 1)); res.Buffered {
		t.Fatal("Forget left the buffer in place")
	}
}
