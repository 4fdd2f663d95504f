package rooms

import (
	"errors"
	"reflect"
	"testing"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
)

type emitted struct {
	event string
	id    string
}

type fakeConn struct {
	connected bool
	sent      []emitted
}

func (f *fakeConn) IsConnected() bool { return f.connected }

func (f *fakeConn) Emit(event string, payload interface{}) error {
	if !f.connected {
		return conn.ErrNotConnected
	}
	ref := payload.(models.ConversationRef)
	f.sent = append(f.sent, emitted{event, ref.ConversationID})
	return nil
}

func TestSelectSwitchLeavesThenJoins(t *testing.T) {
	c := &fakeConn{connected: true}
	tr := NewTracker(c, nil)

	if _, err := tr.Select("X"); err != nil {
		t.Fatal(err)
	}
	c.sent = nil

	got, err := tr.Select("Y")
	if err != nil {
		t.Fatal(err)
	}
	want := []emitted{
		{models.EventLeaveConversation, "X"},
		{models.EventJoinConversation, "Y"},
	}
	if !reflect.DeepEqual(c.sent, want) {
		t.Fatalf("emitted %v, want %v", c.sent, want)
	}
	if got.From != "X" || got.To != "Y" || !got.Left || !got.Joined || !got.Changed() {
		t.Fatalf("unexpected transition %+v", got)
	}
	if tr.Active() != "Y" || tr.Joined() != "Y" {
		t.Fatalf("active=%q joined=%q", tr.Active(), tr.Joined())
	}
}

func TestSelectSameConversationIsNoop(t *testing.T) {
	c := &fakeConn{connected: true}
	tr := NewTracker(c, nil)
	tr.Select("X")
	c.sent = nil

	got, err := tr.Select("X")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.sent) != 0 {
		t.Fatalf("expected no emissions, got %v", c.sent)
	}
	if got.Changed() {
		t.Fatal("transition to the same conversation reported a change")
	}
}

func TestSelectWhileDisconnected(t *testing.T) {
	c := &fakeConn{connected: false}
	tr := NewTracker(c, nil)

	got, err := tr.Select("X")
	if !errors.Is(err, conn.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if got.Joined {
		t.Fatal("join reported while disconnected")
	}
	if tr.Active() != "X" || tr.Joined() != "" {
		t.Fatalf("active=%q joined=%q", tr.Active(), tr.Joined())
	}

	// Once the connection is back, selecting again performs the join.
	c.connected = true
	if _, err := tr.Select("X"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.sent, []emitted{{models.EventJoinConversation, "X"}}) {
		t.Fatalf("unexpected emissions %v", c.sent)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	c := &fakeConn{connected: true}
	tr := NewTracker(c, nil)
	tr.Select("X")
	c.sent = nil

	if err := tr.Rejoin(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.sent, []emitted{{models.EventJoinConversation, "X"}}) {
		t.Fatalf("unexpected emissions %v", c.sent)
	}
}

func TestRejoinWithoutSelection(t *testing.T) {
	c := &fakeConn{connected: true}
	tr := NewTracker(c, nil)
	if err := tr.Rejoin(); err != nil {
		t.Fatal(err)
	}
	if len(c.sent) != 0 {
		t.Fatalf("unexpected emissions %v", c.sent)
	}
}

func TestClearLeavesRoom(t *testing.T) {
	c := &fakeConn{connected: true}
	tr := NewTracker(c, nil)
	tr.Select("X")
	c.sent = nil

	tr.Clear()
	if !reflect.DeepEqual(c.sent, []emitted{{models.EventLeaveConversation, "X"}}) {
		t.Fatalf("unexpected emissions %v", c.sent)
	}
	if tr.Active() != "" || tr.Joined() != "" {
		t.Fatal("selection not cleared")
	}
}
