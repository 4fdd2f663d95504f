package conn_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/conn/conntest"
	"ledger-chat/internal/models"
	"ledger-chat/internal/timers"
)

type recorder struct {
	mu        sync.Mutex
	opens     int
	closes    []string
	errs      []error
	exhausted []error
	events    chan models.Envelope
}

func newRecorder() *recorder {
	return &recorder{events: make(chan models.Envelope, 16)}
}

func (r *recorder) handlers() conn.Handlers {
	return conn.Handlers{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnClose: func(reason string) {
			r.mu.Lock()
			r.closes = append(r.closes, reason)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnEvent: func(env models.Envelope) { r.events <- env },
		OnReconnectFailed: func(err error) {
			r.mu.Lock()
			r.exhausted = append(r.exhausted, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newManager(attempts int) (*conn.Manager, *conntest.Dialer, *timers.Fake, *recorder) {
	dialer := conntest.NewDialer()
	clock := timers.NewFake(time.Unix(0, 0))
	m := conn.NewManager(conn.Config{
		URL:         "ws://chat.test/ws",
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		MaxAttempts: attempts,
	}, dialer, clock, nil)
	rec := newRecorder()
	m.SetHandlers(rec.handlers())
	return m, dialer, clock, rec
}

func TestConnectIsIdempotent(t *testing.T) {
	m, dialer, _, rec := newManager(5)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if dialer.Dials() != 1 {
		t.Fatalf("expected a single dial, got %d", dialer.Dials())
	}
	if !m.IsConnected() || rec.openCount() != 1 {
		t.Fatalf("expected connected with one open, state=%v opens=%d", m.State(), rec.openCount())
	}
	if got := dialer.Credentials(); !reflect.DeepEqual(got, []string{"tok"}) {
		t.Fatalf("credential not passed through: %v", got)
	}
}

func TestEmitRequiresOpenConnection(t *testing.T) {
	m, dialer, _, _ := newManager(5)

	err := m.Emit(models.EventTyping, models.TypingPayload{ConversationID: "c1", IsTyping: true})
	if !errors.Is(err, conn.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if err := m.Emit(models.EventJoinConversation, models.ConversationRef{ConversationID: "c1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	sent := dialer.Last().Sent()
	if len(sent) != 1 || sent[0].Event != models.EventJoinConversation {
		t.Fatalf("unexpected frames: %+v", sent)
	}
	var ref models.ConversationRef
	if err := sent[0].Decode(&ref); err != nil || ref.ConversationID != "c1" {
		t.Fatalf("bad payload %+v err=%v", ref, err)
	}
}

func TestInboundEventsAreDelivered(t *testing.T) {
	m, dialer, _, rec := newManager(5)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	sock := dialer.Last()
	sock.PushRaw([]byte(`not json`))
	if err := sock.Push(models.EventUserTyping, models.TypingEvent{UserID: "u2", ConversationID: "c1", IsTyping: true}); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-rec.events:
		if env.Event != models.EventUserTyping {
			t.Fatalf("unexpected event %q", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestReconnectBacksOffAndRecovers(t *testing.T) {
	m, dialer, clock, rec := newManager(5)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	dialer.FailNext(3, conntest.ErrDialRefused)
	dialer.Last().Drop()
	waitFor(t, "reconnecting state", func() bool { return m.State() == conn.Reconnecting })

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second} {
		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != want {
			t.Fatalf("attempt %d: expected pending delay %v, got %v", i+1, want, pending)
		}
		clock.Advance(want)
	}

	if !m.IsConnected() {
		t.Fatalf("expected connected after backoff, state=%v", m.State())
	}
	if m.Attempts() != 0 {
		t.Fatalf("attempt counter not reset: %d", m.Attempts())
	}
	if rec.openCount() != 2 {
		t.Fatalf("expected two opens, got %d", rec.openCount())
	}
	if dialer.Dials() != 5 {
		t.Fatalf("expected 5 dials, got %d", dialer.Dials())
	}
}

func TestReconnectExhaustedIsFatal(t *testing.T) {
	m, dialer, clock, rec := newManager(2)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	dialer.FailNext(10, conntest.ErrDialRefused)
	dialer.Last().Drop()
	waitFor(t, "reconnecting state", func() bool { return m.State() == conn.Reconnecting })

	clock.Advance(time.Second)
	clock.Advance(2 * time.Second)

	if m.State() != conn.Disconnected {
		t.Fatalf("expected disconnected after exhausting attempts, got %v", m.State())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.exhausted) != 1 {
		t.Fatalf("expected one exhaustion report, got %d", len(rec.exhausted))
	}
	var exhausted *conn.ReconnectExhaustedError
	if !errors.As(rec.exhausted[0], &exhausted) || exhausted.Attempts != 2 {
		t.Fatalf("unexpected terminal error: %v", rec.exhausted[0])
	}
	if len(rec.errs) != 2 {
		t.Fatalf("expected two non-fatal errors, got %d", len(rec.errs))
	}
	if len(clock.Pending()) != 0 {
		t.Fatalf("timers left armed: %v", clock.Pending())
	}
}

func TestServerCloseReconnectsImmediately(t *testing.T) {
	m, dialer, clock, rec := newManager(5)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	first := dialer.Last()

	first.ServerClose(1000)
	waitFor(t, "reconnecting state", func() bool { return m.State() == conn.Reconnecting })

	if pending := clock.Pending(); len(pending) != 1 || pending[0] != 0 {
		t.Fatalf("expected an immediate retry, got %v", pending)
	}
	clock.Advance(0)

	if !m.IsConnected() || dialer.Sockets() != 2 {
		t.Fatalf("expected a second socket, state=%v sockets=%d", m.State(), dialer.Sockets())
	}
	waitFor(t, "old socket closed", first.Closed)
	waitFor(t, "close notification", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.closes) == 1
	})
}

func TestFirstDialFailureEntersRetry(t *testing.T) {
	m, dialer, clock, _ := newManager(5)
	dialer.FailNext(1, conntest.ErrDialRefused)

	err := m.Connect(context.Background(), "tok")
	var cerr *conn.ConnectionError
	if !errors.As(err, &cerr) || !errors.Is(err, conntest.ErrDialRefused) {
		t.Fatalf("expected ConnectionError wrapping refusal, got %v", err)
	}
	if m.State() != conn.Reconnecting {
		t.Fatalf("expected reconnecting, got %v", m.State())
	}

	clock.Advance(time.Second)
	if !m.IsConnected() {
		t.Fatalf("expected connected after retry, got %v", m.State())
	}
}

func TestDisconnectIsRepeatableAndStopsRetries(t *testing.T) {
	m, dialer, clock, rec := newManager(5)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	dialer.Last().Drop()
	waitFor(t, "reconnecting state", func() bool { return m.State() == conn.Reconnecting })

	m.Disconnect()
	m.Disconnect()

	if m.State() != conn.Disconnected {
		t.Fatalf("expected disconnected, got %v", m.State())
	}
	if len(clock.Pending()) != 0 {
		t.Fatalf("retry timer survived Disconnect: %v", clock.Pending())
	}
	clock.Advance(time.Minute)
	if dialer.Dials() != 1 {
		t.Fatalf("dialed after Disconnect: %d", dialer.Dials())
	}
	if rec.openCount() != 1 {
		t.Fatalf("unexpected opens: %d", rec.openCount())
	}
	if err := m.Reconnect(context.Background()); err != nil || dialer.Dials() != 1 {
		t.Fatal("Reconnect should not use a cleared credential")
	}
}

func TestDisconnectClosesOpenSocket(t *testing.T) {
	m, dialer, _, _ := newManager(5)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()
	if !dialer.Last().Closed() {
		t.Fatal("socket left open")
	}
	if err := m.Emit(models.EventTyping, nil); !errors.Is(err, conn.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after Disconnect, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	m := conn.NewManager(conn.Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 5}, nil, nil, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := m.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
