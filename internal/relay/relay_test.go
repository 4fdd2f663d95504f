package relay_test

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"ledger-chat/internal/api"
	"ledger-chat/internal/conn"
	"ledger-chat/internal/engine"
	"ledger-chat/internal/models"
	"ledger-chat/internal/relay"
	"ledger-chat/internal/services"
)

type fixture struct {
	addr  string
	users *services.UserService
	chat  *services.ChatService
	store *services.MemoryStore
}

func startRelay(t *testing.T) *fixture {
	t.Helper()
	store := services.NewMemoryStore()
	users := services.NewUserService(store, "test-secret", time.Hour)
	chat := services.NewChatService(store)
	if err := services.SeedDemo(context.Background(), users, chat); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	srv := relay.NewServer(users, chat, relay.NewHub(nil), nil, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.App().Listener(ln)
	t.Cleanup(func() { _ = srv.App().Shutdown() })
	return &fixture{addr: ln.Addr().String(), users: users, chat: chat, store: store}
}

type client struct {
	user   models.User
	engine *engine.Engine
}

func (f *fixture) connect(t *testing.T, username string) *client {
	t.Helper()
	ctx := context.Background()
	rest := api.NewClient("http://"+f.addr+"/api", "", nil)
	auth, err := rest.Login(ctx, username, services.DemoPassword)
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}

	manager := conn.NewManager(conn.Config{
		URL:         "ws://" + f.addr + "/ws",
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		MaxAttempts: 3,
	}, conn.WSDialer{}, nil, nil)
	e := engine.New(engine.Options{
		SelfID:     auth.User.ID,
		Credential: auth.Token,
		AckTimeout: 5 * time.Second,
	}, manager, rest)

	runCtx, cancel := context.WithCancel(ctx)
	go e.Run(runCtx)
	t.Cleanup(func() {
		_ = e.Close(context.Background())
		cancel()
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start(%s): %v", username, err)
	}
	if err := e.LoadConversations(ctx); err != nil {
		t.Fatalf("LoadConversations(%s): %v", username, err)
	}
	return &client{user: auth.User, engine: e}
}

func (c *client) waitView(t *testing.T, what string, cond func(engine.View) bool) engine.View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := c.engine.View(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: timed out waiting for %s", c.user.Username, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func directWith(t *testing.T, c *client, otherID string) string {
	t.Helper()
	v, err := c.engine.View(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, conv := range v.Conversations {
		if conv.Kind != models.ConversationDirect {
			continue
		}
		if _, ok := conv.Participant(otherID); ok {
			return conv.ID
		}
	}
	t.Fatalf("%s has no direct conversation with %s", c.user.Username, otherID)
	return ""
}

func unreadOf(v engine.View, id string) int {
	for _, c := range v.Conversations {
		if c.ID == id {
			return c.UnreadCount
		}
	}
	return -1
}

func TestEndToEndConversation(t *testing.T) {
	f := startRelay(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	ctx := context.Background()

	alice.waitView(t, "bob online", func(v engine.View) bool { return v.Statuses[bob.user.ID] == models.StatusOnline })

	direct := directWith(t, alice, bob.user.ID)
	if err := alice.engine.Open(ctx, direct); err != nil {
		t.Fatalf("alice Open: %v", err)
	}

	if _, err := alice.engine.Send(ctx, direct, "hello bob"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	av := alice.waitView(t, "own message echoed", func(v engine.View) bool { return len(v.Messages) == 1 && len(v.Pending) == 0 })
	if av.Messages[0].Content != "hello bob" || unreadOf(av, direct) != 0 {
		t.Fatalf("alice view %+v", av)
	}

	bv := bob.waitView(t, "unread on direct", func(v engine.View) bool { return unreadOf(v, direct) == 1 })
	if bv.Conversations[0].ID != direct {
		t.Fatalf("direct conversation not at the top for bob: %s", bv.Conversations[0].ID)
	}
	if bv.TotalUnread != 1 {
		t.Fatalf("bob total unread %d", bv.TotalUnread)
	}

	if err := bob.engine.Open(ctx, direct); err != nil {
		t.Fatalf("bob Open: %v", err)
	}
	bv = bob.waitView(t, "history", func(v engine.View) bool { return len(v.Messages) == 1 })
	if unreadOf(bv, direct) != 0 {
		t.Fatalf("unread after open: %d", unreadOf(bv, direct))
	}

	bob.engine.Keystroke("on my way")
	alice.waitView(t, "bob typing", func(v engine.View) bool { return v.Typing == "Bob Tran is typing" })
	if _, err := bob.engine.SendDraft(ctx); err != nil {
		t.Fatalf("SendDraft: %v", err)
	}
	alice.waitView(t, "reply and typing stop", func(v engine.View) bool {
		return len(v.Messages) == 2 && v.Typing == ""
	})
}

func TestJoinOfForeignConversationIsRefused(t *testing.T) {
	f := startRelay(t)
	ctx := context.Background()
	alice, _, _ := f.store.UserByUsername(ctx, "alice")
	bob, _, _ := f.store.UserByUsername(ctx, "bob")
	carol := f.connect(t, "carol")

	conv, _, err := f.chat.GetOrCreateDirect(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	// carol is not a participant; the relay answers the join with an error event.
	_ = carol.engine.Open(ctx, conv.ID)
	v := carol.waitView(t, "error event", func(v engine.View) bool { return v.LastError != nil })
	if v.LastError.Error() != "server error: Not a participant in this conversation" {
		t.Fatalf("unexpected error %v", v.LastError)
	}
}

func TestRESTRequiresToken(t *testing.T) {
	f := startRelay(t)
	srv := relay.NewServer(f.users, f.chat, relay.NewHub(nil), nil, false)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/conversations", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}

	resp, err = srv.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("health: %v %v", resp, err)
	}

	resp, err = srv.App().Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil || resp.StatusCode != 426 {
		t.Fatalf("plain GET /ws: %v %v", resp, err)
	}
}
