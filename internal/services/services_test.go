package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ledger-chat/internal/models"
)

func newServices(t *testing.T) (*UserService, *ChatService, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return NewUserService(store, "test-secret", time.Hour), NewChatService(store), store
}

func register(t *testing.T, users *UserService, name string) models.User {
	t.Helper()
	u, err := users.Register(context.Background(), RegisterRequest{Username: name, Password: "pw"})
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	users, _, _ := newServices(t)
	ctx := context.Background()
	alice := register(t, users, "alice")

	if _, err := users.Register(ctx, RegisterRequest{Username: "alice", Password: "x"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := users.Login(ctx, models.LoginRequest{Username: "alice", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	res, err := users.Login(ctx, models.LoginRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := users.ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != alice.ID || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	users, _, store := newServices(t)
	other := NewUserService(store, "another-secret", time.Hour)
	token, err := other.GenerateJWT("u1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := users.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestDirectConversationIsReused(t *testing.T) {
	users, chat, _ := newServices(t)
	ctx := context.Background()
	alice := register(t, users, "alice")
	bob := register(t, users, "bob")

	first, created, err := chat.GetOrCreateDirect(ctx, alice.ID, bob.ID)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := chat.GetOrCreateDirect(ctx, bob.ID, alice.ID)
	if err != nil || created || second.ID != first.ID {
		t.Fatalf("expected reuse of %s, got %s created=%v err=%v", first.ID, second.ID, created, err)
	}
	if second.DisplayName(alice.ID) != "bob" {
		t.Fatalf("participants not resolved: %+v", second.Participants)
	}
	if _, _, err := chat.GetOrCreateDirect(ctx, alice.ID, alice.ID); err == nil {
		t.Fatal("conversation with self accepted")
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	users, chat, _ := newServices(t)
	ctx := context.Background()
	alice := register(t, users, "alice")
	bob := register(t, users, "bob")
	carol := register(t, users, "carol")
	conv, _, _ := chat.GetOrCreateDirect(ctx, alice.ID, bob.ID)

	if _, err := chat.SendMessage(ctx, carol.ID, models.SendMessagePayload{ConversationID: conv.ID, Content: "hi"}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := chat.SendMessage(ctx, alice.ID, models.SendMessagePayload{ConversationID: conv.ID, Content: "  "}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	msg, err := chat.SendMessage(ctx, alice.ID, models.SendMessagePayload{ConversationID: conv.ID, Content: "hi", ClientID: "corr-1"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID == "" || msg.Type != models.MessageText || msg.ClientID != "corr-1" || msg.Sender == nil {
		t.Fatalf("unexpected message %+v", msg)
	}

	convs, _ := chat.Conversations(ctx, bob.ID)
	if len(convs) != 1 || convs[0].LastMessage == nil || convs[0].LastMessage.ID != msg.ID {
		t.Fatalf("last message not recorded: %+v", convs)
	}
}

func TestHistoryPaging(t *testing.T) {
	users, chat, _ := newServices(t)
	ctx := context.Background()
	alice := register(t, users, "alice")
	bob := register(t, users, "bob")
	conv, _, _ := chat.GetOrCreateDirect(ctx, alice.ID, bob.ID)
	for i := 0; i < 5; i++ {
		if _, err := chat.SendMessage(ctx, alice.ID, models.SendMessagePayload{ConversationID: conv.ID, Content: strings.Repeat("x", i+1)}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := chat.History(ctx, conv.ID, bob.ID, 1, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "xxxx" || page.Messages[1].Content != "xxxxx" {
		t.Fatalf("newest page wrong: %+v", page.Messages)
	}
	if page.Pagination.Total != 5 || page.Pagination.TotalPages != 3 {
		t.Fatalf("pagination %+v", page.Pagination)
	}
	last, _ := chat.History(ctx, conv.ID, bob.ID, 3, 2)
	if len(last.Messages) != 1 || last.Messages[0].Content != "x" {
		t.Fatalf("oldest page wrong: %+v", last.Messages)
	}
	beyond, _ := chat.History(ctx, conv.ID, bob.ID, 9, 2)
	if beyond.Messages == nil || len(beyond.Messages) != 0 {
		t.Fatalf("page past the end: %+v", beyond.Messages)
	}
}

func TestConversationsOrderedByActivity(t *testing.T) {
	users, chat, _ := newServices(t)
	ctx := context.Background()
	alice := register(t, users, "alice")
	bob := register(t, users, "bob")
	carol := register(t, users, "carol")

	direct, _, _ := chat.GetOrCreateDirect(ctx, alice.ID, bob.ID)
	group, _ := chat.CreateGroup(ctx, "Trip", []string{alice.ID, bob.ID, carol.ID})
	if _, err := chat.SendMessage(ctx, bob.ID, models.SendMessagePayload{ConversationID: direct.ID, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	convs, _ := chat.Conversations(ctx, alice.ID)
	if len(convs) != 2 || convs[0].ID != direct.ID || convs[1].ID != group.ID {
		t.Fatalf("unexpected order %v / %v", convs[0].ID, convs[1].ID)
	}
	carolConvs, _ := chat.Conversations(ctx, carol.ID)
	if len(carolConvs) != 1 || carolConvs[0].ID != group.ID {
		t.Fatalf("carol sees %+v", carolConvs)
	}
}

func TestFriendsExcludesSelf(t *testing.T) {
	users, _, _ := newServices(t)
	alice := register(t, users, "alice")
	bob := register(t, users, "bob")

	friends, err := users.Friends(context.Background(), alice.ID, func(id string) bool { return id == bob.ID })
	if err != nil {
		t.Fatal(err)
	}
	if len(friends) != 1 || friends[0].ID != bob.ID || friends[0].Status != "online" {
		t.Fatalf("unexpected friends %+v", friends)
	}
}

func TestSeedDemoIsRepeatable(t *testing.T) {
	users, chat, store := newServices(t)
	ctx := context.Background()
	if err := SeedDemo(ctx, users, chat); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	if err := SeedDemo(ctx, users, chat); err != nil {
		t.Fatalf("second SeedDemo: %v", err)
	}
	alice, _, _ := store.UserByUsername(ctx, "alice")
	convs, _ := chat.Conversations(ctx, alice.ID)
	if len(convs) != 2 {
		t.Fatalf("expected 2 seeded conversations, got %d", len(convs))
	}
}
