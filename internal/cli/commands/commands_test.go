package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ledger-chat/internal/api"
	"ledger-chat/internal/config"
	"ledger-chat/internal/services"
)

func TestTokenCommandSignsForRelay(t *testing.T) {
	t.Setenv("LEDGER_RELAY_JWT_SECRET", "cli-secret")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--user-id", "u-1", "--username", "alice"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		tokenUserID, tokenUsername = "", ""
	})

	if err := Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	users := services.NewUserService(nil, "cli-secret", time.Hour)
	claims, err := users.ValidateToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u-1" || claims.Username != "alice" {
		t.Fatalf("claims %+v", claims)
	}
}

func TestAuthenticateNeedsCredentials(t *testing.T) {
	cfg := &config.Config{}
	rest := api.NewClient("http://127.0.0.1:1/api", "", nil)

	if _, _, err := authenticate(context.Background(), cfg, rest); err == nil {
		t.Fatal("expected an error without token or login")
	}

	cfg.Auth.Token, cfg.Auth.UserID = "tok", "u-1"
	self, token, err := authenticate(context.Background(), cfg, rest)
	if err != nil || self != "u-1" || token != "tok" {
		t.Fatalf("configured token: %q %q %v", self, token, err)
	}
}

func TestNewEngineDerivesWebSocketURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.URL = "https://chat.example.com/api"
	cfg.Server.WSPath = "/ws"
	cfg.Reconnect.BaseDelay = time.Second
	cfg.Reconnect.MaxDelay = 5 * time.Second
	cfg.Reconnect.MaxAttempts = 5

	e, err := newEngine(cfg, api.NewClient(cfg.Server.URL, "", nil), "u-1", "tok", nil)
	if err != nil || e == nil {
		t.Fatalf("newEngine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
