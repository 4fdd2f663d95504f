package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger-chat/internal/api"
	"ledger-chat/internal/cli/tui"
	"ledger-chat/internal/config"
	"ledger-chat/internal/conn"
	"ledger-chat/internal/engine"
	"ledger-chat/internal/logging"
	"ledger-chat/internal/timers"
)

const defaultLogFile = "ledgerchat.log"

var (
	chatUsername string
	chatPassword string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat screen",
	Long: `Connect to the backend and open the chat screen.

Log in with --username/--password, or set auth.token and auth.user_id.

Keys:
  Tab / Shift+Tab   switch conversation
  Enter             send, or run /dm <user>, /find <name>, /reconnect, /quit
  PgUp / PgDown     scroll
  Esc               quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUsername, "username", "u", "", "log in as this user")
	chatCmd.Flags().StringVarP(&chatPassword, "password", "p", "", "password for --username")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = defaultLogFile
	}
	log, err := logging.ToFile(cfg.Log.Level, logFile)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rest := api.NewClient(cfg.Server.URL, cfg.Auth.Token, log)
	selfID, token, err := authenticate(ctx, cfg, rest)
	if err != nil {
		return err
	}

	e, err := newEngine(cfg, rest, selfID, token, log)
	if err != nil {
		return err
	}
	go func() { _ = e.Run(ctx) }()
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = e.Close(closeCtx)
	}()

	// A failed first dial is retried by the reconnect policy; the screen shows progress.
	if err := e.Start(ctx); err != nil {
		log.Warn("initial connect failed", zap.Error(err))
	}
	if err := e.LoadConversations(ctx); err != nil {
		return err
	}
	return tui.Run(e)
}

func authenticate(ctx context.Context, cfg *config.Config, rest *api.Client) (selfID, token string, err error) {
	if chatUsername != "" {
		auth, err := rest.Login(ctx, chatUsername, chatPassword)
		if err != nil {
			return "", "", fmt.Errorf("login failed: %w", err)
		}
		return auth.User.ID, auth.Token, nil
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		return "", "", errors.New("not authenticated: pass --username/--password or set auth.token and auth.user_id")
	}
	return cfg.Auth.UserID, cfg.Auth.Token, nil
}

func newEngine(cfg *config.Config, rest *api.Client, selfID, token string, log *zap.Logger) (*engine.Engine, error) {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, err
	}
	manager := conn.NewManager(conn.Config{
		URL:         wsURL,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Jitter:      cfg.Reconnect.Jitter,
		DialTimeout: cfg.Reconnect.DialTimeout,
	}, conn.WSDialer{}, timers.Real{}, log)

	return engine.New(engine.Options{
		SelfID:       selfID,
		Credential:   token,
		TypingExpiry: cfg.Typing.Expiry,
		TypingIdle:   cfg.Typing.Idle,
		AckTimeout:   cfg.Send.AckTimeout,
		PageSize:     cfg.History.PageSize,
		Logger:       log,
	}, manager, rest), nil
}
