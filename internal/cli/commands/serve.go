package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger-chat/internal/relay"
)

var (
	servePort int
	serveSeed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development relay",
	Long: `Run a relay backend that serves the REST endpoints and the /ws event stream.
Data is kept in PostgreSQL when relay.database_url (or POSTGRES_HOST) is set,
in memory otherwise.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides relay.port)")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "create demo accounts and conversations")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	port := cfg.Relay.Port
	if servePort > 0 {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = relay.Run(ctx, relay.Options{
		Port:        port,
		DatabaseURL: cfg.DatabaseURL(),
		JWTSecret:   cfg.Relay.JWTSecret,
		TokenTTL:    cfg.Relay.TokenTTL,
		Seed:        serveSeed,
		RequestLog:  cfg.Log.Level == "debug",
	}, log)
	if err != nil {
		log.Error("relay stopped", zap.Error(err))
	}
	return err
}
