package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger-chat/internal/config"
	"ledger-chat/internal/logging"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:     "ledgerchat",
	Short:   "Realtime conversation client and dev relay",
	Version: version,
	Long: `ledgerchat keeps a live, consistent view of your conversations over a
websocket connection: rooms, unread counts, typing indicators and sends.

It also ships a development relay that speaks the same protocol.`,
	Example: `  # Start a relay with demo accounts (alice, bob, carol / password)
  $ ledgerchat serve --seed

  # Chat as alice
  $ ledgerchat chat -u alice -p password

  # Mint a token for an existing user
  $ ledgerchat token --user-id 7f3c... --username alice`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./configs/ledgerchat.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(chatCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return log, nil
}
