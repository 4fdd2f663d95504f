package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledger-chat/internal/services"
)

var (
	tokenUserID   string
	tokenUsername string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a relay token for a user",
	Long:  `Sign a token with relay.jwt_secret, valid for relay.token_ttl. Prints the token only.`,
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "username")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenUserID == "" {
		return errors.New("--user-id is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	users := services.NewUserService(nil, cfg.Relay.JWTSecret, cfg.Relay.TokenTTL)
	token, err := users.GenerateJWT(tokenUserID, tokenUsername)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
