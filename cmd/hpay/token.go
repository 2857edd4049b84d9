package main

import (
	"errors"
	"fmt"

	"hostel-payments/internal/service"

	"github.com/spf13/cobra"
)

var (
	tokenStaffID string
	tokenRole    string
)

// tokenCmd mints a staff token with the shared secret, for local testing
// without the identity service.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a staff JWT signed with auth.jwt_secret",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}
		tokens := service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer)
		token, expiresAt, err := tokens.Generate(tokenStaffID, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenStaffID, "staff-id", "", "staff identifier (token subject)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "warden", "staff role")
	_ = tokenCmd.MarkFlagRequired("staff-id")
}
