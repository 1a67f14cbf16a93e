package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
)

// secretFromEnv mirrors the server: the gateway JWT secret, falling back to
// the signing secret.
func secretFromEnv() string {
	if s := os.Getenv("EVENT_BUS_JWT_SECRET"); s != "" {
		return s
	}
	return os.Getenv("EVENT_BUS_SECRET")
}

// newTokenCommand constructs the `token` command, which mints a gateway
// bearer token locally.
func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a WebSocket gateway token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				secret = secretFromEnv()
			}
			if secret == "" {
				return errors.New("no secret; pass --secret or set EVENT_BUS_JWT_SECRET")
			}
			jm, err := auth.NewJWTManager(secret)
			if err != nil {
				return err
			}
			token, err := jm.GenerateToken(contextOrBackground(cmd), user, email, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (sub)")
	cmd.Flags().String("email", "", "User email")
	cmd.Flags().String("role", "", "User role")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	cmd.Flags().String("secret", "", "Signing secret (default from EVENT_BUS_JWT_SECRET or EVENT_BUS_SECRET)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
