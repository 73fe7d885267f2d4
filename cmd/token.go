package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/edugate/internal/config"
	httpapi "github.com/nextlevelbuilder/edugate/internal/http"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <tenant-id>",
		Short: "Issue a tenant-scoped API token signed with EDUGATE_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			r := store.Role(role)
			if r != store.RoleAdmin && r != store.RoleStaff {
				return fmt.Errorf("invalid role %q (want admin or staff)", role)
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Gateway.JWTSecret == "" {
				return fmt.Errorf("EDUGATE_JWT_SECRET environment variable is not set")
			}
			tok, err := httpapi.SignTenantToken(cfg.Gateway.JWTSecret, tenantID, r, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(store.RoleAdmin), "token role: admin or staff")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
