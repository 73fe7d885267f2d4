package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/edugate/internal/config"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

func connectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Inspect or reset a tenant's persisted connection state",
	}
	cmd.AddCommand(connectionStatusCmd())
	cmd.AddCommand(connectionResetCmd())
	return cmd
}

func connectionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show attempts, lock and binding for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				out := struct {
					Connection *store.ConnectionRecord `json:"connection,omitempty"`
					Binding    *store.GatewayBinding   `json:"binding,omitempty"`
				}{}

				rec, err := stores.Connections.LoadConnection(ctx, tenantID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("load connection: %w", err)
				}
				out.Connection = rec

				b, err := stores.Bindings.GetGatewayBinding(ctx, tenantID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("load binding: %w", err)
				}
				out.Binding = b

				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
}

func connectionResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant-id>",
		Short: "Clear the attempt counter and lock for a tenant",
		Long:  "Clear the attempt counter and lock for a tenant. A running gateway keeps its in-memory view until restart; use POST /v1/tenants/{id}/connection/reconnect against a live gateway instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			return withStores(func(ctx context.Context, stores *store.Stores) error {
				if err := stores.Connections.ResetConnection(ctx, tenantID); err != nil {
					return fmt.Errorf("reset connection: %w", err)
				}
				fmt.Printf("connection state reset for tenant %s\n", tenantID)
				return nil
			})
		},
	}
}

func withStores(fn func(ctx context.Context, stores *store.Stores) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(context.Background(), stores)
}
