package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/edugate/internal/config"
	"github.com/nextlevelbuilder/edugate/internal/store/sqlite"
)

var migrationsDir string

var errForceUnsupported = errors.New("force is not supported by the sqlite backend")

// schemaMigrator is the migrate surface shared by both database backends.
type schemaMigrator interface {
	Backend() string
	Up() error
	Down(steps int) error
	Version() (version int64, dirty bool, err error)
	Goto(version int64) error
	Force(version int64) error
	Drop() error
	Close() error
}

func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	// Allow env override (used by Docker entrypoint).
	if v := os.Getenv("EDUGATE_MIGRATIONS_DIR"); v != "" {
		return v
	}
	// Default: ./migrations relative to the executable's working directory.
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// openMigrator picks Postgres in managed mode and the embedded SQLite
// schema otherwise.
func openMigrator() (schemaMigrator, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.IsManagedMode() {
		s, err := sqlite.OpenSchema(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite schema: %w", err)
		}
		return sqliteMigrator{s}, nil
	}
	m, err := migrate.New("file://"+resolveMigrationsDir(), cfg.Database.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return pgMigrator{m}, nil
}

type pgMigrator struct{ m *migrate.Migrate }

func (p pgMigrator) Backend() string { return "postgres" }

func (p pgMigrator) Up() error { return ignoreNoChange(p.m.Up()) }

func (p pgMigrator) Down(steps int) error { return ignoreNoChange(p.m.Steps(-steps)) }

func (p pgMigrator) Version() (int64, bool, error) {
	v, dirty, err := p.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return int64(v), dirty, err
}

func (p pgMigrator) Goto(version int64) error { return ignoreNoChange(p.m.Migrate(uint(version))) }

func (p pgMigrator) Force(version int64) error { return p.m.Force(int(version)) }

func (p pgMigrator) Drop() error { return p.m.Drop() }

func (p pgMigrator) Close() error {
	srcErr, dbErr := p.m.Close()
	return errors.Join(srcErr, dbErr)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

type sqliteMigrator struct{ s *sqlite.Schema }

func (s sqliteMigrator) Backend() string           { return "sqlite" }
func (s sqliteMigrator) Up() error                 { return s.s.Up() }
func (s sqliteMigrator) Down(steps int) error      { return s.s.Down(steps) }
func (s sqliteMigrator) Goto(version int64) error  { return s.s.Goto(version) }
func (s sqliteMigrator) Force(version int64) error { return errForceUnsupported }
func (s sqliteMigrator) Drop() error               { return s.s.Reset() }
func (s sqliteMigrator) Close() error              { return s.s.Close() }

func (s sqliteMigrator) Version() (int64, bool, error) {
	v, err := s.s.Version()
	return v, false, err
}

// withMigrator opens the configured backend for one subcommand.
func withMigrator(fn func(m schemaMigrator) error) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management (Postgres in managed mode, SQLite otherwise)",
	}

	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to Postgres migrations directory (default: ./migrations)")

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	cmd.AddCommand(migrateGotoCmd())
	cmd.AddCommand(migrateDropCmd())

	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m schemaMigrator) error {
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("migration complete", "backend", m.Backend(), "version", v, "dirty", dirty)
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				steps = 1
			}
			return withMigrator(func(m schemaMigrator) error {
				if err := m.Down(steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("rollback complete", "backend", m.Backend(), "version", v, "dirty", dirty)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m schemaMigrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("get version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backend: %s, version: %d, dirty: %v\n", m.Backend(), v, dirty)
				return nil
			})
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version without applying it (Postgres only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m schemaMigrator) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "backend", m.Backend(), "version", version)
				return nil
			})
		},
	}
}

func migrateGotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 63)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m schemaMigrator) error {
				if err := m.Goto(int64(version)); err != nil {
					return fmt.Errorf("migrate goto: %w", err)
				}
				slog.Info("migrated to version", "backend", m.Backend(), "version", version)
				return nil
			})
		},
	}
}

func migrateDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop all tables (DANGEROUS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m schemaMigrator) error {
				if err := m.Drop(); err != nil {
					return fmt.Errorf("drop: %w", err)
				}
				slog.Info("all tables dropped", "backend", m.Backend())
				return nil
			})
		},
	}
}
