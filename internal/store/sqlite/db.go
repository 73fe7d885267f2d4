// Package sqlite implements the store interfaces on an embedded SQLite
// database for standalone deployments and tests.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens a SQLite database at the given path and runs migrations.
// ":memory:" opens a private in-memory database pinned to one connection.
func Open(dbPath string) (*sql.DB, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func setupGoose() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Schema runs the embedded migrations against a database on demand. It backs
// the migrate command in standalone mode.
type Schema struct {
	db *sql.DB
}

// OpenSchema opens dbPath without migrating it.
func OpenSchema(dbPath string) (*Schema, error) {
	if err := setupGoose(); err != nil {
		return nil, err
	}
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Schema{db: db}, nil
}

func (s *Schema) Close() error { return s.db.Close() }

func (s *Schema) Up() error {
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back steps migrations; it stops early at version 0.
func (s *Schema) Down(steps int) error {
	for i := 0; i < steps; i++ {
		v, err := s.Version()
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if err := goose.Down(s.db, "migrations"); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	}
	return nil
}

func (s *Schema) Version() (int64, error) {
	v, err := goose.GetDBVersion(s.db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return v, nil
}

// Goto migrates up or down to version.
func (s *Schema) Goto(version int64) error {
	current, err := s.Version()
	if err != nil {
		return err
	}
	switch {
	case version > current:
		err = goose.UpTo(s.db, "migrations", version)
	case version < current:
		err = goose.DownTo(s.db, "migrations", version)
	}
	if err != nil {
		return fmt.Errorf("goose goto %d: %w", version, err)
	}
	return nil
}

// Reset rolls back every migration, leaving an empty schema.
func (s *Schema) Reset() error {
	if err := goose.Reset(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose reset: %w", err)
	}
	return nil
}

// NewStores opens dbPath and returns all stores backed by it.
func NewStores(dbPath string) (*store.Stores, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return newStores(db), nil
}

func newStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Tenants:     NewTenantStore(db),
		Bindings:    NewBindingStore(db),
		Identities:  NewIdentityStore(db),
		Tokens:      NewTokenStore(db),
		Connections: NewConnectionStore(db),
		Close:       db.Close,
	}
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
