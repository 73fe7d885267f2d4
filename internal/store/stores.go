// Package store defines the durable data model of the gateway core and the
// storage interfaces implemented by the pg (managed) and sqlite (standalone)
// backends.
package store

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no active row.
var ErrNotFound = errors.New("not found")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Tenants     TenantStore
	Bindings    BindingStore
	Identities  IdentityStore
	Tokens      TokenStore
	Connections ConnectionStateStore

	// Close releases the underlying database handle.
	Close func() error
}

// GenNewID returns a new time-ordered UUID for primary keys.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
