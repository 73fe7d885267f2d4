package sessions

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// DefaultTTL is how long a session stays active after it is acquired.
const DefaultTTL = 24 * time.Hour

// Kind separates staff sessions (admin and staff roles) from guardian sessions.
type Kind string

const (
	KindStaff    Kind = "staff"
	KindGuardian Kind = "guardian"
)

// KindForRole maps a role to its session kind.
func KindForRole(r store.Role) Kind {
	switch r {
	case store.RoleAdmin, store.RoleStaff:
		return KindStaff
	}
	return KindGuardian
}

// Well-known context keys.
const (
	ContextName = "name"
)

// Identity is what an authentication establishes on a phone.
type Identity struct {
	Role     store.Role
	UserID   uuid.UUID
	TenantID uuid.UUID
	Channel  string
}

// Session is the per-phone record. At most one exists per phone; a newer
// Acquire replaces it whatever its kind or tenant.
type Session struct {
	ID        string            `json:"id,omitempty"`
	Phone     string            `json:"phone"`
	Kind      Kind              `json:"kind"`
	Role      store.Role        `json:"role,omitempty"`
	UserID    uuid.UUID         `json:"user_id"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// HoldsDevice reports whether the session locks its phone to a user.
// Context-only sessions created before authentication do not.
func (s *Session) HoldsDevice() bool {
	return s.UserID != uuid.Nil && s.Role != ""
}

func (s *Session) clone() *Session {
	c := *s
	c.Context = maps.Clone(s.Context)
	return &c
}

// Store is the session contract shared by the memory and redis backends.
// Writes for one phone are last-writer-wins; concurrent writers are not
// serialized.
type Store interface {
	// Acquire installs a session for phone bound to id, replacing any existing
	// one, and returns the unexpired session it replaced (nil if none).
	Acquire(ctx context.Context, phone string, id Identity) (*Session, error)
	// Get returns the unexpired session for phone.
	Get(ctx context.Context, phone string) (*Session, bool)
	// SetContext stores a context value, creating a context-only session if none is active.
	SetContext(ctx context.Context, phone, key, value string) error
	Delete(ctx context.Context, phone string) error
	// Sweep drops sessions expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) int
}

// Option configures a Store backend.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// newSession builds the record Acquire installs. Context carries forward
// from a context-only session and from the same user's previous session.
func newSession(phone string, id Identity, prev *Session, now time.Time, ttl time.Duration) *Session {
	s := &Session{
		Phone:     phone,
		Kind:      KindForRole(id.Role),
		Role:      id.Role,
		UserID:    id.UserID,
		TenantID:  id.TenantID,
		Context:   map[string]string{},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if id.TenantID != uuid.Nil {
		s.ID = BuildSessionKey(id.TenantID, id.Channel, PeerDirect, phone)
	}
	if prev != nil && (!prev.HoldsDevice() || prev.UserID == id.UserID) {
		maps.Copy(s.Context, prev.Context)
	}
	return s
}

func newContextSession(phone string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		Phone:     phone,
		Kind:      KindGuardian,
		Context:   map[string]string{},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
