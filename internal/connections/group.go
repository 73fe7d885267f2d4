package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/internal/tracing"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

// NormalizeGroupAddress returns the stored form of a group address:
// "120363025246125486" and "120363025246125486@g.us" both become the latter.
func NormalizeGroupAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i >= 0 && addr[i:] != store.SuffixGroup {
		return "", ErrInvalidGroup
	}
	bare := store.BareAddress(addr)
	if bare == "" || strings.ContainsAny(bare, " /") {
		return "", ErrInvalidGroup
	}
	return bare + store.SuffixGroup, nil
}

// BindGroup makes addr the tenant's group address, replacing any previous
// binding of the tenant or of the address. Cached lookups for both the old
// and the new address are invalidated.
func (m *Manager) BindGroup(ctx context.Context, tenantID uuid.UUID, addr string) (string, error) {
	ctx, span := startSpan(ctx, tracing.SpanBindGroup, tenantID)
	defer span.End()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrShutdown
	}

	norm, err := NormalizeGroupAddress(addr)
	if err != nil {
		return "", err
	}

	var previous string
	prev, err := m.bindings.GetGroupBinding(ctx, tenantID)
	switch {
	case err == nil:
		previous = prev.Address
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("load group binding: %w", err)
	}

	if err := m.bindings.BindGroup(ctx, store.GroupBinding{TenantID: tenantID, Address: norm, Active: true}); err != nil {
		return "", fmt.Errorf("bind group: %w", err)
	}
	m.invalidateGroup(norm)
	if previous != "" && previous != norm {
		m.invalidateGroup(previous)
	}
	slog.Info("connections.group_bound", "tenant", tenantID, "address", norm, "previous", previous)
	return norm, nil
}

func (m *Manager) invalidateGroup(addr string) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Event{
		Name:    protocol.EventCacheInvalidate,
		Payload: bus.CacheInvalidatePayload{Kind: bus.CacheKindGroupBinding, Key: addr},
	})
}
