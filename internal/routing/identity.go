package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/accesstoken"
	"github.com/nextlevelbuilder/edugate/internal/sessions"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

// IdentityBridge resolves the human behind a message within a tenant.
//
// Direct messages, first hit wins:
//
//	token        valid token for this tenant; acquires the phone's session
//	device lock  unexpired authenticated session on the phone (any tenant)
//	registry     admin/staff identity for phone+tenant
//	admin phone  sender equals the tenant's admin phone (setup before provisioning)
//	guardian     registered guardian for phone+tenant
//	anonymous    unauthenticated guardian, name from session context
//
// Group messages use registry and admin phone only and never touch sessions.
type IdentityBridge struct {
	tenants    store.TenantStore
	identities store.IdentityStore
	tokens     store.TokenStore
	sessions   sessions.Store
	now        func() time.Time
}

func NewIdentityBridge(tenants store.TenantStore, identities store.IdentityStore, tokens store.TokenStore, sess sessions.Store) *IdentityBridge {
	return &IdentityBridge{
		tenants:    tenants,
		identities: identities,
		tokens:     tokens,
		sessions:   sess,
		now:        time.Now,
	}
}

// Resolve never fails; it degrades to an anonymous guardian. With no tenant
// the message is anonymous and no session is read or written.
func (b *IdentityBridge) Resolve(ctx context.Context, tenantID uuid.UUID, env Envelope) IdentityResult {
	phone := store.NormalizePhone(env.Sender)
	if tenantID == uuid.Nil || phone == "" {
		return IdentityResult{Phone: phone, Role: store.RoleGuardian, Source: IdentityAnonymous}
	}
	if env.IsGroup {
		return b.resolveGroup(ctx, tenantID, phone)
	}

	res := b.resolveDirect(ctx, tenantID, env, phone)
	res.SessionID = sessions.BuildSessionKey(tenantID, env.Channel, sessions.PeerDirect, phone)
	return res
}

func (b *IdentityBridge) resolveDirect(ctx context.Context, tenantID uuid.UUID, env Envelope, phone string) IdentityResult {
	if res, ok := b.redeemToken(ctx, tenantID, env, phone); ok {
		return res
	}

	sess, hasSession := b.sessions.Get(ctx, phone)
	if hasSession && sess.HoldsDevice() {
		if sess.TenantID != tenantID {
			slog.Debug("routing.device_lock_cross_tenant", "phone", phone, "session_tenant", sess.TenantID, "tenant", tenantID)
		}
		return IdentityResult{
			Phone:       phone,
			Role:        sess.Role,
			UserID:      sess.UserID,
			DisplayName: sess.Context[sessions.ContextName],
			Source:      IdentityDeviceLock,
		}
	}

	if id := b.findIdentity(ctx, tenantID, phone); id != nil {
		return IdentityResult{
			Phone:       phone,
			Role:        id.Role,
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			Source:      IdentityRegistry,
		}
	}

	if b.isAdminPhone(ctx, tenantID, phone) {
		return IdentityResult{Phone: phone, Role: store.RoleAdmin, Source: IdentityAdminPhone}
	}

	g, err := b.identities.FindGuardian(ctx, phone, tenantID)
	if err == nil {
		return IdentityResult{
			Phone:       phone,
			Role:        store.RoleGuardian,
			UserID:      g.GuardianID,
			DisplayName: g.Name,
			Source:      IdentityGuardianRegistry,
		}
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("routing.lookup_failed", "kind", "guardian", "phone", phone, "error", err)
	}

	res := IdentityResult{Phone: phone, Role: store.RoleGuardian, Source: IdentityAnonymous}
	if hasSession {
		res.DisplayName = sess.Context[sessions.ContextName]
	}
	return res
}

// redeemToken validates a token against the tenant and locks the phone to
// its user. The newest valid token always wins the device.
func (b *IdentityBridge) redeemToken(ctx context.Context, tenantID uuid.UUID, env Envelope, phone string) (IdentityResult, bool) {
	parsed, ok := accesstoken.Parse(env.Text)
	if !ok {
		return IdentityResult{}, false
	}
	tok := lookupToken(ctx, b.tokens, parsed, b.now())
	if tok == nil {
		return IdentityResult{}, false
	}
	if tok.TenantID != tenantID {
		slog.Debug("routing.token_tenant_mismatch", "token_tenant", tok.TenantID, "tenant", tenantID)
		return IdentityResult{}, false
	}

	res := IdentityResult{
		Phone:  phone,
		Role:   tok.Role,
		UserID: tok.UserID,
		Source: IdentityToken,
	}
	prev, err := b.sessions.Acquire(ctx, phone, sessions.Identity{
		Role:     tok.Role,
		UserID:   tok.UserID,
		TenantID: tok.TenantID,
		Channel:  env.Channel,
	})
	if err != nil {
		slog.Warn("routing.session_acquire_failed", "phone", phone, "error", err)
	}
	switch {
	case prev == nil:
	case prev.HoldsDevice() && prev.UserID != tok.UserID:
		res.UserSwitch = true
		slog.Info("routing.user_switch", "phone", phone, "tenant", tenantID, "previous_user", prev.UserID, "user", tok.UserID)
	default:
		res.DisplayName = prev.Context[sessions.ContextName]
	}
	return res, true
}

func (b *IdentityBridge) resolveGroup(ctx context.Context, tenantID uuid.UUID, phone string) IdentityResult {
	res := IdentityResult{Phone: phone, Role: store.RoleGuardian, Source: IdentityAnonymous}
	if id := b.findIdentity(ctx, tenantID, phone); id != nil {
		res.Role = id.Role
		res.UserID = id.UserID
		res.DisplayName = id.DisplayName
		res.Source = IdentityRegistry
	} else if b.isAdminPhone(ctx, tenantID, phone) {
		res.Role = store.RoleAdmin
		res.Source = IdentityAdminPhone
	}
	res.IsAdminMessage = res.Role == store.RoleAdmin
	return res
}

func (b *IdentityBridge) findIdentity(ctx context.Context, tenantID uuid.UUID, phone string) *store.UserIdentity {
	id, err := b.identities.FindIdentity(ctx, phone, tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("routing.lookup_failed", "kind", "identity", "phone", phone, "error", err)
		}
		return nil
	}
	return id
}

func (b *IdentityBridge) isAdminPhone(ctx context.Context, tenantID uuid.UUID, phone string) bool {
	t, err := b.tenants.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("routing.lookup_failed", "kind", "tenant", "tenant", tenantID, "error", err)
		}
		return false
	}
	return t.AdminPhone != "" && t.AdminPhone == phone
}
