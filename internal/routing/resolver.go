package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/accesstoken"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

// TenantResolver attributes a message to a tenant. Bindings are preferred
// over registries, and the embedded token is the resolver of last resort.
type TenantResolver struct {
	bindings   BindingLookup
	tenants    store.TenantStore
	identities store.IdentityStore
	tokens     store.TokenStore
	now        func() time.Time
}

func NewTenantResolver(bindings BindingLookup, tenants store.TenantStore, identities store.IdentityStore, tokens store.TokenStore) *TenantResolver {
	return &TenantResolver{
		bindings:   bindings,
		tenants:    tenants,
		identities: identities,
		tokens:     tokens,
		now:        time.Now,
	}
}

// Resolve returns the tenant for env, or false when every signal is exhausted.
func (r *TenantResolver) Resolve(ctx context.Context, env Envelope) (Resolution, bool) {
	if env.IsGroup {
		for _, addr := range store.GroupAddressForms(env.GroupAddress) {
			if id, ok := r.lookup(ctx, "group_binding", addr, r.bindings.TenantByGroupAddress); ok {
				return Resolution{TenantID: id, Source: SourceGroupBinding}, true
			}
		}
		if id, ok := r.lookup(ctx, "gateway_binding", env.Recipient, r.bindings.TenantByGatewayAddress); ok {
			return Resolution{TenantID: id, Source: SourceGroupGateway}, true
		}
	} else {
		if id, ok := r.lookup(ctx, "gateway_binding", env.Recipient, r.bindings.TenantByGatewayAddress); ok {
			return Resolution{TenantID: id, Source: SourceGatewayBinding}, true
		}
		if res, ok := r.resolveBySender(ctx, env.Sender); ok {
			return res, true
		}
	}

	if parsed, ok := accesstoken.Parse(env.Text); ok {
		if tok := r.usableToken(ctx, parsed); tok != nil {
			return Resolution{TenantID: tok.TenantID, Source: SourceToken}, true
		}
	}
	return Resolution{}, false
}

func (r *TenantResolver) lookup(ctx context.Context, kind, addr string, fn func(context.Context, string) (uuid.UUID, error)) (uuid.UUID, bool) {
	if addr == "" {
		return uuid.Nil, false
	}
	id, err := fn(ctx, addr)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("routing.lookup_failed", "kind", kind, "address", addr, "error", err)
		}
		return uuid.Nil, false
	}
	return id, true
}

// resolveBySender recovers tenants that have not finished pairing: admin
// phone, then staff registry, then guardian registry.
func (r *TenantResolver) resolveBySender(ctx context.Context, sender string) (Resolution, bool) {
	phone := store.NormalizePhone(sender)
	if phone == "" {
		return Resolution{}, false
	}

	admins, err := r.tenants.FindByAdminPhone(ctx, phone)
	if err != nil {
		slog.Warn("routing.lookup_failed", "kind", "admin_phone", "phone", phone, "error", err)
	} else if len(admins) > 0 {
		ids := make([]uuid.UUID, len(admins))
		for i, t := range admins {
			ids[i] = t.ID
		}
		return pickTenant(SourceAdminPhone, phone, ids), true
	}

	staff, err := r.identities.TenantsByStaffPhone(ctx, phone)
	if err != nil {
		slog.Warn("routing.lookup_failed", "kind", "staff_registry", "phone", phone, "error", err)
	} else if len(staff) > 0 {
		return pickTenant(SourceStaffRegistry, phone, staff), true
	}

	guardians, err := r.identities.TenantsByGuardianPhone(ctx, phone)
	if err != nil {
		slog.Warn("routing.lookup_failed", "kind", "guardian_registry", "phone", phone, "error", err)
	} else if len(guardians) > 0 {
		return pickTenant(SourceGuardianRegistry, phone, guardians), true
	}
	return Resolution{}, false
}

// pickTenant takes the oldest tenant when a phone is registered in several.
func pickTenant(src Source, phone string, ids []uuid.UUID) Resolution {
	if len(ids) > 1 {
		slog.Warn("routing.ambiguous_tenant", "source", src, "phone", phone, "candidates", len(ids), "chosen", ids[0])
	}
	return Resolution{TenantID: ids[0], Source: src}
}

// usableToken loads a parsed token and returns it only if it is unrevoked,
// unexpired, and its stored role matches the prefix.
func (r *TenantResolver) usableToken(ctx context.Context, parsed accesstoken.ParsedToken) *store.AccessToken {
	return lookupToken(ctx, r.tokens, parsed, r.now())
}

func lookupToken(ctx context.Context, tokens store.TokenStore, parsed accesstoken.ParsedToken, now time.Time) *store.AccessToken {
	tok, err := tokens.GetToken(ctx, parsed.Normalized)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("routing.token_lookup_failed", "error", err)
		}
		return nil
	}
	if !tok.Usable(now) || tok.Role != parsed.Role {
		slog.Debug("routing.token_rejected", "revoked", tok.Revoked, "expired", !now.Before(tok.ExpiresAt))
		return nil
	}
	return tok
}
