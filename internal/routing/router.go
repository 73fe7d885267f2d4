package routing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/edugate/internal/metrics"
	"github.com/nextlevelbuilder/edugate/internal/sessions"
	"github.com/nextlevelbuilder/edugate/internal/tracing"
)

// Router runs tenant resolution, identity resolution, and classification.
type Router struct {
	tenants  *TenantResolver
	identity *IdentityBridge
	metrics  *metrics.Metrics
}

func NewRouter(tenants *TenantResolver, identity *IdentityBridge, m *metrics.Metrics) *Router {
	return &Router{tenants: tenants, identity: identity, metrics: m}
}

// Route always returns a structurally valid RoutedMessage. An unresolvable
// tenant yields ContextGuardian with no tenant.
func (r *Router) Route(ctx context.Context, env Envelope) RoutedMessage {
	ctx, span := tracing.Tracer().Start(ctx, tracing.SpanRoute)
	defer span.End()

	out := RoutedMessage{Envelope: env}

	res, ok := r.tenants.Resolve(ctx, env)
	if ok {
		out.TenantID = res.TenantID
		out.Resolved = true
		out.Source = res.Source
	} else {
		slog.Warn("routing.unresolved_tenant",
			"channel", env.Channel,
			"recipient", env.Recipient,
			"sender", env.Sender,
			"group", env.IsGroup,
		)
	}
	r.metrics.TenantResolved(string(out.Source))

	out.Identity = r.identity.Resolve(ctx, out.TenantID, env)
	r.metrics.IdentityResolved(string(out.Identity.Source))

	out.Context = Classify(env.IsGroup, out.Identity.Role)

	switch {
	case out.TenantID == uuid.Nil:
	case env.IsGroup:
		out.ConversationKey = sessions.BuildSessionKey(out.TenantID, env.Channel, sessions.PeerGroup, env.GroupAddress)
	default:
		out.ConversationKey = out.Identity.SessionID
	}

	span.SetAttributes(
		attribute.String(tracing.AttrTenantID, out.TenantID.String()),
		attribute.String(tracing.AttrSource, string(out.Source)),
		attribute.String(tracing.AttrRole, string(out.Identity.Role)),
		attribute.String(tracing.AttrContext, string(out.Context)),
		attribute.Bool(tracing.AttrIsGroup, env.IsGroup),
	)

	slog.Debug("routing.routed",
		"tenant", out.TenantID,
		"source", out.Source,
		"identity", out.Identity.Source,
		"role", out.Identity.Role,
		"context", out.Context,
	)
	return out
}
