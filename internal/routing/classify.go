package routing

import "github.com/nextlevelbuilder/edugate/internal/store"

// Classify maps message origin and role to an agent context. Group messages
// are always ContextGroup; the participant role stays on the identity.
func Classify(isGroup bool, role store.Role) AgentContext {
	if isGroup {
		return ContextGroup
	}
	switch role {
	case store.RoleAdmin:
		return ContextAdmin
	case store.RoleStaff:
		return ContextStaff
	default:
		return ContextGuardian
	}
}
