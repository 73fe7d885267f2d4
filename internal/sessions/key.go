// Package sessions — per-phone session records and the session key builder.
//
// Session keys are tenant-scoped and follow:
//
//	tenant:{tenantId}:{channel}:{kind}:{peer}
//
// Examples:
//
//	tenant:0190f7a2-...:whatsapp:direct:2348012345678
//	tenant:0190f7a2-...:whatsapp:group:120363041234567890
//
// The key identifies a conversation for the downstream dispatcher. The
// session record itself is keyed by phone only (a phone is one device).
package sessions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical session key for a tenant conversation.
//
//	tenant:{tenantId}:{channel}:{kind}:{peer}
func BuildSessionKey(tenantID uuid.UUID, channel string, kind PeerKind, peer string) string {
	return fmt.Sprintf("tenant:%s:%s:%s:%s", tenantID, channel, kind, peer)
}

// ParseSessionKey extracts the tenant id and rest from a canonical session key.
// Returns (uuid.Nil, "") if the key is not in the expected format.
func ParseSessionKey(key string) (tenantID uuid.UUID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "tenant" {
		return uuid.Nil, ""
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, ""
	}
	return id, parts[2]
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
