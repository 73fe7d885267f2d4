// Package routing attributes inbound messages to a tenant and a human role.
//
// Route runs three stages in order:
//
//	TenantResolver  -> which school owns the message
//	IdentityBridge  -> who is speaking (token, device lock, registries)
//	Classify        -> Admin / Staff / Guardian / Group agent context
//
// None of the stages return errors: store failures are logged and the
// stage falls through to its next signal, so dispatch always receives a
// complete RoutedMessage.
package routing

import (
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

// Envelope is the routing view of an inbound message.
type Envelope struct {
	Channel      string
	MessageID    string
	Recipient    string // gateway line that received the message
	Sender       string // sender, or group participant
	GroupAddress string // set for group messages
	IsGroup      bool
	Text         string
}

// EnvelopeFromInbound converts a bus message.
func EnvelopeFromInbound(m bus.InboundMessage) Envelope {
	env := Envelope{
		Channel:   m.Channel,
		MessageID: m.MessageID,
		Recipient: m.Recipient,
		Sender:    m.SenderID,
		IsGroup:   m.IsGroup(),
		Text:      m.Content,
	}
	if env.IsGroup {
		env.GroupAddress = m.ChatID
	}
	return env
}

// Source names the signal that resolved a tenant.
type Source string

const (
	SourceGroupBinding     Source = "group_binding"
	SourceGroupGateway     Source = "group_gateway"
	SourceGatewayBinding   Source = "gateway_binding"
	SourceAdminPhone       Source = "admin_phone"
	SourceStaffRegistry    Source = "staff_registry"
	SourceGuardianRegistry Source = "guardian_registry"
	SourceToken            Source = "token"
)

// Resolution is a resolved tenant and the signal that produced it.
type Resolution struct {
	TenantID uuid.UUID
	Source   Source
}

// IdentitySource names the signal that resolved an identity.
type IdentitySource string

const (
	IdentityToken            IdentitySource = "token"
	IdentityDeviceLock       IdentitySource = "device_lock"
	IdentityRegistry         IdentitySource = "registry"
	IdentityAdminPhone       IdentitySource = "admin_phone"
	IdentityGuardianRegistry IdentitySource = "guardian_registry"
	IdentityAnonymous        IdentitySource = "anonymous"
)

// IdentityResult is the human behind a message.
type IdentityResult struct {
	Phone       string
	Role        store.Role
	UserID      uuid.UUID // uuid.Nil for unauthenticated guardians and setup admins
	DisplayName string
	Source      IdentitySource

	// SessionID is set for direct messages with a resolved tenant.
	SessionID string
	// UserSwitch is set when a token replaced a different user's device lock.
	UserSwitch bool
	// IsAdminMessage is set for group messages from the tenant's admin.
	IsAdminMessage bool
}

// AgentContext is the audience class handed to the dispatcher.
type AgentContext string

const (
	ContextAdmin    AgentContext = "admin"
	ContextStaff    AgentContext = "staff"
	ContextGuardian AgentContext = "guardian"
	ContextGroup    AgentContext = "group"
)

// RoutedMessage is a fully resolved inbound message.
type RoutedMessage struct {
	Envelope Envelope       `json:"envelope"`
	TenantID uuid.UUID      `json:"tenant_id"` // uuid.Nil when unresolved
	Resolved bool           `json:"resolved"`
	Source   Source         `json:"source,omitempty"`
	Identity IdentityResult `json:"identity"`
	Context  AgentContext   `json:"context"`
	// ConversationKey identifies the conversation for downstream state.
	ConversationKey string `json:"conversation_key,omitempty"`
}
