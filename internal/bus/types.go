package bus

import "context"

// InboundMessage represents a message received on a tenant's gateway line.
type InboundMessage struct {
	Channel   string            `json:"channel"` // transport name, e.g. "whatsapp"
	MessageID string            `json:"message_id,omitempty"`
	Recipient string            `json:"recipient"` // gateway line address that received the message
	ChatID    string            `json:"chat_id"`   // conversation address (group address for groups)
	SenderID  string            `json:"sender_id"` // sender / group participant address
	Content   string            `json:"content"`
	PeerKind  string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the message arrived in a group conversation.
func (m InboundMessage) IsGroup() bool { return m.PeerKind == PeerGroup }

// Peer kinds.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// OutboundMessage represents a reply to be written back on a tenant's gateway line.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	TenantID string            `json:"tenant_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event represents a server-side event broadcast to in-process subscribers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Cache invalidation kind constants.
const (
	CacheKindGatewayBinding = "gateway_binding"
	CacheKindGroupBinding   = "group_binding"
)

// CacheInvalidatePayload signals cache layers to evict stale entries.
// Used with protocol.EventCacheInvalidate events.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"` // CacheKind* constants
	Key  string `json:"key"`  // address; empty = invalidate all
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message flow between the bridge and dispatch.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
