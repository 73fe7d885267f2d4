package connections

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

// Event is a connection event for one tenant. Fields beyond Type, TenantID,
// and At are set according to Type.
type Event struct {
	Type     string    `json:"type"`
	TenantID uuid.UUID `json:"tenantId"`
	At       time.Time `json:"at"`

	QRData      string     `json:"qrData,omitempty"`      // qr
	Attempt     int        `json:"attempt,omitempty"`     // qr
	BoundPeerID string     `json:"boundPeerId,omitempty"` // connected
	LockedUntil *time.Time `json:"lockedUntil,omitempty"` // locked
	Code        string     `json:"code,omitempty"`        // pairing-code, pairing-code-expired
	PhoneNumber string     `json:"phoneNumber,omitempty"` // pairing-code, pairing-code-expired
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`   // pairing-code-expired
	Error       string     `json:"error,omitempty"`       // error, pairing-error
	Reason      string     `json:"reason,omitempty"`      // disconnected
}

// ReasonRequested is the disconnected reason for an explicit Disconnect.
const ReasonRequested = "disconnected by request"

// Terminal reports whether the event ends a client's event stream.
func (e Event) Terminal() bool {
	return protocol.IsTerminalEvent(e.Type)
}

// DefaultSubscriptionBuffer is the per-subscriber channel capacity.
const DefaultSubscriptionBuffer = 32

// Hub fans tenant events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscription]struct{}
	buf  int
}

func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = DefaultSubscriptionBuffer
	}
	return &Hub{subs: make(map[uuid.UUID]map[*Subscription]struct{}), buf: buf}
}

// Subscription receives events for one tenant until closed.
type Subscription struct {
	hub      *Hub
	tenantID uuid.UUID
	ch       chan Event
	once     sync.Once
}

// Events returns the receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close releases the subscription. The tenant's connection attempt is not affected.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.tenantID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.tenantID)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

func (h *Hub) Subscribe(tenantID uuid.UUID) *Subscription {
	return h.subscribe(tenantID, nil)
}

// subscribe registers a subscription whose channel already holds initial.
func (h *Hub) subscribe(tenantID uuid.UUID, initial []Event) *Subscription {
	s := &Subscription{hub: h, tenantID: tenantID, ch: make(chan Event, max(h.buf, len(initial)))}
	for _, ev := range initial {
		s.ch <- ev
	}
	h.mu.Lock()
	set, ok := h.subs[tenantID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[tenantID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.TenantID] {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("connections.event_dropped", "tenant", ev.TenantID, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of open subscriptions for tenantID.
func (h *Hub) Subscribers(tenantID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[tenantID])
}
