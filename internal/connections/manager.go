package connections

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/metrics"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/internal/tracing"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

type pairingCode struct {
	code      string
	phone     string
	issuedAt  time.Time
	expiresAt time.Time
	timer     Timer
}

// entry is one tenant's connection state. All fields are guarded by mu.
type entry struct {
	mu       sync.Mutex
	tenantID uuid.UUID
	loaded   bool

	status    Status
	attempts  int
	lockUntil time.Time

	link    Link
	linkGen uint64 // bumped whenever the current link is replaced or torn down

	qrData    string
	qrAttempt int

	pairing    *pairingCode
	pairingGen uint64

	boundPeer     string
	lastConnected time.Time
	lastError     string
}

// Manager owns every tenant's connection state machine. It is constructed
// once at startup and shut down with Shutdown.
type Manager struct {
	provider Provider
	states   store.ConnectionStateStore
	bindings store.BindingStore
	events   bus.EventPublisher
	hub      *Hub
	metrics  *metrics.Metrics
	clock    Clock

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics records connection events and locks.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithEventBus broadcasts binding cache invalidations when a tenant pairs.
func WithEventBus(p bus.EventPublisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithHub shares an existing hub.
func WithHub(h *Hub) Option {
	return func(m *Manager) { m.hub = h }
}

func NewManager(provider Provider, states store.ConnectionStateStore, bindings store.BindingStore, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		states:   states,
		bindings: bindings,
		clock:    realClock{},
		entries:  make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hub == nil {
		m.hub = NewHub(DefaultSubscriptionBuffer)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Hub returns the event hub for stream subscribers.
func (m *Manager) Hub() *Hub { return m.hub }

// Subscribe opens an event subscription for tenantID. The first event
// received describes the current state when there is one: the outstanding
// qr or pairing code, connecting, or a terminal locked/connected.
func (m *Manager) Subscribe(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	// Events are published under e.mu, so nothing can slip in between the
	// snapshot and the registration.
	var initial []Event
	if ev, ok := m.snapshotLocked(e); ok {
		initial = append(initial, ev)
	}
	return m.hub.subscribe(tenantID, initial), nil
}

func (m *Manager) snapshotLocked(e *entry) (Event, bool) {
	now := m.clock.Now()
	ev := Event{TenantID: e.tenantID, At: now}
	switch {
	case !e.lockUntil.IsZero() && now.Before(e.lockUntil):
		until := e.lockUntil
		ev.Type = protocol.EventLocked
		ev.LockedUntil = &until
	case e.status == StatusConnected:
		ev.Type = protocol.EventConnected
		ev.BoundPeerID = e.boundPeer
	case e.pairing != nil:
		ev.Type = protocol.EventPairingCode
		ev.Code = e.pairing.code
		ev.PhoneNumber = e.pairing.phone
	case e.status == StatusQRPending && e.qrData != "":
		ev.Type = protocol.EventQR
		ev.QRData = e.qrData
		ev.Attempt = e.qrAttempt
	case e.status == StatusConnecting || e.status == StatusPairingPending || e.status == StatusQRPending:
		ev.Type = protocol.EventConnecting
	default:
		return Event{}, false
	}
	return ev, true
}

// lockEntry returns the tenant's entry locked, loading durable state on
// first use. The caller must unlock e.mu.
func (m *Manager) lockEntry(ctx context.Context, tenantID uuid.UUID) (*entry, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	e, ok := m.entries[tenantID]
	if !ok {
		e = &entry{tenantID: tenantID, status: StatusDisconnected}
		m.entries[tenantID] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	if !e.loaded {
		m.loadLocked(ctx, e)
	}
	return e, nil
}

func (m *Manager) loadLocked(ctx context.Context, e *entry) {
	e.loaded = true
	rec, err := m.states.LoadConnection(ctx, e.tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("connections.load_failed", "tenant", e.tenantID, "error", err)
		}
		return
	}
	e.attempts = rec.Attempts
	if rec.LockUntil != nil {
		e.lockUntil = *rec.LockUntil
		if m.clock.Now().Before(e.lockUntil) {
			e.status = StatusLocked
		}
	}
	if rec.LastConnectedAt != nil {
		e.lastConnected = *rec.LastConnectedAt
	}
}

func (m *Manager) persistLocked(ctx context.Context, e *entry) {
	rec := store.ConnectionRecord{
		TenantID:        e.tenantID,
		Attempts:        e.attempts,
		LockUntil:       timePtr(e.lockUntil),
		BoundPeerID:     e.boundPeer,
		LastConnectedAt: timePtr(e.lastConnected),
	}
	if err := m.states.SaveConnection(ctx, rec); err != nil {
		slog.Error("connections.persist_failed", "tenant", e.tenantID, "error", err)
	}
}

func (m *Manager) publishLocked(e *entry, ev Event) {
	ev.TenantID = e.tenantID
	ev.At = m.clock.Now()
	m.hub.Publish(ev)
	m.metrics.ConnectionEvent(ev.Type)
}

// Connect starts pairing unless the tenant is already connected. It returns
// a *LockedError while the tenant is locked.
func (m *Manager) Connect(ctx context.Context, tenantID uuid.UUID) (ConnectResult, error) {
	ctx, span := startSpan(ctx, tracing.SpanConnect, tenantID)
	defer span.End()

	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return ConnectResult{}, err
	}
	defer e.mu.Unlock()

	if e.status == StatusConnected {
		return ConnectResult{Connected: true}, nil
	}
	if err := m.admitLocked(ctx, e); err != nil {
		until := e.lockUntil
		return ConnectResult{Locked: true, LockedUntil: &until}, err
	}
	m.beginLocked(e, StatusConnecting, nil)
	return ConnectResult{}, nil
}

// RefreshQR abandons any in-flight attempt and starts a new one. It counts
// toward the lock like Connect.
func (m *Manager) RefreshQR(ctx context.Context, tenantID uuid.UUID) error {
	ctx, span := startSpan(ctx, tracing.SpanRefreshQR, tenantID)
	defer span.End()

	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.status == StatusConnected {
		return ErrAlreadyConnected
	}
	if err := m.admitLocked(ctx, e); err != nil {
		return err
	}
	m.beginLocked(e, StatusConnecting, nil)
	return nil
}

// clearExpiredLockLocked drops a lock whose window has passed, together with
// the counter it was set for.
func (m *Manager) clearExpiredLockLocked(e *entry, now time.Time) bool {
	if e.lockUntil.IsZero() || now.Before(e.lockUntil) {
		return false
	}
	e.lockUntil = time.Time{}
	e.attempts = 0
	if e.status == StatusLocked {
		e.status = StatusDisconnected
	}
	return true
}

// admitLocked applies the lock policy to a Connect/RefreshQR attempt.
func (m *Manager) admitLocked(ctx context.Context, e *entry) error {
	now := m.clock.Now()
	if !e.lockUntil.IsZero() && now.Before(e.lockUntil) {
		return lockedError(e.lockUntil, now)
	}
	m.clearExpiredLockLocked(e, now)

	e.attempts++
	if e.attempts >= MaxAttempts {
		e.lockUntil = now.Add(LockDuration)
		m.teardownLocked(e)
		e.status = StatusLocked
		m.persistLocked(ctx, e)

		until := e.lockUntil
		m.publishLocked(e, Event{Type: protocol.EventLocked, LockedUntil: &until})
		m.metrics.ConnectionLocked()
		slog.Warn("connections.locked", "tenant", e.tenantID, "attempts", e.attempts, "until", until)
		return lockedError(until, now)
	}
	m.persistLocked(ctx, e)
	return nil
}

// beginLocked replaces any current link with a new one opened in the
// background. onOpen runs once the link is up, outside the entry lock.
func (m *Manager) beginLocked(e *entry, status Status, onOpen func(link Link, gen uint64)) {
	m.teardownLocked(e)
	e.linkGen++
	gen := e.linkGen
	e.status = status
	e.lastError = ""
	m.publishLocked(e, Event{Type: protocol.EventConnecting})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		link, err := m.provider.Open(m.ctx, e.tenantID)

		e.mu.Lock()
		if e.linkGen != gen {
			e.mu.Unlock()
			if link != nil {
				link.Close()
			}
			return
		}
		if err != nil {
			m.failLocked(e, m.failureEventLocked(e), err.Error())
			e.mu.Unlock()
			return
		}
		e.link = link
		e.mu.Unlock()

		m.wg.Add(1)
		go m.pump(e, link, gen)

		if onOpen != nil {
			onOpen(link, gen)
		}
	}()
}

// teardownLocked closes the current link and drops pairing artifacts.
// Goroutines still attached to the old link see a stale generation and exit.
func (m *Manager) teardownLocked(e *entry) {
	e.linkGen++
	if e.link != nil {
		if err := e.link.Close(); err != nil {
			slog.Debug("connections.link_close_failed", "tenant", e.tenantID, "error", err)
		}
		e.link = nil
	}
	m.dropPairingLocked(e)
	e.qrData = ""
	e.qrAttempt = 0
}

func (m *Manager) dropPairingLocked(e *entry) {
	e.pairingGen++
	if e.pairing != nil {
		e.pairing.timer.Stop()
		e.pairing = nil
	}
}

// failLocked abandons the current attempt after a provider error. Provider
// failures never count toward the lock.
func (m *Manager) failLocked(e *entry, eventType, reason string) {
	slog.Warn("connections.attempt_failed", "tenant", e.tenantID, "status", e.status, "event", eventType, "error", reason)
	m.teardownLocked(e)
	e.status = StatusDisconnected
	if !e.lockUntil.IsZero() && m.clock.Now().Before(e.lockUntil) {
		e.status = StatusLocked
	}
	e.lastError = reason
	m.publishLocked(e, Event{Type: eventType, Error: reason})
}

func (m *Manager) pump(e *entry, link Link, gen uint64) {
	defer m.wg.Done()
	for ev := range link.Events() {
		m.handleProviderEvent(e, gen, ev)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.linkGen != gen {
		return
	}
	if e.status == StatusConnected {
		m.lostLocked(e, "link closed")
		return
	}
	m.failLocked(e, m.failureEventLocked(e), "link closed before pairing completed")
}

func (m *Manager) failureEventLocked(e *entry) string {
	if e.status == StatusPairingPending {
		return protocol.EventPairingError
	}
	return protocol.EventError
}

func (m *Manager) handleProviderEvent(e *entry, gen uint64, ev ProviderEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.linkGen != gen {
		return
	}

	switch ev.Type {
	case ProviderQR:
		if e.status == StatusConnecting {
			e.status = StatusQRPending
		}
		e.qrAttempt++
		e.qrData = ev.QRData
		m.publishLocked(e, Event{Type: protocol.EventQR, QRData: ev.QRData, Attempt: e.qrAttempt})

	case ProviderConnected:
		m.connectedLocked(e, ev.PeerID)

	case ProviderDisconnected:
		if e.status == StatusConnected {
			m.lostLocked(e, ev.Reason)
			return
		}
		m.failLocked(e, m.failureEventLocked(e), orDefault(ev.Reason, "disconnected during pairing"))

	case ProviderError:
		if e.status == StatusConnected {
			m.lostLocked(e, ev.Reason)
			return
		}
		m.failLocked(e, m.failureEventLocked(e), orDefault(ev.Reason, "provider error"))
	}
}

func (m *Manager) connectedLocked(e *entry, peerID string) {
	ctx := m.ctx
	now := m.clock.Now()

	m.dropPairingLocked(e)
	e.status = StatusConnected
	e.attempts = 0
	e.lockUntil = time.Time{}
	e.boundPeer = peerID
	e.lastConnected = now
	e.lastError = ""
	e.qrData = ""
	e.qrAttempt = 0
	m.persistLocked(ctx, e)

	addr := store.BareAddress(peerID)
	var previous string
	if b, err := m.bindings.GetGatewayBinding(ctx, e.tenantID); err == nil {
		previous = b.Address
	}
	if err := m.bindings.BindGateway(ctx, store.GatewayBinding{
		TenantID:        e.tenantID,
		Address:         addr,
		PeerID:          peerID,
		Status:          store.BindingStatusConnected,
		LastConnectedAt: &now,
	}); err != nil {
		slog.Error("connections.bind_failed", "tenant", e.tenantID, "address", addr, "error", err)
	} else {
		m.invalidateBinding(addr)
		if previous != "" && previous != addr {
			m.invalidateBinding(previous)
		}
	}

	slog.Info("connections.connected", "tenant", e.tenantID, "peer", peerID)
	m.publishLocked(e, Event{Type: protocol.EventConnected, BoundPeerID: peerID})
}

func (m *Manager) invalidateBinding(addr string) {
	if m.events == nil {
		return
	}
	m.events.Broadcast(bus.Event{
		Name:    protocol.EventCacheInvalidate,
		Payload: bus.CacheInvalidatePayload{Kind: bus.CacheKindGatewayBinding, Key: addr},
	})
}

// lostLocked handles loss of an established connection. Pairing is not
// re-armed; a new Connect is required.
func (m *Manager) lostLocked(e *entry, reason string) {
	reason = orDefault(reason, "connection lost")
	slog.Warn("connections.lost", "tenant", e.tenantID, "reason", reason)
	m.teardownLocked(e)
	e.status = StatusDisconnected
	e.boundPeer = ""
	if err := m.bindings.MarkGatewayStatus(m.ctx, e.tenantID, store.BindingStatusDisconnected); err != nil {
		slog.Warn("connections.mark_status_failed", "tenant", e.tenantID, "error", err)
	}
	m.publishLocked(e, Event{Type: protocol.EventDisconnected, Reason: reason})
}

// RequestPairingCode validates phone, replaces any outstanding code, and
// requests a fresh one in the background. The code arrives as a
// pairing-code event and expires after PairingCodeTTL. It returns the
// normalized phone number.
func (m *Manager) RequestPairingCode(ctx context.Context, tenantID uuid.UUID, phone string) (string, error) {
	ctx, span := startSpan(ctx, tracing.SpanRequestPairingCode, tenantID)
	defer span.End()

	normalized, err := NormalizePairingPhone(phone)
	if err != nil {
		return "", err
	}

	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	if e.status == StatusConnected {
		return "", ErrAlreadyConnected
	}
	now := m.clock.Now()
	if !e.lockUntil.IsZero() && now.Before(e.lockUntil) {
		return "", lockedError(e.lockUntil, now)
	}
	if m.clearExpiredLockLocked(e, now) {
		m.persistLocked(ctx, e)
	}

	if e.link != nil {
		m.dropPairingLocked(e)
		e.status = StatusPairingPending
		m.wg.Add(1)
		go m.requestCode(e, e.link, e.linkGen, e.pairingGen, normalized)
		return normalized, nil
	}

	// beginLocked drops any outstanding code, so the generation is read after it.
	var pgen uint64
	m.beginLocked(e, StatusPairingPending, func(link Link, gen uint64) {
		m.wg.Add(1)
		go m.requestCode(e, link, gen, pgen, normalized)
	})
	pgen = e.pairingGen
	return normalized, nil
}

func (m *Manager) requestCode(e *entry, link Link, gen, pgen uint64, phone string) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, PairingCodeTTL)
	defer cancel()
	code, err := link.RequestPairingCode(ctx, phone)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.linkGen != gen || e.pairingGen != pgen {
		return
	}
	if err != nil {
		m.failLocked(e, protocol.EventPairingError, err.Error())
		return
	}

	now := m.clock.Now()
	p := &pairingCode{
		code:      code,
		phone:     phone,
		issuedAt:  now,
		expiresAt: now.Add(PairingCodeTTL),
	}
	p.timer = m.clock.AfterFunc(PairingCodeTTL, func() { m.expirePairing(e, pgen) })
	e.pairing = p
	e.status = StatusPairingPending

	slog.Info("connections.pairing_code_issued", "tenant", e.tenantID, "expires_at", p.expiresAt)
	m.publishLocked(e, Event{Type: protocol.EventPairingCode, Code: code, PhoneNumber: phone})
}

// expirePairing fires once per issued code. The link stays open so the
// caller can ask for a new code.
func (m *Manager) expirePairing(e *entry, pgen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pairingGen != pgen || e.pairing == nil {
		return
	}
	p := e.pairing
	e.pairing = nil
	expired := p.expiresAt
	m.publishLocked(e, Event{
		Type:        protocol.EventPairingCodeExpired,
		Code:        p.code,
		PhoneNumber: p.phone,
		ExpiredAt:   &expired,
	})
}

// Disconnect tears down the tenant's link and ends open event streams with
// a disconnected event. It is idempotent and leaves the attempt counter and
// lock untouched.
func (m *Manager) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	wasConnected := e.status == StatusConnected
	active := wasConnected || e.link != nil || e.status == StatusConnecting ||
		e.status == StatusQRPending || e.status == StatusPairingPending
	m.teardownLocked(e)
	e.boundPeer = ""
	e.status = StatusDisconnected
	if !e.lockUntil.IsZero() && m.clock.Now().Before(e.lockUntil) {
		e.status = StatusLocked
	}
	if wasConnected {
		if err := m.bindings.MarkGatewayStatus(ctx, tenantID, store.BindingStatusDisconnected); err != nil {
			slog.Warn("connections.mark_status_failed", "tenant", tenantID, "error", err)
		}
	}
	if active {
		slog.Info("connections.disconnected", "tenant", tenantID, "was_connected", wasConnected)
		m.publishLocked(e, Event{Type: protocol.EventDisconnected, Reason: ReasonRequested})
	}
	return nil
}

// ResetAttempts clears the attempt counter and lock. It is reserved for
// authenticated administrative recovery.
func (m *Manager) ResetAttempts(ctx context.Context, tenantID uuid.UUID) error {
	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.attempts = 0
	e.lockUntil = time.Time{}
	if e.status == StatusLocked {
		e.status = StatusDisconnected
	}
	if err := m.states.ResetConnection(ctx, tenantID); err != nil {
		return err
	}
	slog.Info("connections.attempts_reset", "tenant", tenantID)
	return nil
}

// IsConnected reports whether the tenant currently has a paired link.
func (m *Manager) IsConnected(tenantID uuid.UUID) bool {
	m.mu.Lock()
	e, ok := m.entries[tenantID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusConnected
}

// State returns a snapshot of the tenant's connection.
func (m *Manager) State(ctx context.Context, tenantID uuid.UUID) (State, error) {
	e, err := m.lockEntry(ctx, tenantID)
	if err != nil {
		return State{}, err
	}
	defer e.mu.Unlock()

	now := m.clock.Now()
	st := State{
		TenantID:        tenantID,
		Status:          e.status,
		Attempts:        e.attempts,
		QRData:          e.qrData,
		QRAttempt:       e.qrAttempt,
		BoundPeerID:     e.boundPeer,
		LastConnectedAt: timePtr(e.lastConnected),
		LastError:       e.lastError,
	}
	if !e.lockUntil.IsZero() && now.Before(e.lockUntil) {
		until := e.lockUntil
		st.LockedUntil = &until
		st.Status = StatusLocked
	} else if e.status == StatusLocked {
		st.Status = StatusDisconnected
	}
	if p := e.pairing; p != nil {
		issued, expires := p.issuedAt, p.expiresAt
		st.PairingCode = p.code
		st.PairingPhone = p.phone
		st.PairingIssuedAt = &issued
		st.PairingExpiresAt = &expires
	}
	return st, nil
}

// Shutdown closes every link and waits for background work to finish or
// ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		m.teardownLocked(e)
		if e.status != StatusLocked {
			e.status = StatusDisconnected
		}
		e.mu.Unlock()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startSpan(ctx context.Context, name string, tenantID uuid.UUID) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String(tracing.AttrTenantID, tenantID.String()),
	))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
