package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/connections"
	"github.com/nextlevelbuilder/edugate/internal/store"
)

// Bridge frame types.
const (
	frameStart        = "start"
	frameQR           = "qr"
	framePairingCode  = "pairing_code"
	frameConnected    = "connected"
	frameDisconnected = "disconnected"
	frameError        = "error"
	frameMessage      = "message"
)

// frame is the JSON envelope exchanged with the bridge.
// Expected inbound message: {"type":"message","id":"...","from":"...","chat":"...","content":"...","from_name":"..."}
type frame struct {
	Type     string `json:"type"`
	QR       string `json:"qr,omitempty"`
	Code     string `json:"code,omitempty"`
	Phone    string `json:"phone,omitempty"`
	PeerID   string `json:"peer_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	ID       string `json:"id,omitempty"`
	From     string `json:"from,omitempty"`
	Chat     string `json:"chat,omitempty"`
	To       string `json:"to,omitempty"`
	Content  string `json:"content,omitempty"`
	FromName string `json:"from_name,omitempty"`
}

var errLinkClosed = errors.New("whatsapp link closed")

type pairingReply struct {
	code string
	err  error
}

// Link is one tenant's bridge session. It does not reconnect: once the
// socket ends, Events is closed and the connection manager decides what
// happens next.
type Link struct {
	provider *Provider
	tenantID uuid.UUID
	conn     *websocket.Conn
	events   chan connections.ProviderEvent
	done     chan struct{}
	once     sync.Once

	writeMu sync.Mutex

	mu      sync.Mutex
	address string // bare address of the paired line
	pending chan pairingReply
}

func newLink(p *Provider, tenantID uuid.UUID, conn *websocket.Conn) *Link {
	return &Link{
		provider: p,
		tenantID: tenantID,
		conn:     conn,
		events:   make(chan connections.ProviderEvent, 16),
		done:     make(chan struct{}),
	}
}

func (l *Link) Events() <-chan connections.ProviderEvent { return l.events }

// Close ends the session. It never waits on the Events consumer.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.conn.Close()
		l.provider.release(l)
	})
	return err
}

func (l *Link) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write whatsapp frame: %w", err)
	}
	return nil
}

// RequestPairingCode asks the bridge for a numeric pairing code for phone.
// A newer request supersedes an outstanding one.
func (l *Link) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	reply := make(chan pairingReply, 1)
	l.mu.Lock()
	l.pending = reply
	l.mu.Unlock()

	if err := l.writeFrame(frame{Type: framePairingCode, Phone: phone}); err != nil {
		return "", err
	}

	select {
	case r := <-reply:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", errLinkClosed
	}
}

// takePending returns and clears the outstanding pairing request, if any.
func (l *Link) takePending() chan pairingReply {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pending
	l.pending = nil
	return p
}

func (l *Link) emit(ev connections.ProviderEvent) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) readLoop() {
	defer close(l.events)
	defer l.provider.release(l)

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				slog.Warn("whatsapp.read_failed", "tenant", l.tenantID, "error", err)
				l.emit(connections.ProviderEvent{Type: connections.ProviderDisconnected, Reason: err.Error()})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("whatsapp.invalid_frame", "tenant", l.tenantID, "error", err)
			continue
		}
		if !l.handleFrame(f) {
			return
		}
	}
}

// handleFrame returns false once the link is closed.
func (l *Link) handleFrame(f frame) bool {
	switch f.Type {
	case frameQR:
		return l.emit(connections.ProviderEvent{Type: connections.ProviderQR, QRData: f.QR})

	case framePairingCode:
		if p := l.takePending(); p != nil {
			p <- pairingReply{code: f.Code}
		}

	case frameConnected:
		l.mu.Lock()
		l.address = store.BareAddress(f.PeerID)
		l.mu.Unlock()
		return l.emit(connections.ProviderEvent{Type: connections.ProviderConnected, PeerID: f.PeerID})

	case frameDisconnected:
		return l.emit(connections.ProviderEvent{Type: connections.ProviderDisconnected, Reason: f.Reason})

	case frameError:
		if p := l.takePending(); p != nil {
			p <- pairingReply{err: fmt.Errorf("bridge: %s", f.Error)}
			return true
		}
		return l.emit(connections.ProviderEvent{Type: connections.ProviderError, Reason: f.Error})

	case frameMessage:
		l.handleMessage(f)

	default:
		slog.Debug("whatsapp.unknown_frame", "tenant", l.tenantID, "type", f.Type)
	}
	return true
}

func (l *Link) handleMessage(f frame) {
	if f.From == "" {
		return
	}
	chatID := f.Chat
	if chatID == "" {
		chatID = f.From
	}

	// WhatsApp groups have chatID ending in "@g.us"
	peerKind := bus.PeerDirect
	if strings.HasSuffix(chatID, store.SuffixGroup) {
		peerKind = bus.PeerGroup
	}

	l.mu.Lock()
	recipient := l.address
	l.mu.Unlock()
	if f.To != "" {
		recipient = f.To
	}

	var metadata map[string]string
	if f.FromName != "" {
		metadata = map[string]string{"user_name": f.FromName}
	}

	slog.Debug("whatsapp.message_received", "tenant", l.tenantID, "sender", f.From, "chat", chatID, "peer_kind", peerKind)

	l.provider.msgBus.PublishInbound(bus.InboundMessage{
		Channel:   ChannelName,
		MessageID: f.ID,
		Recipient: recipient,
		ChatID:    chatID,
		SenderID:  f.From,
		Content:   f.Content,
		PeerKind:  peerKind,
		Metadata:  metadata,
	})
}
