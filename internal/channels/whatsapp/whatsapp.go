// Package whatsapp drives tenant gateway lines through a WhatsApp bridge.
//
// The bridge (e.g. a whatsapp-web.js or whatsmeow service) owns the actual
// network session; this package opens one WebSocket per tenant, forwards
// pairing progress to the connection manager, and relays messages in both
// directions as JSON frames.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/config"
	"github.com/nextlevelbuilder/edugate/internal/connections"
)

// ChannelName is the transport name stamped on inbound messages.
const ChannelName = "whatsapp"

// Provider implements connections.Provider over the bridge WebSocket.
type Provider struct {
	cfg    config.BridgeConfig
	msgBus bus.MessageRouter
	dialer *websocket.Dialer

	mu    sync.Mutex
	links map[uuid.UUID]*Link
}

// NewProvider creates a bridge provider. Inbound messages are published to msgBus.
func NewProvider(cfg config.BridgeConfig, msgBus bus.MessageRouter) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whatsapp bridge url is required")
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout()
	return &Provider{
		cfg:    cfg,
		msgBus: msgBus,
		dialer: &dialer,
		links:  make(map[uuid.UUID]*Link),
	}, nil
}

func (p *Provider) tenantURL(tenantID uuid.UUID) string {
	return strings.TrimRight(p.cfg.URL, "/") + "/tenants/" + tenantID.String()
}

// Open dials the bridge for tenantID and asks it to start pairing.
func (p *Provider) Open(ctx context.Context, tenantID uuid.UUID) (connections.Link, error) {
	header := http.Header{}
	if p.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	url := p.tenantURL(tenantID)
	conn, _, err := p.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial whatsapp bridge %s: %w", url, err)
	}

	l := newLink(p, tenantID, conn)
	if err := l.writeFrame(frame{Type: frameStart}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start whatsapp session: %w", err)
	}

	p.mu.Lock()
	if old, ok := p.links[tenantID]; ok && old != l {
		defer old.Close()
	}
	p.links[tenantID] = l
	p.mu.Unlock()

	go l.readLoop()

	slog.Info("whatsapp.bridge_opened", "tenant", tenantID, "url", url)
	return l, nil
}

func (p *Provider) release(l *Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[l.tenantID] == l {
		delete(p.links, l.tenantID)
	}
}

// Send writes an outbound reply on the tenant's open link.
func (p *Provider) Send(_ context.Context, msg bus.OutboundMessage) error {
	tenantID, err := uuid.Parse(msg.TenantID)
	if err != nil {
		return fmt.Errorf("parse outbound tenant id: %w", err)
	}

	p.mu.Lock()
	l, ok := p.links[tenantID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("whatsapp bridge not connected for tenant %s", tenantID)
	}

	return l.writeFrame(frame{Type: frameMessage, To: msg.ChatID, Content: msg.Content})
}

// RunOutbound delivers bus outbound messages until ctx is done.
func (p *Provider) RunOutbound(ctx context.Context) {
	for {
		msg, ok := p.msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != "" && msg.Channel != ChannelName {
			continue
		}
		if err := p.Send(ctx, msg); err != nil {
			slog.Warn("whatsapp.send_failed", "tenant", msg.TenantID, "chat", msg.ChatID, "error", err)
		}
	}
}
