// Package dispatch consumes inbound gateway messages, routes them to a
// tenant and identity, and hands the result to the agent service.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/routing"
)

// DefaultConcurrency is the number of messages routed in parallel.
const DefaultConcurrency = 16

// Router resolves an envelope. *routing.Router satisfies it.
type Router interface {
	Route(ctx context.Context, env routing.Envelope) routing.RoutedMessage
}

// ContextWriter stores reply context on the sender's session.
// sessions.Store satisfies it.
type ContextWriter interface {
	SetContext(ctx context.Context, phone, key, value string) error
}

// Consumer reads the bus inbound queue until its context ends.
type Consumer struct {
	bus         bus.MessageRouter
	router      Router
	dispatcher  Dispatcher
	dedupe      *Deduper
	contexts    ContextWriter
	concurrency int
}

func NewConsumer(msgBus bus.MessageRouter, router Router, dispatcher Dispatcher, dedupe *Deduper, concurrency int) *Consumer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Consumer{
		bus:         msgBus,
		router:      router,
		dispatcher:  dispatcher,
		dedupe:      dedupe,
		concurrency: concurrency,
	}
}

// SetContextWriter enables storing reply context values on sessions.
func (c *Consumer) SetContextWriter(w ContextWriter) { c.contexts = w }

// Run blocks until ctx is done, then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("dispatch.consumer_started", "concurrency", c.concurrency)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for {
		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if c.dedupe != nil && c.dedupe.Seen(msg.MessageID) {
			slog.Debug("dispatch.duplicate", "message_id", msg.MessageID, "channel", msg.Channel)
			continue
		}
		g.Go(func() error {
			c.handle(ctx, msg)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg bus.InboundMessage) {
	routed := c.router.Route(ctx, routing.EnvelopeFromInbound(msg))
	reply, err := c.dispatcher.Dispatch(ctx, routed)
	if err != nil {
		slog.Error("dispatch.failed",
			"message_id", msg.MessageID,
			"tenant", routed.TenantID,
			"context", routed.Context,
			"error", err,
		)
		return
	}
	if reply != nil {
		c.applyReply(ctx, routed, reply)
	}
}

// applyReply stores reply context for the sender and queues the reply text
// on the tenant's gateway line. Unresolved messages have no line to answer on.
func (c *Consumer) applyReply(ctx context.Context, routed routing.RoutedMessage, reply *Reply) {
	if !routed.Resolved || routed.TenantID == uuid.Nil {
		slog.Warn("dispatch.reply_dropped", "message_id", routed.Envelope.MessageID, "reason", "unresolved tenant")
		return
	}

	if len(reply.Context) > 0 && c.contexts != nil && routed.Identity.Phone != "" {
		for k, v := range reply.Context {
			if err := c.contexts.SetContext(ctx, routed.Identity.Phone, k, v); err != nil {
				slog.Warn("dispatch.context_failed", "tenant", routed.TenantID, "key", k, "error", err)
			}
		}
	}

	if reply.Text == "" {
		return
	}
	chatID := routed.Envelope.Sender
	if routed.Envelope.IsGroup {
		chatID = routed.Envelope.GroupAddress
	}
	c.bus.PublishOutbound(bus.OutboundMessage{
		Channel:  routed.Envelope.Channel,
		TenantID: routed.TenantID.String(),
		ChatID:   chatID,
		Content:  reply.Text,
		Metadata: map[string]string{"reply_to": routed.Envelope.MessageID},
	})
}
