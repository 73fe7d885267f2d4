package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "whatsapp", ChatID: "123@g.us", PeerKind: PeerGroup})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if !msg.IsGroup() {
		t.Error("expected group message")
	}
}

func TestConsumeInbound_ContextDone(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("expected no message after cancel")
	}
}

func TestBroadcast_SurvivesPanickingHandler(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("boom", func(Event) { panic("boom") })
	b.Subscribe("ok", func(e Event) { got = append(got, e.Name) })

	b.Broadcast(Event{Name: "cache.invalidate"})

	if len(got) != 1 || got[0] != "cache.invalidate" {
		t.Fatalf("got %v, want [cache.invalidate]", got)
	}

	b.Unsubscribe("ok")
	b.Broadcast(Event{Name: "second"})
	if len(got) != 1 {
		t.Fatalf("unsubscribed handler still called: %v", got)
	}
}
