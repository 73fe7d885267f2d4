package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/edugate/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	_, span := Tracer().Start(context.Background(), SpanRoute)
	span.End()
}

func TestSetupRejectsUnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "zipkin"})
	if err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}
