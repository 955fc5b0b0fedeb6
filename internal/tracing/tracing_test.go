package tracing

import (
	"context"
	"testing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.IsEnabled() {
		t.Error("provider reports enabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on disabled provider: %v", err)
	}
}

func TestNewProvider_Validation(t *testing.T) {
	if _, err := NewProvider(Config{Enabled: true, ServiceName: ""}); err == nil {
		t.Error("expected error for missing service name")
	}
	if _, err := NewProvider(Config{Enabled: true, ServiceName: "crewgate", SamplingRate: 1.5}); err == nil {
		t.Error("expected error for sampling rate > 1")
	}
	if _, err := NewProvider(Config{Enabled: true, ServiceName: "crewgate", ExporterType: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter type")
	}
}

func TestStartSpan_NoopWithoutProvider(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "evaluate_credential")
	if ctx == nil {
		t.Fatal("nil context")
	}
	end(nil)

	ctx, end = StartDBSpan(context.Background(), "credentials", DBOperationQuery)
	if ctx == nil {
		t.Fatal("nil context")
	}
	end(context.Canceled)
}
