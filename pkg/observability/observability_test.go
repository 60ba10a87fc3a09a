package observability

import (
	"context"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "phigate" {
		t.Errorf("ServiceName = %q, want phigate", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", cfg.SampleRate)
	}
	if !cfg.Enabled {
		t.Error("expected Enabled by default")
	}
}

func TestDisabledProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.tracerProvider != nil || p.meterProvider != nil {
		t.Error("disabled provider should not construct SDK providers")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Tracer and Meter fall back to the globals.
	if p.Tracer() == nil {
		t.Error("Tracer returned nil")
	}
	if p.Meter() == nil {
		t.Error("Meter returned nil")
	}
}
