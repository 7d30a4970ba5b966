package core

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "intake" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.Sources.Payments.ReplayWindow != 5*time.Minute {
		t.Fatalf("unexpected replay window %s", cfg.Sources.Payments.ReplayWindow)
	}
	if cfg.Throttle.Cooldown != 10*time.Minute || cfg.Throttle.MaxPerDay != 3 {
		t.Fatalf("unexpected throttle defaults %+v", cfg.Throttle)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing service name error")
	}

	cfg = DefaultConfig()
	cfg.Throttle.Cooldown = -time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative cooldown error")
	}

	cfg = DefaultConfig()
	cfg.Throttle.MaxPerDay = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative max_per_day error")
	}
}

func TestCfgxConfigProviderLoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"service_name": "intake-staging",
		"throttle": map[string]any{
			"max_per_day": 5,
		},
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "intake-staging" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.Throttle.MaxPerDay != 5 {
		t.Fatalf("unexpected max_per_day %d", cfg.Throttle.MaxPerDay)
	}
}

func TestGoOptionsResolverLayering(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{
		ServiceName: "intake-file",
		Sources: SourcesConfig{
			Scheduling: SchedulingConfig{Secret: "file-secret"},
		},
	}
	runtime := Config{
		ServiceName: "intake-runtime",
		Throttle:    ThrottleConfig{Cooldown: time.Minute, MaxPerDay: 9},
	}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ServiceName != "intake-runtime" {
		t.Fatalf("expected runtime override to win, got %q", resolved.ServiceName)
	}
	if resolved.Sources.Scheduling.Secret != "file-secret" {
		t.Fatalf("expected file secret to survive, got %q", resolved.Sources.Scheduling.Secret)
	}
	if resolved.Throttle.Cooldown != time.Minute || resolved.Throttle.MaxPerDay != 9 {
		t.Fatalf("unexpected throttle %+v", resolved.Throttle)
	}
	if resolved.Sources.Payments.ReplayWindow != 5*time.Minute {
		t.Fatalf("expected default replay window to survive, got %s", resolved.Sources.Payments.ReplayWindow)
	}
}
