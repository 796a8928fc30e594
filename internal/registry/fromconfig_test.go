package registry_test

import (
	"testing"
	"time"

	"github.com/kindredcircl/healthd/internal/config"
	"github.com/kindredcircl/healthd/internal/registry"
)

func baseConfig() *config.Config {
	return &config.Config{
		Health: config.HealthConfig{
			RetryCount: 3,
			Timeout:    config.Duration{Duration: 5 * time.Second},
			Interval:   config.Duration{Duration: 30 * time.Second},
		},
		Alerts: config.AlertsConfig{
			FailureThreshold: 3,
		},
		Database:  config.DependencyConfig{Host: "db.internal", Port: 5432},
		Cache:     config.DependencyConfig{Host: "cache.internal", Port: 6379},
		Messaging: config.DependencyConfig{Host: "mq.internal", Port: 5672},
	}
}

func TestFromConfig_ExplicitTargets(t *testing.T) {
	cfg := baseConfig()
	cfg.Targets = []config.TargetConfig{
		{
			ID:       "api",
			Protocol: "http",
			Address:  "http://localhost:9000/health",
			Interval: config.Duration{Duration: 10 * time.Second},
		},
	}

	targets := registry.FromConfig(cfg)
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	if targets[0].ID != "api" || targets[0].Protocol != registry.ProtocolHTTP {
		t.Errorf("unexpected target: %+v", targets[0])
	}
	if targets[0].Interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", targets[0].Interval)
	}
}

func TestFromConfig_DependencyChecks(t *testing.T) {
	cfg := baseConfig()
	cfg.Health.EnableDatabaseCheck = true
	cfg.Health.EnableCacheCheck = true
	cfg.Health.EnableMessagingCheck = true

	targets := registry.FromConfig(cfg)
	if len(targets) != 3 {
		t.Fatalf("expected 3 built-in targets, got %d", len(targets))
	}

	byID := make(map[string]registry.Target, len(targets))
	for _, tgt := range targets {
		byID[tgt.ID] = tgt
	}

	tests := []struct {
		id   string
		addr string
	}{
		{"database", "db.internal:5432"},
		{"cache", "cache.internal:6379"},
		{"messaging", "mq.internal:5672"},
	}
	for _, tt := range tests {
		got, ok := byID[tt.id]
		if !ok {
			t.Errorf("missing built-in target %q", tt.id)
			continue
		}
		if got.Protocol != registry.ProtocolTCP {
			t.Errorf("%s protocol = %q, want tcp", tt.id, got.Protocol)
		}
		if got.Address != tt.addr {
			t.Errorf("%s address = %q, want %q", tt.id, got.Address, tt.addr)
		}
	}
}

func TestFromConfig_ChecksDisabledByDefault(t *testing.T) {
	targets := registry.FromConfig(baseConfig())
	if len(targets) != 0 {
		t.Errorf("expected no targets with all toggles off, got %d", len(targets))
	}
}

func TestFromConfig_RegistersCleanly(t *testing.T) {
	cfg := baseConfig()
	cfg.Health.EnableDatabaseCheck = true
	cfg.Targets = []config.TargetConfig{
		{ID: "api", Protocol: "http", Address: "http://localhost:9000/health"},
	}

	r := registry.New(registry.DefaultsFromConfig(cfg))
	for _, tgt := range registry.FromConfig(cfg) {
		if _, err := r.Register(tgt); err != nil {
			t.Errorf("Register %s: %v", tgt.ID, err)
		}
	}
	if r.Len() != 2 {
		t.Errorf("registry len = %d, want 2", r.Len())
	}
}
