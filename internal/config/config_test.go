package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PinTTL != 4*time.Hour {
		t.Fatalf("unexpected pin ttl: %s", cfg.PinTTL)
	}
	if cfg.WarningLead >= cfg.PinTTL {
		t.Fatal("warning lead must stay below session lifetime")
	}
	if cfg.DataDir == "" {
		t.Fatal("expected a data dir")
	}
}

func TestLoadRejectsWarningBeyondLifetime(t *testing.T) {
	t.Setenv("SK_PIN_TTL", "1m")
	t.Setenv("SK_WARNING_LEAD", "2m")
	if _, err := Load(); err == nil {
		t.Fatal("expected config error")
	}
}

func TestDurationFromSeconds(t *testing.T) {
	t.Setenv("SK_ACTIVITY_THRESHOLD", "45")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActivityThreshold != 45*time.Second {
		t.Fatalf("unexpected threshold: %s", cfg.ActivityThreshold)
	}
}
