package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaultsWithNoEnv(t *testing.T) {
	for _, key := range []string{"SHIELD_PORT", "SHIELD_DEFAULT_LIMIT", "SHIELD_DEFAULT_KIND"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8085 {
		t.Fatalf("expected default port 8085, got %d", cfg.Port)
	}
	if cfg.DefaultKind != "token_bucket" {
		t.Fatalf("expected default kind token_bucket, got %s", cfg.DefaultKind)
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	t.Setenv("SHIELD_DEFAULT_KIND", "not_a_real_kind")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for an unknown default kind")
	}
}

func TestLoadHonoursEnvOverride(t *testing.T) {
	t.Setenv("SHIELD_DEFAULT_LIMIT", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultLimit != 250 {
		t.Fatalf("expected overridden limit 250, got %d", cfg.DefaultLimit)
	}
}
