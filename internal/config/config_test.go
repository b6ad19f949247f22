package config

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is empty")
	}
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CONVERSATION_LIST_LIMIT", "25")
	t.Setenv("JWT_TTL_HOURS", "not-a-number")
	t.Setenv("METRICS_ENABLED", "off")
	t.Setenv("REDIS_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AppEnv != "development" || !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.ConversationListLimit != 25 {
		t.Fatalf("expected list limit 25, got %d", cfg.ConversationListLimit)
	}
	if cfg.JWTTTL != 72*time.Hour {
		t.Fatalf("expected default ttl, got %s", cfg.JWTTTL)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("expected metrics disabled")
	}
	if cfg.PresenceBackend() != "memory" {
		t.Fatalf("expected memory presence, got %q", cfg.PresenceBackend())
	}
}

func TestNormalizeEnv(t *testing.T) {
	cases := map[string]string{
		"PROD":    "production",
		" stage ": "staging",
		"testing": "test",
		"custom":  "custom",
	}
	for in, want := range cases {
		if got := normalizeEnv(in); got != want {
			t.Errorf("normalizeEnv(%q) = %q, want %q", in, got, want)
		}
	}
}
