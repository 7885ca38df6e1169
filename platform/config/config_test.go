package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestLoadAppliesRoutingDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/routing")
	t.Setenv("ROUTING_RANK_ATTEMPTS", "not-a-number")
	t.Setenv("PHONE_DEFAULT_REGION", " nl ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetRankAttempts() != 5 {
		t.Fatalf("expected rank attempts fallback 5, got %d", cfg.GetRankAttempts())
	}
	if cfg.GetDeliveryTTL() != 72*time.Hour {
		t.Fatalf("expected delivery ttl 72h, got %s", cfg.GetDeliveryTTL())
	}
	if cfg.GetPhoneDefaultRegion() != "NL" {
		t.Fatalf("expected region NL, got %q", cfg.GetPhoneDefaultRegion())
	}
	if cfg.IsRedisEnabled() {
		t.Fatalf("expected redis disabled without REDIS_URL")
	}
}

func TestLoadRejectsWildcardCORSWithCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/routing")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for wildcard CORS with credentials")
	}
}
