package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "REDIS_URL", "MEILI_URL", "NOTEKEEP_ACCESS_TTL_SECONDS", "NOTEKEEP_WORKSPACE_IDLE_SECONDS", "NOTEKEEP_DB_MAX_OPEN_CONNS", "NOTEKEEP_DB_MAX_IDLE_CONNS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" || cfg.MeiliURL != "" {
		t.Errorf("optional backends should default to empty: %+v", cfg)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.WorkspaceIdle != 30*time.Minute {
		t.Errorf("WorkspaceIdle = %v", cfg.WorkspaceIdle)
	}
	if cfg.DBMaxOpenConns != 20 || cfg.DBMaxIdleConns != 10 {
		t.Errorf("pool defaults = %d/%d", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("NOTEKEEP_ACCESS_TTL_SECONDS", "60")
	t.Setenv("NOTEKEEP_WORKSPACE_IDLE_SECONDS", "not-a-number")
	t.Setenv("NOTEKEEP_DB_MAX_OPEN_CONNS", "5")

	cfg := Load()
	if cfg.Addr != ":9000" || cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.AccessTTL != time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d", cfg.DBMaxOpenConns)
	}
	if cfg.WorkspaceIdle != 30*time.Minute {
		t.Errorf("invalid int should fall back, got %v", cfg.WorkspaceIdle)
	}
}
