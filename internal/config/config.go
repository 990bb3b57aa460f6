package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr string
	// Empty DatabaseURL runs against the in-memory store.
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	JWTSecret      string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	MigrationsDir  string
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	// Empty RedisURL keeps realtime events in process and refresh sessions
	// in the database.
	RedisURL      string
	WorkspaceIdle time.Duration
	SweepInterval time.Duration
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxOpenConns: getenvInt("NOTEKEEP_DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns: getenvInt("NOTEKEEP_DB_MAX_IDLE_CONNS", 10),
		JWTSecret:      getenv("NOTEKEEP_JWT_SECRET", "notekeep-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("NOTEKEEP_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:     time.Duration(getenvInt("NOTEKEEP_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		MigrationsDir:  getenv("NOTEKEEP_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:     getenv("NOTEKEEP_CORS_ORIGIN", "*"),
		MeiliURL:       os.Getenv("MEILI_URL"),
		MeiliMasterKey: os.Getenv("MEILI_MASTER_KEY"),
		RedisURL:       os.Getenv("REDIS_URL"),
		WorkspaceIdle:  time.Duration(getenvInt("NOTEKEEP_WORKSPACE_IDLE_SECONDS", 1800)) * time.Second,
		SweepInterval:  time.Duration(getenvInt("NOTEKEEP_WORKSPACE_SWEEP_SECONDS", 60)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
