package store

import (
	"testing"
	"time"
)

func TestPoolConfigWithDefaults(t *testing.T) {
	got := PoolConfig{MaxOpen: 5}.withDefaults()
	want := PoolConfig{MaxOpen: 5, MaxIdle: 10, MaxIdleTime: 5 * time.Minute, MaxLifetime: 30 * time.Minute}
	if got != want {
		t.Fatalf("withDefaults = %+v, want %+v", got, want)
	}
	if (PoolConfig{}).withDefaults() != defaultPool {
		t.Fatal("zero config should match the default pool")
	}
}
