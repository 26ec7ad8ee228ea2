package dbconfig

import (
	"strings"
	"testing"
)

func TestNewConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "DB_MAX_CONNS"} {
		t.Setenv(key, "")
	}

	cfg := NewConfigFromEnv()
	if cfg.Database != "rallyhq" || cfg.Port != 5432 || cfg.MaxConns != 8 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestPoolDSNCarriesSizingAndAppName(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "3")
	cfg := NewConfigFromEnv()

	dsn := cfg.PoolDSN()
	if !strings.Contains(dsn, "pool_max_conns=3") {
		t.Errorf("PoolDSN missing pool sizing: %s", dsn)
	}
	if !strings.Contains(dsn, "application_name=rallyhq") {
		t.Errorf("PoolDSN missing application name: %s", dsn)
	}
}

func TestIntEnvRejectsGarbage(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "lots")
	if cfg := NewConfigFromEnv(); cfg.MaxConns != 8 {
		t.Errorf("MaxConns = %d, want fallback 8", cfg.MaxConns)
	}
}
