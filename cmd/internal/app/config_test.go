package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"ZAP_HTTP_ADDR", "ZAP_LOG_LEVEL", "ZAP_LOG_FORMAT",
		"ZAP_DATABASE_URL", "ZAP_DB_SCHEMA", "ZAP_DB_MAX_CONNS",
		"ZAP_READINESS_REQUIRE_DB", "ZAP_METRICS_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log defaults: %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DatabaseURL != "" || cfg.DBSchema != "zap" || cfg.DBMaxConns != 10 {
		t.Errorf("db defaults: %q/%q/%d", cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns)
	}
	if cfg.ReadinessRequireDB || !cfg.MetricsEnabled {
		t.Errorf("toggles: readiness=%v metrics=%v", cfg.ReadinessRequireDB, cfg.MetricsEnabled)
	}
	if cfg.ReadHeaderTimeout != 5*time.Second || cfg.IdleTimeout != 60*time.Second {
		t.Errorf("timeouts: %v/%v", cfg.ReadHeaderTimeout, cfg.IdleTimeout)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ZAP_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("ZAP_LOG_LEVEL", "debug")
	t.Setenv("ZAP_LOG_FORMAT", "pretty")
	t.Setenv("ZAP_DB_MAX_CONNS", "25")
	t.Setenv("ZAP_READINESS_REQUIRE_DB", "true")
	t.Setenv("ZAP_METRICS_ENABLED", "false")
	t.Setenv("ZAP_HTTP_READ_TIMEOUT", "30s")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" || cfg.LogLevel != "debug" || cfg.LogFormat != "pretty" {
		t.Errorf("overrides: %+v", cfg)
	}
	if cfg.DBMaxConns != 25 || !cfg.ReadinessRequireDB || cfg.MetricsEnabled {
		t.Errorf("overrides: %+v", cfg)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
}

func TestEnvHelpersRejectGarbage(t *testing.T) {
	t.Setenv("ZAP_TEST_INT", "-3")
	if got := EnvInt("ZAP_TEST_INT", 7); got != 7 {
		t.Errorf("EnvInt negative = %d, want default", got)
	}

	t.Setenv("ZAP_TEST_BOOL", "maybe")
	if got := EnvBool("ZAP_TEST_BOOL", true); !got {
		t.Errorf("EnvBool garbage should fall back to default")
	}

	t.Setenv("ZAP_TEST_DUR", "soon")
	if got := EnvDuration("ZAP_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("EnvDuration garbage = %v, want default", got)
	}

	t.Setenv("ZAP_TEST_I32", "-1")
	if got := EnvInt32("ZAP_TEST_I32", 4); got != 4 {
		t.Errorf("EnvInt32 negative = %d, want default", got)
	}
}
