package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, /metrics is registered on the public mux.
	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("ZAP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ZAP_LOG_LEVEL", "info"),
		LogFormat: EnvString("ZAP_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("ZAP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ZAP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ZAP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ZAP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("ZAP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("ZAP_DATABASE_URL", ""),
		DBSchema:    EnvString("ZAP_DB_SCHEMA", "zap"),
		DBMaxConns:  EnvInt32("ZAP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ZAP_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("ZAP_READINESS_REQUIRE_DB", false),

		MetricsEnabled: EnvBool("ZAP_METRICS_ENABLED", true),
	}
}
