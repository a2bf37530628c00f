package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Ledger backend names accepted in LEDGER_BACKEND.
const (
	BackendDocument = "document"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the registrar application.
// Values are loaded from environment variables; see the serve command's
// usage text for the full list.
type Config struct {
	LedgerBackend string `json:"ledger_backend"`
	LedgerPath    string `json:"ledger_path"`
	DatabaseURL   string `json:"database_url,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	HTTPAddr      string `json:"http_addr"`

	SMTPHost       string        `json:"smtp_host"`
	SMTPPort       int           `json:"smtp_port"`
	SMTPUser       string        `json:"smtp_user,omitempty"`
	SMTPPass       string        `json:"-"`
	SMTPTimeout    time.Duration `json:"-"`
	SMTPTimeoutStr string        `json:"smtp_timeout"`
	MailFrom       string        `json:"mail_from"`
	AdminEmail     string        `json:"admin_email"`

	RedirectStage2 string `json:"redirect_stage2"`
	RedirectStage3 string `json:"redirect_stage3"`
	RedirectDone   string `json:"redirect_done"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`
	LedgerQueueSize    int `json:"ledger_queue_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    string `json:"metrics_port"`
	MetricsPath    string `json:"metrics_path"`

	DigestEnabled  bool   `json:"digest_enabled"`
	DigestSchedule string `json:"digest_schedule"`
	DigestTimezone string `json:"digest_timezone"`

	ReconcileEnabled      bool          `json:"reconcile_enabled"`
	ReconcileInterval     time.Duration `json:"-"`
	ReconcileIntervalStr  string        `json:"reconcile_interval"`
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		LedgerBackend:             os.Getenv("LEDGER_BACKEND"),
		LedgerPath:                os.Getenv("LEDGER_PATH"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		SMTPHost:                  os.Getenv("SMTP_HOST"),
		SMTPUser:                  os.Getenv("SMTP_USER"),
		SMTPPass:                  os.Getenv("SMTP_PASS"),
		SMTPTimeoutStr:            os.Getenv("SMTP_TIMEOUT"),
		MailFrom:                  os.Getenv("MAIL_FROM"),
		AdminEmail:                os.Getenv("ADMIN_EMAIL"),
		RedirectStage2:            os.Getenv("REDIRECT_STAGE2"),
		RedirectStage3:            os.Getenv("REDIRECT_STAGE3"),
		RedirectDone:              os.Getenv("REDIRECT_DONE"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPort:               os.Getenv("METRICS_PORT"),
		MetricsPath:               os.Getenv("METRICS_PATH"),
		DigestEnabled:             os.Getenv("DIGEST_ENABLED") == "true",
		DigestSchedule:            os.Getenv("DIGEST_SCHEDULE"),
		DigestTimezone:            os.Getenv("DIGEST_TIMEZONE"),
		ReconcileEnabled:          os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:      os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:     os.Getenv("RECONCILE_THRESHOLD"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		AnalyticsRetentionStr:     os.Getenv("ANALYTICS_RETENTION"),
	}

	cfg.SMTPPort = intEnv("SMTP_PORT", 587)
	cfg.EventBusBufferSize = intEnv("EVENTBUS_BUFFER_SIZE", 100)
	cfg.LedgerQueueSize = intEnv("LEDGER_QUEUE_SIZE", 64)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)

	if v := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", v)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = BackendDocument
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "data/submissions.json"
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	if cfg.MailFrom == "" {
		cfg.MailFrom = cfg.SMTPUser
	}

	if cfg.RedirectStage2 == "" {
		cfg.RedirectStage2 = "/stage2.html"
	}
	if cfg.RedirectStage3 == "" {
		cfg.RedirectStage3 = "/stage3.html"
	}
	if cfg.RedirectDone == "" {
		cfg.RedirectDone = "/index.html?success=true"
	}

	if cfg.SMTPTimeoutStr == "" {
		cfg.SMTPTimeoutStr = "30s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.DigestSchedule == "" {
		cfg.DigestSchedule = "0 8 * * *"
	}
	if cfg.DigestTimezone == "" {
		cfg.DigestTimezone = "UTC"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "1h"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "24h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SMTPTimeoutStr); err == nil {
		cfg.SMTPTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}

	return cfg
}

func intEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, v, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	if c.SMTPUser != "" {
		masked.SMTPUser = "***"
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
