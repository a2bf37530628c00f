package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/expoarte/registrar/internal/cron"
)

// ValidationError describes a single invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one validation pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns all problems found.
func (c Config) Validate() error {
	var errs ValidationErrors

	switch c.LedgerBackend {
	case BackendDocument:
		if c.LedgerPath == "" {
			errs = append(errs, ValidationError{"LEDGER_PATH", "required for the document backend"})
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ValidationError{"DATABASE_URL", "required for the postgres backend"})
		}
	default:
		errs = append(errs, ValidationError{"LEDGER_BACKEND", fmt.Sprintf("must be %q or %q, got %q", BackendDocument, BackendPostgres, c.LedgerBackend)})
	}

	if c.SMTPHost == "" {
		errs = append(errs, ValidationError{"SMTP_HOST", "required"})
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, ValidationError{"SMTP_PORT", fmt.Sprintf("must be a valid port, got %d", c.SMTPPort)})
	}
	if c.AdminEmail == "" {
		errs = append(errs, ValidationError{"ADMIN_EMAIL", "required"})
	}
	if c.MailFrom == "" {
		errs = append(errs, ValidationError{"MAIL_FROM", "required when SMTP_USER is not set"})
	}

	errs = appendDurationError(errs, "SMTP_TIMEOUT", c.SMTPTimeoutStr, c.SMTPTimeout)
	errs = appendDurationError(errs, "HTTP_SHUTDOWN_TIMEOUT", c.HTTPShutdownTimeoutStr, c.HTTPShutdownTimeout)
	errs = appendDurationError(errs, "DISPATCHER_DRAIN_TIMEOUT", c.DispatcherDrainTimeoutStr, c.DispatcherDrainTimeout)
	errs = appendDurationError(errs, "CIRCUIT_BREAKER_COOLDOWN", c.CircuitBreakerCooldownStr, c.CircuitBreakerCooldown)
	errs = appendDurationError(errs, "DB_OP_TIMEOUT", c.DBOpTimeoutStr, c.DBOpTimeout)
	errs = appendDurationError(errs, "DB_CONN_MAX_LIFETIME", c.DBConnMaxLifetimeStr, c.DBConnMaxLifetime)
	errs = appendDurationError(errs, "ANALYTICS_RETENTION", c.AnalyticsRetentionStr, c.AnalyticsRetention)

	if c.DigestEnabled {
		if _, err := cron.Parse(c.DigestSchedule, c.DigestTimezone); err != nil {
			errs = append(errs, ValidationError{"DIGEST_SCHEDULE", err.Error()})
		}
	}

	if c.ReconcileEnabled {
		errs = appendDurationError(errs, "RECONCILE_INTERVAL", c.ReconcileIntervalStr, c.ReconcileInterval)
		errs = appendDurationError(errs, "RECONCILE_THRESHOLD", c.ReconcileThresholdStr, c.ReconcileThreshold)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationError(errs ValidationErrors, field, raw string, parsed time.Duration) ValidationErrors {
	if parsed > 0 {
		return errs
	}
	return append(errs, ValidationError{field, fmt.Sprintf("must be a positive duration, got %q", raw)})
}
