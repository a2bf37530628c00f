package main

import (
	"log"

	"github.com/expoarte/registrar/internal/config"
)

// logConfigWarnings flags configuration combinations that are valid but
// likely wrong in production. Warnings never stop startup.
func logConfigWarnings(cfg *config.Config) {
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING: CIRCUIT_BREAKER_THRESHOLD=0 disables the mail circuit breaker; " +
			"a dead SMTP endpoint will be retried on every completion")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING: METRICS_ENABLED=false; submission and notification " +
			"failures will only be visible in logs")
	}

	if cfg.LedgerBackend == config.BackendDocument {
		log.Println("INFO: LEDGER_BACKEND=document is single-process; run exactly one " +
			"instance against LEDGER_PATH or switch to the postgres backend")
	}

	if !cfg.ReconcileEnabled {
		log.Println("INFO: RECONCILE_ENABLED=false; stalled registrations will not be reported")
	}
}
