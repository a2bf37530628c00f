// Package reconciler reports registrations that stalled before stage 3.
//
// A registration is stale when it is incomplete and has seen no activity
// for longer than the configured threshold. The reconciler only observes:
// it logs stale records and publishes a gauge so operators can follow up,
// it never mutates the ledger or re-sends mail.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/expoarte/registrar/internal/domain"
)

// Ledger defines the read access the reconciler needs.
type Ledger interface {
	LoadAll(ctx context.Context) ([]domain.Record, error)
}

// MetricsSink receives the stale registration count after each cycle.
type MetricsSink interface {
	StaleRegistrationsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler scans the ledger.
	// Default: 1 hour.
	Interval time.Duration

	// Threshold is the inactivity age after which an incomplete
	// registration is considered stale. Default: 24 hours.
	Threshold time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		Threshold: 24 * time.Hour,
	}
}

// Reconciler scans the ledger for stale in-progress registrations.
type Reconciler struct {
	config  Config
	ledger  Ledger
	metrics MetricsSink
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, ledger Ledger) *Reconciler {
	return &Reconciler{
		config: config,
		ledger: ledger,
		clock:  time.Now,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the scan loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s)",
		r.config.Interval, r.config.Threshold)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one scan of the ledger.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	records, err := r.ledger.LoadAll(ctx)
	if err != nil {
		// Ledger error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to load records: %v", err)
		return
	}

	stale := r.findStale(records, cutoff)
	if r.metrics != nil {
		r.metrics.StaleRegistrationsUpdate(len(stale))
	}

	if len(stale) == 0 {
		// Nothing to report. Silent success.
		return
	}

	log.Printf("reconciler: found %d stale registrations", len(stale))
	for _, rec := range stale {
		log.Printf("reconciler: stale registration identity=%s last_activity=%s (age=%s)",
			rec.Identity, rec.LastActivity().Format(time.RFC3339),
			now.Sub(rec.LastActivity()).Round(time.Minute))
	}
}

// findStale returns incomplete records whose last activity is before cutoff.
func (r *Reconciler) findStale(records []domain.Record, cutoff time.Time) []domain.Record {
	var stale []domain.Record
	for _, rec := range records {
		if rec.Complete() {
			continue
		}
		if rec.LastActivity().Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	return stale
}
