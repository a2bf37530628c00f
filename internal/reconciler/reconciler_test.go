package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/expoarte/registrar/internal/domain"
	"github.com/expoarte/registrar/internal/testutil"
)

type mockLedger struct {
	records []domain.Record
	loadErr error
	loads   int
}

func (m *mockLedger) LoadAll(ctx context.Context) ([]domain.Record, error) {
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.records, nil
}

type staleMetrics struct {
	counts []int
}

func (m *staleMetrics) StaleRegistrationsUpdate(count int) {
	m.counts = append(m.counts, count)
}

func TestRunCycleFlagsStaleIncompleteRecords(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	fresh := testutil.RecordWithStages(
		testutil.MustParseUUID("11111111-1111-1111-1111-111111111111"),
		now.Add(-time.Hour), domain.Stage1)
	staleRec := testutil.RecordWithStages(
		testutil.MustParseUUID("22222222-2222-2222-2222-222222222222"),
		now.Add(-48*time.Hour), domain.Stage1, domain.Stage2)
	completeOld := testutil.RecordWithStages(
		testutil.MustParseUUID("33333333-3333-3333-3333-333333333333"),
		now.Add(-72*time.Hour), domain.Stage1, domain.Stage2, domain.Stage3)

	ledger := &mockLedger{records: []domain.Record{fresh, staleRec, completeOld}}
	metrics := &staleMetrics{}
	r := New(DefaultConfig(), ledger).WithMetrics(metrics)
	r.clock = func() time.Time { return now }

	r.runCycle(context.Background())

	if len(metrics.counts) != 1 || metrics.counts[0] != 1 {
		t.Errorf("stale counts = %v, want [1]", metrics.counts)
	}
}

func TestRunCycleUpdatedRecordIsNotStale(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	// Created long ago but touched recently.
	rec := testutil.RecordWithStages(
		testutil.MustParseUUID("11111111-1111-1111-1111-111111111111"),
		now.Add(-72*time.Hour), domain.Stage1)
	touched := now.Add(-time.Hour)
	rec.LastUpdatedAt = &touched

	metrics := &staleMetrics{}
	r := New(DefaultConfig(), &mockLedger{records: []domain.Record{rec}}).WithMetrics(metrics)
	r.clock = func() time.Time { return now }

	r.runCycle(context.Background())

	if metrics.counts[0] != 0 {
		t.Errorf("stale count = %d, want 0", metrics.counts[0])
	}
}

func TestRunCycleLedgerFailureSkipsMetrics(t *testing.T) {
	metrics := &staleMetrics{}
	r := New(DefaultConfig(), &mockLedger{loadErr: errors.New("disk gone")}).WithMetrics(metrics)

	r.runCycle(context.Background())

	if len(metrics.counts) != 0 {
		t.Errorf("metrics should not update on load failure, got %v", metrics.counts)
	}
}

func TestRunScansOnInterval(t *testing.T) {
	ledger := &mockLedger{}
	r := New(Config{Interval: 10 * time.Millisecond, Threshold: 24 * time.Hour}, ledger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	// Initial scan plus at least one interval tick.
	if ledger.loads < 2 {
		t.Errorf("loads = %d, want at least 2", ledger.loads)
	}
}
