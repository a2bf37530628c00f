package digest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/expoarte/registrar/internal/dispatcher"
	"github.com/expoarte/registrar/internal/domain"
	"github.com/expoarte/registrar/internal/testutil"
)

type mockLedger struct {
	records []domain.Record
	loadErr error
}

func (m *mockLedger) LoadAll(ctx context.Context) ([]domain.Record, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.records, nil
}

type mockMailer struct {
	sent    []dispatcher.Message
	sendErr error
}

func (m *mockMailer) Send(ctx context.Context, msg dispatcher.Message) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fixedSchedule struct{ at time.Time }

func (s fixedSchedule) Next(after time.Time) time.Time { return s.at }

type intervalSchedule struct{ every time.Duration }

func (s intervalSchedule) Next(after time.Time) time.Time { return after.Add(s.every) }

func TestRunOnceSummarisesLedger(t *testing.T) {
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	complete := testutil.RecordWithStages(
		testutil.MustParseUUID("11111111-1111-1111-1111-111111111111"),
		created, domain.Stage1, domain.Stage2, domain.Stage3)
	partial := testutil.RecordWithStages(
		testutil.MustParseUUID("22222222-2222-2222-2222-222222222222"),
		created, domain.Stage1)

	ledger := &mockLedger{records: []domain.Record{complete, partial}}
	mailer := &mockMailer{}
	d := New(Config{Recipient: "museum@example.org"}, ledger, mailer, fixedSchedule{})

	if err := d.RunOnce(testutil.TestContext(t)); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}

	msg := mailer.sent[0]
	if msg.To != "museum@example.org" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "Registration digest: 1 complete, 1 in progress" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{"Total registrations: 2", "Complete: 1", "In progress: 1", complete.Identity.String()} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if msg.Attachment == nil {
		t.Fatal("expected JSON attachment")
	}
	var attached []domain.Record
	if err := json.Unmarshal(msg.Attachment.Content, &attached); err != nil {
		t.Fatalf("attachment is not valid JSON: %v", err)
	}
	if len(attached) != 2 {
		t.Errorf("attachment has %d records, want 2", len(attached))
	}
}

func TestRunOnceEmptyLedgerSkipsAttachment(t *testing.T) {
	mailer := &mockMailer{}
	d := New(Config{Recipient: "museum@example.org"}, &mockLedger{}, mailer, fixedSchedule{})

	if err := d.RunOnce(testutil.TestContext(t)); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	msg := mailer.sent[0]
	if msg.Attachment != nil {
		t.Error("empty digest should not carry an attachment")
	}
	if !strings.Contains(msg.Body, "Total registrations: 0") {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestRunOncePropagatesFailures(t *testing.T) {
	d := New(Config{Recipient: "museum@example.org"},
		&mockLedger{loadErr: errors.New("disk gone")}, &mockMailer{}, fixedSchedule{})
	if err := d.RunOnce(context.Background()); err == nil {
		t.Error("expected error when ledger load fails")
	}

	d = New(Config{Recipient: "museum@example.org"},
		&mockLedger{}, &mockMailer{sendErr: errors.New("smtp down")}, fixedSchedule{})
	if err := d.RunOnce(context.Background()); err == nil {
		t.Error("expected error when send fails")
	}
}

type digestMetrics struct {
	results []string
}

func (m *digestMetrics) DigestCompleted(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.results = append(m.results, result)
}

func TestRunOnceRecordsMetrics(t *testing.T) {
	metrics := &digestMetrics{}
	d := New(Config{Recipient: "museum@example.org"}, &mockLedger{}, &mockMailer{}, fixedSchedule{}).
		WithMetrics(metrics)

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	d = New(Config{Recipient: "museum@example.org"},
		&mockLedger{loadErr: errors.New("disk gone")}, &mockMailer{}, fixedSchedule{}).
		WithMetrics(metrics)
	_ = d.RunOnce(context.Background())

	want := []string{"success", "error"}
	if len(metrics.results) != len(want) {
		t.Fatalf("results = %v, want %v", metrics.results, want)
	}
	for i := range want {
		if metrics.results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, metrics.results[i], want[i])
		}
	}
}

func TestRunFiresOnSchedule(t *testing.T) {
	mailer := &mockMailer{}
	d := New(Config{Recipient: "museum@example.org"}, &mockLedger{}, mailer,
		intervalSchedule{every: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	if len(mailer.sent) == 0 {
		t.Error("expected at least one digest to fire")
	}
}
