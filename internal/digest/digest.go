// Package digest sends a periodic summary of registration activity to
// the admin mailbox on a cron schedule.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/expoarte/registrar/internal/dispatcher"
	"github.com/expoarte/registrar/internal/domain"
)

type Ledger interface {
	LoadAll(ctx context.Context) ([]domain.Record, error)
}

type Mailer interface {
	Send(ctx context.Context, msg dispatcher.Message) error
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type MetricsSink interface {
	DigestCompleted(duration time.Duration, err error)
}

type Config struct {
	Recipient string
}

type Digest struct {
	config   Config
	ledger   Ledger
	mailer   Mailer
	schedule Schedule
	metrics  MetricsSink
	clock    func() time.Time
}

func New(config Config, ledger Ledger, mailer Mailer, schedule Schedule) *Digest {
	return &Digest{
		config:   config,
		ledger:   ledger,
		mailer:   mailer,
		schedule: schedule,
		clock:    time.Now,
	}
}

func (d *Digest) WithMetrics(sink MetricsSink) *Digest {
	d.metrics = sink
	return d
}

// Run sends a digest at every schedule activation until ctx is cancelled.
func (d *Digest) Run(ctx context.Context) error {
	log.Println("digest: started")

	for {
		now := d.clock()
		next := d.schedule.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("digest: stopped")
			return ctx.Err()
		case <-timer.C:
			if err := d.RunOnce(ctx); err != nil {
				log.Printf("digest: run error: %v", err)
			}
		}
	}
}

// RunOnce composes and sends a single digest covering the whole ledger.
func (d *Digest) RunOnce(ctx context.Context) error {
	start := d.clock()

	records, err := d.ledger.LoadAll(ctx)
	if err != nil {
		d.recordRun(start, err)
		return fmt.Errorf("load records: %w", err)
	}

	msg := d.compose(records, start)
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.recordRun(start, err)
		return fmt.Errorf("send digest: %w", err)
	}

	d.recordRun(start, nil)
	log.Printf("digest: sent summary of %d registrations to %s", len(records), d.config.Recipient)
	return nil
}

func (d *Digest) compose(records []domain.Record, now time.Time) dispatcher.Message {
	var complete, inProgress int
	var lines []string

	for _, rec := range records {
		state := "in progress"
		if rec.Complete() {
			state = "complete"
			complete++
		} else {
			inProgress++
		}
		var submitted []string
		for _, s := range domain.Stages() {
			if rec.Has(s) {
				submitted = append(submitted, string(s))
			}
		}
		lines = append(lines, fmt.Sprintf("  %s  %s (%s)  last activity %s",
			rec.Identity, state, strings.Join(submitted, "+"),
			rec.LastActivity().Format(time.RFC3339)))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Registration digest generated at %s\n\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "Total registrations: %d\n", len(records))
	fmt.Fprintf(&body, "Complete: %d\n", complete)
	fmt.Fprintf(&body, "In progress: %d\n", inProgress)
	if len(lines) > 0 {
		body.WriteString("\nRegistrations:\n")
		body.WriteString(strings.Join(lines, "\n"))
		body.WriteString("\n")
	}

	msg := dispatcher.Message{
		To:      d.config.Recipient,
		Subject: fmt.Sprintf("Registration digest: %d complete, %d in progress", complete, inProgress),
		Body:    body.String(),
	}

	if len(records) > 0 {
		if content, err := json.MarshalIndent(records, "", "  "); err == nil {
			msg.Attachment = &dispatcher.Attachment{
				Filename:    fmt.Sprintf("registrations_%s.json", now.UTC().Format("20060102")),
				ContentType: "application/json",
				Content:     content,
			}
		}
	}

	return msg
}

func (d *Digest) recordRun(start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.DigestCompleted(d.clock().Sub(start), err)
}
