// Package dispatcher sends the completion notifications: one message to
// the administrative mailbox and one confirmation to the registrant.
//
// Dispatch is fire-and-forget relative to the HTTP request that
// triggered it. Failures are logged and counted, never retried and
// never surfaced to the registrant.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

type Ledger interface {
	FindByIdentity(ctx context.Context, identity uuid.UUID) (domain.Record, error)
}

// Mailer is the opaque transport capability. Verify is the
// connectivity/auth pre-check run before any send.
type Mailer interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	NotificationStepCompleted(step string, duration time.Duration)
	NotificationOutcome(outcome string)
	NotificationsInFlightIncr()
	NotificationsInFlightDecr()
}

type Message struct {
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Config struct {
	// AdminRecipient is the fixed administrative mailbox.
	AdminRecipient string
}

type Dispatcher struct {
	config       Config
	ledger       Ledger
	mailer       Mailer
	breaker      *breaker // optional, nil = disabled
	metrics      MetricsSink
	drainTimeout time.Duration
}

// DrainTimeout is the default maximum time to wait for buffered events
// during shutdown.
const DrainTimeout = 30 * time.Second

func New(config Config, ledger Ledger, mailer Mailer) *Dispatcher {
	return &Dispatcher{
		config:       config,
		ledger:       ledger,
		mailer:       mailer,
		drainTimeout: DrainTimeout,
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithBreaker guards the mail endpoint with a circuit breaker.
// threshold <= 0 disables it.
func (d *Dispatcher) WithBreaker(threshold int, cooldown time.Duration) *Dispatcher {
	if threshold > 0 {
		d.breaker = newBreaker(threshold, cooldown)
	}
	return d
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Run processes completion events from the channel until ctx is
// cancelled, then drains remaining buffered events with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.CompletionEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case event := <-ch:
			if err := d.Notify(ctx, event.Identity); err != nil {
				log.Printf("dispatcher: notification failed for %s: %v", event.Identity, err)
			}
		}
	}
}

// drain processes events still buffered after the shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.CompletionEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("dispatcher: drain timeout, processed %d events", count)
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d events", count)
				return
			}
			if err := d.Notify(drainCtx, event.Identity); err != nil {
				log.Printf("dispatcher: drain notification failed for %s: %v", event.Identity, err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Notify assembles and sends both notification messages for identity.
// At most one attempt per call: verification failure aborts before any
// send, an admin send failure aborts before the registrant send, and
// nothing is rolled back or retried.
func (d *Dispatcher) Notify(ctx context.Context, identity uuid.UUID) error {
	if d.metrics != nil {
		d.metrics.NotificationsInFlightIncr()
		defer d.metrics.NotificationsInFlightDecr()
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			d.outcome("skipped")
			return err
		}
	}

	transport, err := d.notify(ctx, identity)
	if err != nil {
		// Only transport failures trip the breaker; a bad record says
		// nothing about the mail endpoint.
		if d.breaker != nil && transport {
			d.breaker.RecordFailure()
		}
		d.outcome("failed")
		return err
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	d.outcome("success")
	log.Printf("dispatcher: notified admin and registrant for %s", identity)
	return nil
}

// notify runs the pipeline. The bool reports whether a failure happened
// in the mail transport (as opposed to the record being unusable).
func (d *Dispatcher) notify(ctx context.Context, identity uuid.UUID) (bool, error) {
	record, err := d.ledger.FindByIdentity(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}

	contact, err := ExtractContact(record)
	if err != nil {
		return false, fmt.Errorf("record %s: %w", identity, err)
	}

	if err := d.step(ctx, "verify", func(ctx context.Context) error {
		return d.mailer.Verify(ctx)
	}); err != nil {
		return true, fmt.Errorf("verify transport: %w", err)
	}

	adminMsg, err := BuildAdminMessage(d.config.AdminRecipient, record, contact)
	if err != nil {
		return false, fmt.Errorf("build admin message: %w", err)
	}
	if err := d.step(ctx, "admin_send", func(ctx context.Context) error {
		return d.mailer.Send(ctx, adminMsg)
	}); err != nil {
		return true, fmt.Errorf("send admin message: %w", err)
	}

	if err := d.step(ctx, "registrant_send", func(ctx context.Context) error {
		return d.mailer.Send(ctx, BuildRegistrantMessage(contact))
	}); err != nil {
		return true, fmt.Errorf("send registrant message: %w", err)
	}

	return false, nil
}

func (d *Dispatcher) step(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if d.metrics != nil {
		d.metrics.NotificationStepCompleted(name, time.Since(start))
	}
	return err
}

func (d *Dispatcher) outcome(outcome string) {
	if d.metrics != nil {
		d.metrics.NotificationOutcome(outcome)
	}
}

// Contact is the registrant's reachable address, captured at stage 1.
type Contact struct {
	Email string
	Name  string
}

// ExtractContact pulls the contact email (and display name, if any) out
// of the stage-1 payload. A record without a usable email fails fast,
// before any send is attempted.
func ExtractContact(record domain.Record) (Contact, error) {
	raw, ok := record.Stages[domain.Stage1]
	if !ok {
		return Contact{}, errors.New("stage 1 data missing")
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Contact{}, fmt.Errorf("decode stage 1 payload: %w", err)
	}

	email := stringField(fields, "email", "contact_email")
	if email == "" {
		return Contact{}, errors.New("no contact email in stage 1 payload")
	}

	name := stringField(fields, "name", "full_name")
	if name == "" {
		name = record.Identity.String()
	}

	return Contact{Email: email, Name: name}, nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// BuildAdminMessage composes the administrative notification: subject
// names the registrant, body summarises the record, and the full record
// travels as a JSON attachment.
func BuildAdminMessage(recipient string, record domain.Record, contact Contact) (Message, error) {
	attachment, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Message{}, fmt.Errorf("marshal record: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A new exhibitor completed registration.\n\n")
	fmt.Fprintf(&b, "Name:      %s\n", contact.Name)
	fmt.Fprintf(&b, "Email:     %s\n", contact.Email)
	fmt.Fprintf(&b, "Identity:  %s\n", record.Identity)
	fmt.Fprintf(&b, "Started:   %s\n", record.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Completed: %s\n", record.LastActivity().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nThe full submission is attached as JSON.\n")

	return Message{
		To:      recipient,
		Subject: fmt.Sprintf("New exhibitor registration: %s", contact.Name),
		Body:    b.String(),
		Attachment: &Attachment{
			Filename:    fmt.Sprintf("registration_%s.json", record.Identity),
			ContentType: "application/json",
			Content:     attachment,
		},
	}, nil
}

// BuildRegistrantMessage composes the fixed confirmation sent to the
// registrant's stage-1 email.
func BuildRegistrantMessage(contact Contact) Message {
	body := fmt.Sprintf(
		"Hello %s,\n\nWe received all three parts of your exhibitor registration. "+
			"Our team will review your submission and get back to you.\n\n"+
			"Thank you for registering.\n",
		contact.Name,
	)
	return Message{
		To:      contact.Email,
		Subject: "Your exhibitor registration was received",
		Body:    body,
	}
}
