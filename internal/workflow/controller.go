// Package workflow maps inbound stage submissions onto ledger upserts
// and decides identity flow. The controller is stateless; all state
// lives in the ledger.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

// ErrMissingIdentity is returned when stage 2 or 3 is submitted without
// the identity generated at stage 1.
var ErrMissingIdentity = errors.New("identity required: start with the stage 1 form")

// ErrUnknownIdentity is returned when the supplied identity was never
// created. The ledger is not touched.
var ErrUnknownIdentity = errors.New("unknown identity")

type Ledger interface {
	Upsert(ctx context.Context, identity uuid.UUID, stage domain.Stage, payload json.RawMessage) (domain.Record, error)
	FindByIdentity(ctx context.Context, identity uuid.UUID) (domain.Record, error)
}

type CompletionEmitter interface {
	Emit(ctx context.Context, event domain.CompletionEvent) error
}

// MetricsSink defines the interface for recording workflow metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SubmissionAccepted(stage string)
	SubmissionRejected(stage string, reason string)
}

// AnalyticsSink records per-stage submission counts. Best-effort only:
// failures never affect the submission.
type AnalyticsSink interface {
	Record(ctx context.Context, stage domain.Stage, at time.Time) error
}

// Result is what the controller hands back to the HTTP layer.
type Result struct {
	Identity  uuid.UUID
	Record    domain.Record
	Completed bool
}

type Controller struct {
	ledger    Ledger
	emitter   CompletionEmitter
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(ledger Ledger, emitter CompletionEmitter) *Controller {
	return &Controller{
		ledger:  ledger,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the controller.
func (c *Controller) WithMetrics(sink MetricsSink) *Controller {
	c.metrics = sink
	return c
}

// WithAnalytics attaches a submission analytics sink to the controller.
func (c *Controller) WithAnalytics(sink AnalyticsSink) *Controller {
	c.analytics = sink
	return c
}

// Submit applies one stage submission. Stage 1 ignores the inbound
// identity and generates a fresh one; stages 2 and 3 require an identity
// that already exists in the ledger. Only a successful stage 3 emits a
// completion event, and emit failures never fail the submission.
func (c *Controller) Submit(ctx context.Context, stage domain.Stage, identity uuid.UUID, payload json.RawMessage) (Result, error) {
	rule := stage.Rule()

	if rule.RequiresIdentity {
		if identity == uuid.Nil {
			c.reject(stage, "missing_identity")
			return Result{}, ErrMissingIdentity
		}
		if _, err := c.ledger.FindByIdentity(ctx, identity); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.reject(stage, "unknown_identity")
				return Result{}, ErrUnknownIdentity
			}
			return Result{}, fmt.Errorf("lookup %s: %w", identity, err)
		}
	} else {
		identity = uuid.New()
	}

	record, err := c.ledger.Upsert(ctx, identity, stage, payload)
	if err != nil {
		c.reject(stage, "store_write")
		return Result{}, fmt.Errorf("upsert %s for %s: %w", stage, identity, err)
	}

	if c.metrics != nil {
		c.metrics.SubmissionAccepted(string(stage))
	}
	c.writeAnalytics(ctx, stage)

	result := Result{Identity: identity, Record: record, Completed: rule.Completes}

	if rule.Completes {
		event := domain.CompletionEvent{
			Identity:    identity,
			CompletedAt: c.clock().UTC(),
		}
		if err := c.emitter.Emit(ctx, event); err != nil {
			// The registration is durably merged; losing the notification
			// must not fail the request.
			log.Printf("workflow: completion emit failed for %s: %v", identity, err)
		}
	}

	return result, nil
}

func (c *Controller) reject(stage domain.Stage, reason string) {
	if c.metrics != nil {
		c.metrics.SubmissionRejected(string(stage), reason)
	}
}

// writeAnalytics records the submission as a best-effort side-effect.
func (c *Controller) writeAnalytics(ctx context.Context, stage domain.Stage) {
	if c.analytics == nil {
		return
	}
	if err := c.analytics.Record(ctx, stage, c.clock().UTC()); err != nil {
		log.Printf("workflow: analytics write failed: %v", err)
	}
}
