// Package channel provides the in-process bus carrying completion
// events from the workflow controller to the notification dispatcher.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/expoarte/registrar/internal/domain"
)

// ErrBufferFull is returned when an emit could not be accepted within
// the emit timeout. The caller treats this as a lost notification, not
// a failed submission.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink defines the interface for recording event bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit blocks when the buffer is full.
// Zero means fail immediately.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) { b.metrics = sink }
}

type EventBus struct {
	ch          chan domain.CompletionEvent
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.CompletionEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues a completion event. It never blocks longer than the
// emit timeout; a full buffer yields ErrBufferFull.
func (b *EventBus) Emit(ctx context.Context, event domain.CompletionEvent) error {
	// A buffered send always wins, even under a cancelled context, so
	// an event that fits is never dropped by the caller racing shutdown.
	select {
	case b.ch <- event:
		b.updateBufferMetrics()
		return nil
	default:
	}

	if err := ctx.Err(); err != nil {
		b.recordEmitError()
		return err
	}
	if b.emitTimeout <= 0 {
		b.recordEmitError()
		return ErrBufferFull
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.updateBufferMetrics()
		return nil
	case <-ctx.Done():
		b.recordEmitError()
		return ctx.Err()
	case <-timer.C:
		b.recordEmitError()
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.CompletionEvent {
	return b.ch
}

func (b *EventBus) updateBufferMetrics() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if cap(b.ch) > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(cap(b.ch)))
	}
}

func (b *EventBus) recordEmitError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
