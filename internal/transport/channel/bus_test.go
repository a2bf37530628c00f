package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

func newTestEvent() domain.CompletionEvent {
	return domain.CompletionEvent{
		Identity:    uuid.New(),
		CompletedAt: time.Now().UTC(),
	}
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(10)
	event := newTestEvent()

	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.Identity != event.Identity {
			t.Errorf("Identity = %v, want %v", got.Identity, event.Identity)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event on channel")
	}
}

func TestEventBus_BufferFull(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(50*time.Millisecond))
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	if err := bus.Emit(ctx, newTestEvent()); err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
}

func TestEventBus_BufferFullNoTimeout(t *testing.T) {
	bus := NewEventBus(1)
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// No emit timeout configured: a full buffer fails immediately.
	start := time.Now()
	if err := bus.Emit(ctx, newTestEvent()); err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("emit blocked for %s without a timeout configured", elapsed)
	}
}

func TestEventBus_ContextCancelled(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))

	if err := bus.Emit(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bus.Emit(cancelledCtx, newTestEvent()); err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestEventBus_CancelledContextWithSpace(t *testing.T) {
	bus := NewEventBus(1)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	// Buffer space wins over the cancelled context: the event must land.
	if err := bus.Emit(cancelledCtx, newTestEvent()); err != nil {
		t.Fatalf("Emit with buffer space failed: %v", err)
	}
	if got := len(bus.Channel()); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

func TestEventBus_ConcurrentEmit(t *testing.T) {
	bus := NewEventBus(1000)
	ctx := context.Background()

	const numGoroutines = 10
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := bus.Emit(ctx, newTestEvent()); err != nil {
					t.Errorf("Emit failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := len(bus.Channel()); got != numGoroutines*eventsPerGoroutine {
		t.Errorf("buffered events = %d, want %d", got, numGoroutines*eventsPerGoroutine)
	}
}

type busMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *busMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *busMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *busMetrics) BufferSaturationUpdate(saturation float64) {}

func (m *busMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func TestEventBus_WithMetrics(t *testing.T) {
	metrics := &busMetrics{}
	bus := NewEventBus(10, WithMetrics(metrics))

	if metrics.capacity != 10 {
		t.Errorf("capacity = %d, want 10", metrics.capacity)
	}

	if err := bus.Emit(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(metrics.sizes) == 0 {
		t.Error("no buffer size updates recorded")
	}
}

func TestEventBus_EmitErrorMetric(t *testing.T) {
	metrics := &busMetrics{}
	bus := NewEventBus(1, WithEmitTimeout(10*time.Millisecond), WithMetrics(metrics))
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestEvent()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}
	if err := bus.Emit(ctx, newTestEvent()); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got: %v", err)
	}

	if metrics.emitErrors != 1 {
		t.Errorf("emit errors = %d, want 1", metrics.emitErrors)
	}
}
