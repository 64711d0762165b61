// Package dispatcher drains external events into a dedicated conversation.
// It is a bounded, drop-oldest FIFO whose consumer loop is single-flighted:
// a boolean guard ensures only one drain runs at a time, and events pushed
// while a drain is already running are picked up in that same cycle rather
// than spawning a second drain goroutine.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/spiritd/internal/observability"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// EventProcessor is the single-event consumer the dispatcher drives —
// satisfied by *agent.Loop without dispatcher needing to import it.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event models.ExternalEvent) (string, error)
}

// Dispatcher is a bounded, drop-oldest FIFO of ExternalEvents.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []models.ExternalEvent
	capacity int
	draining bool

	processor EventProcessor
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option mutates a Dispatcher during construction.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option { return func(d *Dispatcher) { d.logger = logger } }
func WithMetrics(m *observability.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// New constructs a Dispatcher with the given queue capacity. capacity <= 0
// is treated as 1 (a bound of zero would drop every pushed event).
func New(capacity int, processor EventProcessor, opts ...Option) *Dispatcher {
	if capacity <= 0 {
		capacity = 1
	}
	d := &Dispatcher{
		capacity:  capacity,
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Push enqueues event, dropping the oldest queued event if the queue is at
// capacity, and starts a drain if one is not already running. ctx is used
// for the lifetime of that drain (and any future drain this push starts);
// it should outlive the call, typically the daemon's root context.
func (d *Dispatcher) Push(ctx context.Context, event models.ExternalEvent) {
	d.mu.Lock()
	if len(d.queue) >= d.capacity {
		dropped := d.queue[0]
		d.queue = d.queue[1:]
		d.logger.Warn("dispatcher queue full, dropping oldest event",
			"dropped_source", dropped.Source, "capacity", d.capacity)
		if d.metrics != nil {
			d.metrics.DispatcherDrop()
		}
	}
	d.queue = append(d.queue, event)

	shouldDrain := !d.draining
	if shouldDrain {
		d.draining = true
	}
	d.mu.Unlock()

	if shouldDrain {
		go d.drain(ctx)
	}
}

// Len reports the current queue depth, for diagnostics/tests.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		event := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.processOne(ctx, event)
	}
}

// processOne isolates one event's processing behind a recover so a single
// poisoned event (one whose handling panics) cannot stop the drain loop.
func (d *Dispatcher) processOne(ctx context.Context, event models.ExternalEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered panic processing external event", "source", event.Source, "panic", r)
		}
	}()
	if _, err := d.processor.ProcessEvent(ctx, event); err != nil {
		d.logger.Error("failed to process external event", "source", event.Source, "error", err)
	}
}
