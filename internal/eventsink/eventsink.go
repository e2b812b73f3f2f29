// Package eventsink implements the Event Sink (spec.md §6): schema-
// versioned, fire-and-forget telemetry records for external consumption
// (persistent log, metrics, semantic store). Emission never blocks
// trading work — the sink is a bounded buffer drained by a background
// worker, and backpressure drops the OLDEST buffered record first,
// never the newest (spec.md §5's shared-resource policy).
//
// Grounded on the teacher's internal/events.EventBus: a buffered channel
// feeding worker goroutines, with published/dropped counters and a
// graceful, timeout-bounded Stop. Generalized in two ways the spec
// requires: (1) schema-versioned structured records instead of typed
// Go event structs per category, and (2) oldest-dropped-first backpressure
// instead of the bus's drop-the-incoming-event default, since the spec
// is explicit that old telemetry is less valuable than new telemetry,
// the opposite of the teacher's "drop what doesn't fit" channel policy.
package eventsink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is the current event-record schema version.
const SchemaVersion = 1

// Kind enumerates the spec's fixed event-record vocabulary.
type Kind string

const (
	SignalGenerated     Kind = "signal.generated"
	SignalRejected      Kind = "signal.rejected"
	OrderSent           Kind = "order.sent"
	OrderFilled         Kind = "order.filled"
	OrderRejected       Kind = "order.rejected"
	PositionOpened      Kind = "position.opened"
	PositionModified    Kind = "position.modified"
	PositionPartialClose Kind = "position.partial_closed"
	PositionClosed      Kind = "position.closed"
	AdoptionAccepted    Kind = "adoption.accepted"
	AdoptionSkipped     Kind = "adoption.skipped"
	BrokerDisconnected  Kind = "broker.disconnected"
	BrokerReconnected   Kind = "broker.reconnected"
	IterationError      Kind = "iteration.error"
	RiskHalted          Kind = "risk.halted"
)

// Record is one emitted telemetry event.
type Record struct {
	Kind          Kind                   `json:"kind"`
	Timestamp     time.Time              `json:"timestamp"`
	Sequence      int64                  `json:"sequence"`
	SchemaVersion int                    `json:"schemaVersion"`
	Symbol        string                 `json:"symbol,omitempty"`
	Ticket        string                 `json:"ticket,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Sink is a handler invoked for every drained record (structured log,
// prometheus counters, a semantic store — anything downstream).
type Sink func(Record)

// Stats mirrors the teacher's EventBus counters, narrowed to what this
// sink tracks.
type Stats struct {
	Published int64
	Dropped   int64
	Processed int64
}

// Bus is the bounded, oldest-drop-first event buffer.
type Bus struct {
	logger *zap.Logger

	mu       sync.Mutex
	buf      []Record
	capacity int
	notify   chan struct{}

	seq atomic.Int64

	published atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64

	sinks []Sink

	cancel context.CancelFunc
	done   chan struct{}
}

// Config tunes the bus.
type Config struct {
	Capacity int
}

// DefaultConfig returns a generously sized buffer — telemetry loss
// should be rare in normal operation.
func DefaultConfig() Config {
	return Config{Capacity: 10000}
}

// New constructs a Bus with the given sinks attached.
func New(logger *zap.Logger, cfg Config, sinks ...Sink) *Bus {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	return &Bus{
		logger:   logger.Named("eventsink"),
		buf:      make([]Record, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		sinks:    append([]Sink(nil), sinks...),
		done:     make(chan struct{}),
	}
}

// Emit enqueues a record, fire-and-forget. If the buffer is at capacity
// the oldest buffered record is dropped to make room (spec.md §5).
func (b *Bus) Emit(kind Kind, now time.Time, symbol, ticket string, fields map[string]interface{}) {
	rec := Record{
		Kind: kind, Timestamp: now, Sequence: b.seq.Add(1),
		SchemaVersion: SchemaVersion, Symbol: symbol, Ticket: ticket, Fields: fields,
	}

	b.mu.Lock()
	if len(b.buf) >= b.capacity {
		b.buf = b.buf[1:]
		b.dropped.Add(1)
		b.logger.Warn("event record dropped, buffer full", zap.String("kind", string(kind)))
	}
	b.buf = append(b.buf, rec)
	b.mu.Unlock()
	b.published.Add(1)

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run drains the buffer and dispatches each record to every attached
// sink until ctx is cancelled. Intended to run in its own goroutine.
func (b *Bus) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.drainRemaining()
			return
		case <-b.notify:
			b.drainAvailable()
		}
	}
}

func (b *Bus) drainAvailable() {
	for {
		rec, ok := b.pop()
		if !ok {
			return
		}
		b.dispatch(rec)
	}
}

func (b *Bus) drainRemaining() {
	for {
		rec, ok := b.pop()
		if !ok {
			return
		}
		b.dispatch(rec)
	}
}

func (b *Bus) pop() (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return Record{}, false
	}
	rec := b.buf[0]
	b.buf = b.buf[1:]
	return rec, true
}

func (b *Bus) dispatch(rec Record) {
	for _, sink := range b.sinks {
		sink(rec)
	}
	b.processed.Add(1)
}

// Stop cancels the run loop and waits up to timeout for it to drain.
func (b *Bus) Stop(timeout time.Duration) {
	if b.cancel == nil {
		return
	}
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("eventsink shutdown timed out")
	}
}

// GetStats returns current counters.
func (b *Bus) GetStats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Processed: b.processed.Load(),
	}
}
