// Package dispatcher routes server events to at most one handler per event
// name and records per-event OTel metrics.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownEvent is returned by Dispatch when no handler is registered.
var ErrUnknownEvent = errors.New("unknown event")

// Event is a message received from the server.
type Event struct {
	Name     string
	Payload  json.RawMessage
	Received time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging around the handler and an error log on failure.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Registration identifies one Register call. Unregister only removes the
// handler if it has not been replaced since.
type Registration struct {
	Name string
	ID   uint64
}

type entry struct {
	id      uint64
	handler HandlerFunc
}

// Dispatcher routes events to registered handlers. At most one handler is
// registered per event name; registering again replaces the previous one.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	processed metric.Int64Counter
	failed    metric.Int64Counter
	unknown   metric.Int64Counter
	duration  metric.Float64Histogram
	latency   metric.Float64Histogram

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]*entry
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	return NewWithMeter(logger, meter())
}

// NewWithMeter creates a Dispatcher that records its metrics on m.
func NewWithMeter(logger Logger, m metric.Meter) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]*entry),
		logger:   logger,
	}

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Total events whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.unknown, err = m.Int64Counter(
		"dispatcher.events.unknown",
		metric.WithDescription("Total events without a registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unknown counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"dispatcher.handler.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	d.latency, err = m.Float64Histogram(
		"dispatcher.delivery.latency",
		metric.WithDescription("Time from receipt on the socket to handler start"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return d, nil
}

// Register installs h for the named event, replacing any previous handler.
func (d *Dispatcher) Register(name string, h HandlerFunc, opts ...Option) Registration {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &entry{handler: h}
	if cfg.logged && d.logger != nil {
		e.handler = d.withLogging(name, e.handler)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	e.id = d.nextID
	d.handlers[name] = e
	return Registration{Name: name, ID: e.id}
}

// Unregister removes the handler installed by reg. It is a no-op when reg
// has already been removed or replaced.
func (d *Dispatcher) Unregister(reg Registration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.handlers[reg.Name]
	if !ok || cur.id != reg.ID {
		return false
	}
	delete(d.handlers, reg.Name)
	return true
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("event", e.Name))

	d.mu.RLock()
	cur, ok := d.handlers[e.Name]
	d.mu.RUnlock()
	if !ok {
		d.unknown.Add(ctx, 1, attrs)
		return fmt.Errorf("%w: %s", ErrUnknownEvent, e.Name)
	}

	start := time.Now()
	if !e.Received.IsZero() {
		d.latency.Record(ctx, float64(start.Sub(e.Received))/float64(time.Millisecond), attrs)
	}
	err := cur.handler(e)
	d.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	d.processed.Add(ctx, 1, attrs)
	if err != nil {
		d.failed.Add(ctx, 1, attrs)
	}
	return err
}

// HasHandler returns true if a handler is registered for the event.
func (d *Dispatcher) HasHandler(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "event", name, "bytes", len(e.Payload))

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "event", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "event", name, "duration", time.Since(start))
		}

		return err
	}
}
