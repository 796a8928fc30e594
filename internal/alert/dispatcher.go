// Package alert deduplicates health transition events and fans them out to
// notification channels.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kindredcircl/healthd/internal/health"
)

// Notifier delivers one alert event to a channel. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev health.Event) error
}

// Dispatcher rate-limits and routes alert events. The evaluator is already
// edge-triggered; the suppression window here additionally protects
// channels from rapid flapping between states.
type Dispatcher struct {
	sinks       []Notifier
	suppression time.Duration
	mu          sync.Mutex
	lastSent    map[string]time.Time
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering to the given sinks. Pass
// nil logger to use the default logger.
func NewDispatcher(suppression time.Duration, logger *slog.Logger, sinks ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:       sinks,
		suppression: suppression,
		lastSent:    make(map[string]time.Time),
		logger:      logger,
	}
}

// Dispatch delivers an event to every sink unless an identical
// (target, to_status) pair was delivered within the suppression window.
// Delivery is asynchronous; a failing sink is logged and never blocks or
// fails the others.
func (d *Dispatcher) Dispatch(ctx context.Context, ev health.Event) {
	key := ev.TargetID + "|" + string(ev.To)

	d.mu.Lock()
	last, seen := d.lastSent[key]
	if seen && time.Since(last) < d.suppression {
		d.mu.Unlock()
		d.logger.Info("alert suppressed",
			"target", ev.TargetID,
			"to", ev.To,
			"window", d.suppression,
		)
		return
	}
	d.lastSent[key] = time.Now()
	d.mu.Unlock()

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			if err := n.Notify(ctx, ev); err != nil {
				d.logger.Error("alert delivery failed",
					"channel", n.Name(),
					"target", ev.TargetID,
					"to", ev.To,
					"error", err,
				)
			}
		}(sink)
	}
}

// Wait blocks until all in-flight deliveries finish. Used during shutdown
// and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
