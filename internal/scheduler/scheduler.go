// Package scheduler drives periodic health checks: one independent,
// cancellable loop per target.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kindredcircl/healthd/internal/probe"
	"github.com/kindredcircl/healthd/internal/registry"
)

// ProberFactory creates a Prober for a given target.
type ProberFactory func(registry.Target) (probe.Prober, error)

// OutcomeSink receives the final outcome of each tick. For a single target
// outcomes arrive strictly in completion order.
type OutcomeSink func(registry.Target, probe.Outcome)

type entry struct {
	target registry.Target
	cancel context.CancelFunc
}

// Scheduler runs each target's check cycle in its own goroutine. A target's
// ticks never overlap: the loop probes, retries, and forwards sequentially,
// and ticker ticks that land while a probe is in flight are dropped.
type Scheduler struct {
	factory      ProberFactory
	retryBackoff time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	baseCtx context.Context
	started bool

	onOutcome OutcomeSink
	wg        sync.WaitGroup
}

// New creates a Scheduler. Pass nil logger to use the default logger.
func New(factory ProberFactory, retryBackoff time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		factory:      factory,
		retryBackoff: retryBackoff,
		logger:       logger,
		entries:      make(map[string]*entry),
	}
}

// SetOnOutcome sets the sink invoked with the final outcome of every tick.
// Must be called before Start.
func (s *Scheduler) SetOnOutcome(fn OutcomeSink) {
	s.onOutcome = fn
}

// Start begins scheduling. Targets added before Start begin checking
// immediately; targets added later start on registration.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx = ctx
	s.started = true
	for _, e := range s.entries {
		s.launch(e)
	}
}

// Add schedules checks for a target. It returns an error if a checker
// cannot be built or the target is already scheduled; the caller treats
// that as a rejected registration.
func (s *Scheduler) Add(t registry.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[t.ID]; exists {
		return fmt.Errorf("target %q already scheduled", t.ID)
	}
	e := &entry{target: t}
	s.entries[t.ID] = e
	if s.started {
		s.launch(e)
	}
	return nil
}

// Remove cancels future ticks for a target immediately. An in-flight probe
// runs to completion (bounded by its timeout) and its result is discarded.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	if e.cancel != nil {
		e.cancel()
	}
}

// Wait blocks until all target loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// launch starts a target's loop. Caller must hold s.mu.
func (s *Scheduler) launch(e *entry) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	e.cancel = cancel

	p, err := s.factory(e.target)
	if err != nil {
		// Should not happen for a validated target; surfaced rather than
		// silently dropping the target from the schedule.
		s.logger.Error("creating prober", "target", e.target.ID, "error", err)
		delete(s.entries, e.target.ID)
		cancel()
		return
	}

	s.wg.Add(1)
	go s.run(ctx, e.target, p)
}

func (s *Scheduler) run(ctx context.Context, t registry.Target, p probe.Prober) {
	defer s.wg.Done()

	// Check immediately on registration.
	s.tick(ctx, t, p)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t, p)
		}
	}
}

// tick runs one check cycle: an initial probe plus up to RetryCount retries
// with a fixed backoff. Only the final outcome of the sequence is forwarded,
// so one transient blip never counts as multiple consecutive failures.
func (s *Scheduler) tick(ctx context.Context, t registry.Target, p probe.Prober) {
	var out probe.Outcome
	for attempt := uint(0); ; attempt++ {
		out = p.Probe(ctx)
		if out.Success || attempt >= t.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryBackoff):
		}
	}

	// Target deregistered while the probe was in flight: discard.
	if ctx.Err() != nil {
		return
	}

	s.logger.Info("probe outcome",
		"target", t.ID,
		"success", out.Success,
		"latency", out.Latency,
		"error_kind", out.ErrorKind,
		"detail", out.Detail,
	)

	if s.onOutcome != nil {
		s.onOutcome(t, out)
	}
}
