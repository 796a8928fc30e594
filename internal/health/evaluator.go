package health

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/kindredcircl/healthd/internal/probe"
)

// Evaluator owns the health state of every target. State for a target is
// created lazily on its first probe outcome and retired with the target.
type Evaluator struct {
	mu     sync.Mutex
	states map[string]State
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. Pass nil logger to use the default logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		states: make(map[string]State),
		logger: logger,
	}
}

// Evaluate applies one probe outcome and returns the new state plus an
// alert Event when the transition is alertable. The scheduler guarantees
// outcomes for a single target arrive in completion order, so the
// consecutive-failure counters here are never applied out of sequence.
func (e *Evaluator) Evaluate(out probe.Outcome, failureThreshold uint) (State, *Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[out.TargetID]
	if !ok {
		s = State{TargetID: out.TargetID, Status: StatusUnknown}
	}

	next, ev := Transition(s, out, failureThreshold)
	e.states[out.TargetID] = next

	if ev != nil {
		e.logger.Info("health transition",
			"target", ev.TargetID,
			"from", ev.From,
			"to", ev.To,
			"consecutive_failures", ev.ConsecutiveFailures,
		)
	}
	return next, ev
}

// Status returns the current health state for a target. The second return
// is false if the target has no probe outcomes yet.
func (e *Evaluator) Status(targetID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[targetID]
	return s, ok
}

// States returns a snapshot of all tracked states sorted by target ID.
func (e *Evaluator) States() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]State, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Retire drops the state for a deregistered target.
func (e *Evaluator) Retire(targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, targetID)
}
