// Package health tracks per-target health state and decides when state
// transitions warrant an alert.
package health

import (
	"time"

	"github.com/kindredcircl/healthd/internal/probe"
)

// Status is the health of a target.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// State is the health record for one target. Owned exclusively by the
// Evaluator; probes and the scheduler never mutate it.
type State struct {
	TargetID             string    `json:"target_id"`
	Status               Status    `json:"status"`
	ConsecutiveFailures  uint      `json:"consecutive_failures"`
	ConsecutiveSuccesses uint      `json:"consecutive_successes"`
	LastTransition       time.Time `json:"last_transition"`
}

// Event records a state transition worth alerting on: the edge into
// Unhealthy, and the recovery edge back to Healthy.
type Event struct {
	TargetID            string    `json:"target_id"`
	From                Status    `json:"from_status"`
	To                  Status    `json:"to_status"`
	ConsecutiveFailures uint      `json:"consecutive_failures"`
	Timestamp           time.Time `json:"timestamp"`
}

// Recovery reports whether the event marks a return to Healthy.
func (e Event) Recovery() bool {
	return e.To == StatusHealthy
}

// Transition applies one probe outcome to a state. It is a pure function:
// given the current state, the outcome, and the target's failure threshold,
// it returns the new state and an Event if the transition is alertable.
//
// Alerts are edge-triggered. Exactly one Event fires when consecutive
// failures reach the threshold, and one recovery Event fires on the first
// success after Unhealthy. Repeated failures past the threshold stay
// Unhealthy silently.
func Transition(s State, out probe.Outcome, failureThreshold uint) (State, *Event) {
	prev := s.Status

	if out.Success {
		s.ConsecutiveFailures = 0
		s.ConsecutiveSuccesses++
		s.Status = StatusHealthy
	} else {
		s.ConsecutiveSuccesses = 0
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= failureThreshold {
			s.Status = StatusUnhealthy
		} else {
			s.Status = StatusDegraded
		}
	}

	if s.Status != prev {
		s.LastTransition = out.ProbedAt
	}

	// Edge into Unhealthy: fire exactly when the threshold is crossed.
	if prev != StatusUnhealthy && s.Status == StatusUnhealthy {
		return s, &Event{
			TargetID:            s.TargetID,
			From:                prev,
			To:                  StatusUnhealthy,
			ConsecutiveFailures: s.ConsecutiveFailures,
			Timestamp:           out.ProbedAt,
		}
	}
	// Recovery edge: Unhealthy back to Healthy.
	if prev == StatusUnhealthy && s.Status == StatusHealthy {
		return s, &Event{
			TargetID:            s.TargetID,
			From:                prev,
			To:                  StatusHealthy,
			ConsecutiveFailures: s.ConsecutiveFailures,
			Timestamp:           out.ProbedAt,
		}
	}
	return s, nil
}
