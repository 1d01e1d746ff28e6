package logic

import (
	"math"
	"time"
)

// Detector decides, cycle by cycle, whether a shot has occurred.
// It holds no state of its own: the previous State is passed in and the
// next one returned, so callers can compute outside any lock and swap after.
type Detector struct {
	tolerance time.Duration
}

// NewDetector creates a detector with the given periodic-mode tolerance.
// Zero commits only once a prediction strictly passes the previous one; a
// negative tolerance selects DefaultTolerance.
func NewDetector(tolerance time.Duration) *Detector {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Detector{tolerance: tolerance}
}

// Tolerance returns the periodic-mode commit margin.
func (d *Detector) Tolerance() time.Duration {
	return d.tolerance
}

// Process applies one cycle of input to prev and returns the next state.
// prev is never modified.
func (d *Detector) Process(prev State, in Input) Result {
	if !finite(in.Mode) {
		return Result{State: prev, Outcome: OutcomeSkipped}
	}

	switch ModeOf(in.Mode.Value) {
	case ModeSingle:
		return d.processSingle(prev, in)
	case ModePeriodic:
		return d.processPeriodic(prev, in)
	default:
		return Result{State: prev, Outcome: OutcomeUnknownMode}
	}
}

// processSingle detects rising edges of the OR of all readable channels.
func (d *Detector) processSingle(prev State, in Input) Result {
	trigger := false
	readable := false
	for _, ch := range in.Channels {
		if !finite(ch) {
			continue
		}
		readable = true
		if ch.Value != 0 {
			trigger = true
		}
	}
	if !readable {
		return Result{State: prev, Outcome: OutcomeSkipped}
	}

	next := prev
	next.ExpectedNext = time.Time{}

	if !trigger {
		next.Armed = false
		return Result{State: next, Outcome: OutcomeNone}
	}
	if prev.Armed {
		return Result{State: next, Outcome: OutcomeNone}
	}

	next.Armed = true
	return record(next, in.Time, ModeSingle)
}

// processPeriodic predicts the next shot from Period and Elapsed and commits
// the previous prediction once the new one has moved past it.
func (d *Detector) processPeriodic(prev State, in Input) Result {
	if !finite(in.Period) || !finite(in.Elapsed) {
		return Result{State: prev, Outcome: OutcomeSkipped}
	}

	t := in.Time.Add(duration(in.Period.Value) - duration(in.Elapsed.Value))

	next := prev
	next.Armed = false

	if next.ExpectedNext.IsZero() {
		next.ExpectedNext = t
		return Result{State: next, Outcome: OutcomeSeeded}
	}

	if !t.After(next.ExpectedNext.Add(-d.tolerance)) {
		return Result{State: next, Outcome: OutcomeNone}
	}

	shotAt := next.ExpectedNext
	next.ExpectedNext = t
	return record(next, shotAt, ModePeriodic)
}

// record appends a shot at ts. The history slice is copied so that states
// handed out earlier never observe the append.
func record(s State, ts time.Time, mode Mode) Result {
	if len(s.History) > 0 && ts.Before(s.History[len(s.History)-1]) {
		return Result{State: s, Outcome: OutcomeOutOfOrder}
	}

	history := make([]time.Time, len(s.History), len(s.History)+1)
	copy(history, s.History)
	s.History = append(history, ts)
	s.LastShot = ts

	return Result{
		State:   s,
		Outcome: OutcomeShot,
		Shot: &Event{
			Timestamp: ts,
			Mode:      mode,
			Count:     len(s.History),
		},
	}
}

// ModeOf maps a Start_mode value to a Mode. Non-integral values are unknown.
func ModeOf(v float64) Mode {
	if v != math.Trunc(v) {
		return Mode(-1)
	}
	return Mode(int(v))
}
