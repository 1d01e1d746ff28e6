// Package logic contains pure business logic for shot detection.
// This package has NO external dependencies (no instruments, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"math"
	"time"
)

// Mode is the timer's Start_mode.
type Mode int

const (
	ModeSingle   Mode = 0
	ModePeriodic Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "SINGLE"
	case ModePeriodic:
		return "PERIODIC"
	default:
		return "UNKNOWN"
	}
}

// ChannelCount is the number of channel_state lines on the timer.
const ChannelCount = 12

// DefaultTolerance is the periodic-mode commit margin.
const DefaultTolerance = time.Second

// Sample is a single attribute value as seen by the detector.
// OK is false when the attribute could not be read this cycle.
type Sample struct {
	Value float64
	OK    bool
}

// Valid returns a readable sample.
func Valid(v float64) Sample {
	return Sample{Value: v, OK: true}
}

// Missing is an unreadable sample.
var Missing = Sample{}

// Input is one polling cycle's worth of collaborator readings.
type Input struct {
	Time     time.Time
	Mode     Sample   // timer Start_mode
	Channels []Sample // timer channel_state0..11 (single-shot only)
	Period   Sample   // timer Period, seconds (periodic only)
	Elapsed  Sample   // ADC Elapsed, seconds (periodic only)
}

// State is the shot state of one device.
//
// History is append-only and never reordered. LastShot equals the final
// element of History, or is zero when History is empty. ExpectedNext is zero
// when unknown. Armed is only set in single-shot mode.
type State struct {
	LastShot     time.Time
	History      []time.Time
	ExpectedNext time.Time
	Armed        bool
}

// ShotCount returns the number of shots recorded so far.
func (s State) ShotCount() int {
	return len(s.History)
}

// Outcome describes what a cycle did to the state.
type Outcome string

const (
	OutcomeNone        Outcome = "NONE"
	OutcomeShot        Outcome = "SHOT"
	OutcomeSeeded      Outcome = "SEEDED"
	OutcomeSkipped     Outcome = "SKIPPED"      // required readings missing
	OutcomeUnknownMode Outcome = "UNKNOWN_MODE" // Start_mode outside {0,1}
	OutcomeOutOfOrder  Outcome = "OUT_OF_ORDER" // shot earlier than the last one, not recorded
)

// Event is a detected shot.
type Event struct {
	Timestamp time.Time
	Mode      Mode
	Count     int // shots recorded including this one
}

// Result is the outcome of processing one Input.
type Result struct {
	State   State
	Outcome Outcome
	Shot    *Event // nil unless Outcome == OutcomeShot
}

// Seconds converts t to fractional Unix seconds, NaN for the zero time.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return math.NaN()
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds converts fractional Unix seconds to a time. NaN maps to the zero time.
func FromSeconds(s float64) time.Time {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return time.Time{}
	}
	return time.Unix(0, int64(math.Round(s*float64(time.Second))))
}

func duration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func finite(s Sample) bool {
	return s.OK && !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0)
}
