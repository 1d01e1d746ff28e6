// Package device holds the shot state of one monitored device and serves
// its attributes to concurrent readers.
//
// The state is replaced whole under the device's lock by the poller and
// copied out under the same lock by readers, so a reader sees either the
// state before a polling cycle or the state after it. No collaborator I/O
// ever happens while the lock is held.
package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
)

// DefaultHistoryLimit is the number of history entries returned by ShotHistory.
const DefaultHistoryLimit = 1024

// ErrCollaboratorUnavailable is returned by New when the timer or ADC is missing.
var ErrCollaboratorUnavailable = errors.New("device: collaborator unavailable")

// Config configures a Device.
type Config struct {
	Name         string
	Type         string // free-form description
	HistoryLimit int
	LogLevel     slog.Level
	LogOutput    io.Writer // defaults to os.Stderr
}

// Device is one monitored device: its two collaborators and its shot state.
type Device struct {
	name         string
	typ          string
	timer        instrument.Device
	adc          instrument.Device
	historyLimit int
	level        *slog.LevelVar
	log          *slog.Logger

	mu          sync.RWMutex
	state       logic.State
	shotID      int64
	lastPoll    time.Time
	lastOutcome logic.Outcome
}

// New creates a Device polling timer and adc.
func New(cfg Config, timer, adc instrument.Device) (*Device, error) {
	if timer == nil {
		return nil, fmt.Errorf("%s: timer: %w", cfg.Name, ErrCollaboratorUnavailable)
	}
	if adc == nil {
		return nil, fmt.Errorf("%s: adc: %w", cfg.Name, ErrCollaboratorUnavailable)
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}

	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})).
		With("device", cfg.Name)

	return &Device{
		name:         cfg.Name,
		typ:          cfg.Type,
		timer:        timer,
		adc:          adc,
		historyLimit: limit,
		level:        level,
		log:          logger,
		shotID:       -1,
	}, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Type returns the device description.
func (d *Device) Type() string { return d.typ }

// Timer returns the timer collaborator, nil if none is attached.
func (d *Device) Timer() instrument.Device { return d.timer }

// ADC returns the ADC collaborator, nil if none is attached.
func (d *Device) ADC() instrument.Device { return d.adc }

// Logger returns the device's logger.
func (d *Device) Logger() *slog.Logger {
	if d.log == nil {
		return slog.Default()
	}
	return d.log
}

// SetLogLevel changes the device's log verbosity. Shot state is not affected.
func (d *Device) SetLogLevel(level slog.Level) {
	if d.level == nil {
		return
	}
	d.level.Set(level)
	d.Logger().Info("log level set", "level", level)
}

// LogLevel returns the current log verbosity.
func (d *Device) LogLevel() slog.Level {
	if d.level == nil {
		return slog.LevelInfo
	}
	return d.level.Level()
}

// State returns the current shot state. The returned history must not be
// modified.
func (d *Device) State() logic.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Commit replaces the shot state with the result of a polling cycle.
// Called only from the poller.
func (d *Device) Commit(s logic.State, outcome logic.Outcome, at time.Time) {
	d.mu.Lock()
	d.state = s
	d.lastOutcome = outcome
	d.lastPoll = at
	d.mu.Unlock()
}

// SetShotID records the ADC's latest shot identifier.
func (d *Device) SetShotID(id int64) {
	d.mu.Lock()
	d.shotID = id
	d.mu.Unlock()
}

// LastShotTime returns the Unix time of the last shot in seconds, NaN if none.
func (d *Device) LastShotTime() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return logic.Seconds(d.state.LastShot)
}

// ExpectedNextShot returns the predicted Unix time of the next periodic shot
// in seconds, NaN if unknown.
func (d *Device) ExpectedNextShot() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return logic.Seconds(d.state.ExpectedNext)
}

// ShotHistory returns the most recent shot times in Unix seconds, oldest
// first, bounded by the history limit.
func (d *Device) ShotHistory() []float64 {
	d.mu.RLock()
	h := d.recent()
	d.mu.RUnlock()

	out := make([]float64, len(h))
	for i, t := range h {
		out[i] = logic.Seconds(t)
	}
	return out
}

// ShotCount returns the total number of shots detected.
func (d *Device) ShotCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.state.History)
}

// ShotID returns the ADC's shot identifier, -1 if never read.
func (d *Device) ShotID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shotID
}

// recent returns the tail of the history. Caller must hold d.mu.
func (d *Device) recent() []time.Time {
	h := d.state.History
	limit := d.historyLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}

// Snapshot is a point-in-time view of a device.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Name         string
	Type         string
	Timer        string
	ADC          string
	LastShot     time.Time
	History      []time.Time
	ExpectedNext time.Time
	Armed        bool
	ShotCount    int
	ShotID       int64
	LastPoll     time.Time
	LastOutcome  logic.Outcome
	LogLevel     slog.Level
}

// Snapshot returns a consistent copy of the device state.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	h := d.recent()
	s := Snapshot{
		Name:         d.name,
		Type:         d.typ,
		LastShot:     d.state.LastShot,
		History:      make([]time.Time, len(h)),
		ExpectedNext: d.state.ExpectedNext,
		Armed:        d.state.Armed,
		ShotCount:    len(d.state.History),
		ShotID:       d.shotID,
		LastPoll:     d.lastPoll,
		LastOutcome:  d.lastOutcome,
	}
	copy(s.History, h)
	d.mu.RUnlock()

	if d.timer != nil {
		s.Timer = d.timer.Name()
	}
	if d.adc != nil {
		s.ADC = d.adc.Name()
	}
	s.LogLevel = d.LogLevel()
	return s
}

// LastShotSeconds returns the snapshot's last shot time in Unix seconds, NaN if none.
func (s Snapshot) LastShotSeconds() float64 {
	return logic.Seconds(s.LastShot)
}

// ExpectedNextSeconds returns the snapshot's next-shot estimate in Unix seconds, NaN if unknown.
func (s Snapshot) ExpectedNextSeconds() float64 {
	return logic.Seconds(s.ExpectedNext)
}

// Remaining returns the time until the expected next shot, NaN if unknown.
func (s Snapshot) Remaining(now time.Time) float64 {
	if s.ExpectedNext.IsZero() {
		return math.NaN()
	}
	return s.ExpectedNext.Sub(now).Seconds()
}
