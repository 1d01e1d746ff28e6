// Package poller runs shot detection for every device at a fixed delay.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
)

// DefaultInterval is the delay between polling passes.
const DefaultInterval = 300 * time.Millisecond

// Publisher receives detected shots.
type Publisher interface {
	// Publish sends a shot event. Errors are logged, never fatal.
	Publish(device string, event logic.Event) error
}

// Config configures a Loop. Zero fields take defaults.
type Config struct {
	Interval  time.Duration
	Detector  *logic.Detector
	Publisher Publisher // optional
	Logger    *slog.Logger

	// Now and After are injectable for tests.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Loop polls an owned list of devices.
type Loop struct {
	devices   []*device.Device
	interval  time.Duration
	detector  *logic.Detector
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time

	ticks atomic.Uint64
}

// New creates a Loop over devices. The slice is copied.
func New(cfg Config, devices []*device.Device) *Loop {
	l := &Loop{
		devices:   append([]*device.Device(nil), devices...),
		interval:  cfg.Interval,
		detector:  cfg.Detector,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
		now:       cfg.Now,
		after:     cfg.After,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.detector == nil {
		l.detector = logic.NewDetector(logic.DefaultTolerance)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.after == nil {
		l.after = time.After
	}
	return l
}

// Devices returns the polled devices.
func (l *Loop) Devices() []*device.Device {
	return append([]*device.Device(nil), l.devices...)
}

// Interval returns the delay between passes.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Ticks returns the number of completed passes.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Run waits Interval, polls every device, and repeats until ctx is done.
// The delay is measured from the end of one pass to the start of the next.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("poller started", "devices", len(l.devices), "interval", l.interval,
		"tolerance", l.detector.Tolerance())
	for {
		select {
		case <-ctx.Done():
			l.log.Info("poller stopped", "ticks", l.Ticks())
			return
		case <-l.after(l.interval):
		}
		l.Tick()
	}
}

// Tick polls every device once, in order.
func (l *Loop) Tick() {
	for _, d := range l.devices {
		l.Poll(d)
	}
	l.ticks.Add(1)
}

// Poll runs one detection cycle for d. Collaborator reads happen before the
// device lock is taken; only the final commit is locked.
func (l *Loop) Poll(d *device.Device) {
	timer, adc := d.Timer(), d.ADC()
	if timer == nil || adc == nil {
		l.log.Debug("device has no collaborators, skipped", "device", d.Name())
		return
	}
	log := d.Logger()

	now := l.now()
	in := logic.Input{Time: now}
	in.Mode = sample(log, timer, instrument.AttrStartMode)

	if in.Mode.OK {
		switch logic.ModeOf(in.Mode.Value) {
		case logic.ModeSingle:
			// one sample of the trigger lines per poll
			lines := instrument.SampleOf(timer)
			in.Channels = make([]logic.Sample, logic.ChannelCount)
			for k := range in.Channels {
				in.Channels[k] = sample(log, lines, instrument.ChannelState(k))
			}
		case logic.ModePeriodic:
			in.Period = sample(log, timer, instrument.AttrPeriod)
			in.Elapsed = sample(log, adc, instrument.AttrElapsed)
		}
	}

	l.readShotID(log, d, adc)

	result := l.detector.Process(d.State(), in)
	d.Commit(result.State, result.Outcome, now)

	switch result.Outcome {
	case logic.OutcomeShot:
		ev := result.Shot
		log.Info("shot detected", "mode", ev.Mode, "time", ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"count", ev.Count)
		if l.publisher != nil {
			if err := l.publisher.Publish(d.Name(), *ev); err != nil {
				log.Warn("shot publish failed", "error", err)
			}
		}
	case logic.OutcomeSeeded:
		log.Debug("next shot predicted", "expected", result.State.ExpectedNext.UTC().Format(time.RFC3339Nano))
	case logic.OutcomeUnknownMode:
		log.Debug("unrecognized start mode", "mode", in.Mode.Value)
	case logic.OutcomeOutOfOrder:
		log.Warn("shot earlier than last recorded shot, ignored")
	}
}

// readShotID mirrors the ADC's Shot_id. The attribute is optional, so a
// missing value is only logged at debug.
func (l *Loop) readShotID(log *slog.Logger, d *device.Device, adc instrument.Device) {
	r, err := adc.Read(instrument.AttrShotID)
	if err != nil {
		if errors.Is(err, instrument.ErrUnknownAttribute) || errors.Is(err, instrument.ErrNoData) {
			log.Debug("shot id not available", "error", err)
		} else {
			log.Warn("read failed", "attr", instrument.AttrShotID, "error", err)
		}
		return
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		log.Warn("non-finite shot id ignored", "value", r.Value)
		return
	}
	d.SetShotID(int64(r.Value))
}

// sample reads attr and converts it for the detector. A failed read becomes
// a missing sample; a non-valid quality is logged but the value is used.
func sample(log *slog.Logger, dev instrument.Device, attr string) logic.Sample {
	r, err := dev.Read(attr)
	if errors.Is(err, instrument.ErrUnknownAttribute) || errors.Is(err, instrument.ErrNoData) {
		log.Debug("attribute not available", "attr", attr, "error", err)
		return logic.Missing
	}
	if err != nil {
		log.Warn("read failed", "attr", attr, "error", err)
		return logic.Missing
	}
	if !r.Valid() {
		log.Warn("non-valid attribute", "attr", attr, "quality", r.Quality)
	}
	return logic.Valid(r.Value)
}
