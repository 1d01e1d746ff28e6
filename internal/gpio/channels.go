package gpio

import (
	"fmt"
	"time"

	"github.com/sweeney/shot-sensor/internal/instrument"
)

// ChannelDevice serves channel_state<k> from line k of a Reader.
// Any other attribute is reported as unknown so that a ChannelDevice can be
// stacked over the timer proxy.
type ChannelDevice struct {
	name   string
	reader Reader
	lines  int
	now    func() time.Time
}

// NewChannelDevice wraps reader as an instrument.Device serving channels
// 0..lines-1.
func NewChannelDevice(name string, reader Reader, lines int) *ChannelDevice {
	return &ChannelDevice{name: name, reader: reader, lines: lines, now: time.Now}
}

// Name returns the device name.
func (d *ChannelDevice) Name() string {
	return d.name
}

// Read samples the lines and returns the level of the one mapped to attr.
// Use Sample to read several channels from the same instant.
func (d *ChannelDevice) Read(attr string) (instrument.Reading, error) {
	if _, err := d.channel(attr); err != nil {
		return instrument.Reading{}, err
	}
	return d.Sample().Read(attr)
}

// Sample reads every line once and returns a device serving the channels
// from that read.
func (d *ChannelDevice) Sample() instrument.Device {
	values, err := d.reader.Read()
	return &lineSample{dev: d, values: values, err: err, at: d.now()}
}

// Close releases the underlying reader.
func (d *ChannelDevice) Close() error {
	return d.reader.Close()
}

// channel maps attr to a wired line index.
func (d *ChannelDevice) channel(attr string) (int, error) {
	k, ok := instrument.ParseChannelState(attr)
	if !ok || k >= d.lines {
		return 0, fmt.Errorf("%s/%s: %w", d.name, attr, instrument.ErrUnknownAttribute)
	}
	return k, nil
}

// lineSample is one read of the lines.
type lineSample struct {
	dev    *ChannelDevice
	values []bool
	err    error
	at     time.Time
}

func (s *lineSample) Name() string {
	return s.dev.name
}

func (s *lineSample) Read(attr string) (instrument.Reading, error) {
	k, err := s.dev.channel(attr)
	if err != nil {
		return instrument.Reading{}, err
	}
	if s.err != nil {
		return instrument.Reading{}, fmt.Errorf("%s/%s: %w: %v", s.dev.name, attr, instrument.ErrUnavailable, s.err)
	}
	if k >= len(s.values) {
		return instrument.Reading{}, fmt.Errorf("%s/%s: %w: short read of %d lines", s.dev.name, attr,
			instrument.ErrUnavailable, len(s.values))
	}

	r := instrument.Reading{
		Name:    attr,
		Time:    s.at,
		Quality: instrument.QualityValid,
	}
	if s.values[k] {
		r.Value = 1
	}
	return r, nil
}
