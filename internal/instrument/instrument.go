// Package instrument provides attribute reads from the timer and ADC
// collaborators. Every read returns an explicit (Reading, error) pair so that
// "no data" is never confused with a false or zero value.
package instrument

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Attribute names.
const (
	AttrStartMode = "Start_mode"
	AttrPeriod    = "Period"
	AttrElapsed   = "Elapsed"
	AttrShotID    = "Shot_id"

	channelStatePrefix = "channel_state"
)

// Default collaborator names.
const (
	DefaultTimerName = "binp/nbi/timing"
	DefaultADCName   = "binp/nbi/adc0"
)

var (
	// ErrNoData means the attribute has no value yet.
	ErrNoData = errors.New("instrument: no data")
	// ErrStale means the last value is older than the configured max age.
	ErrStale = errors.New("instrument: stale value")
	// ErrUnknownAttribute means the device does not serve the attribute.
	ErrUnknownAttribute = errors.New("instrument: unknown attribute")
	// ErrUnavailable means the device cannot be reached at all.
	ErrUnavailable = errors.New("instrument: unavailable")
)

// Quality is the quality flag attached to a reading.
type Quality string

const (
	QualityValid    Quality = "VALID"
	QualityInvalid  Quality = "INVALID"
	QualityAlarm    Quality = "ALARM"
	QualityChanging Quality = "CHANGING"
	QualityWarning  Quality = "WARNING"
)

// Reading is a single attribute value. Booleans are 0 or 1.
type Reading struct {
	Name    string
	Value   float64
	Time    time.Time
	Quality Quality
}

// Valid reports whether the reading carries VALID quality.
func (r Reading) Valid() bool {
	return r.Quality == QualityValid
}

// Bool interprets the value as a boolean.
func (r Reading) Bool() bool {
	return r.Value != 0
}

// Device reads attributes from one collaborator.
type Device interface {
	// Name returns the collaborator's name.
	Name() string

	// Read returns the current value of attr.
	// Returns an error wrapping ErrNoData, ErrStale, ErrUnknownAttribute or
	// ErrUnavailable when no value can be produced.
	Read(attr string) (Reading, error)
}

// Sampler is implemented by devices that take several attributes from one
// hardware read. Sample performs that read and returns a Device serving
// every attribute from it.
type Sampler interface {
	Sample() Device
}

// SampleOf returns a consistent view of dev for one poll: dev.Sample() when
// dev is a Sampler, dev itself otherwise.
func SampleOf(dev Device) Device {
	if s, ok := dev.(Sampler); ok {
		return s.Sample()
	}
	return dev
}

// ChannelState returns the attribute name of channel k.
func ChannelState(k int) string {
	return channelStatePrefix + strconv.Itoa(k)
}

// ParseChannelState returns the channel index named by attr.
func ParseChannelState(attr string) (int, bool) {
	s, ok := strings.CutPrefix(attr, channelStatePrefix)
	if !ok || s == "" {
		return 0, false
	}
	k, err := strconv.Atoi(s)
	if err != nil || k < 0 {
		return 0, false
	}
	return k, true
}

func errAttr(err error, device, attr string) error {
	return fmt.Errorf("%s/%s: %w", device, attr, err)
}
