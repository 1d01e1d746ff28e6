// Package status provides a thread-safe status tracker for the shot-sensor daemon.
// It is read by the HTTP handlers and by the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/shot-sensor/internal/device"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs       int64
	ToleranceMs  int64
	HistoryLimit int
	HeartbeatMs  int64
	Broker       string
	HTTPAddr     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Polls         uint64
	Config        Config
	Devices       []device.Snapshot
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Device returns the snapshot of the named device.
func (s Snapshot) Device(name string) (device.Snapshot, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return device.Snapshot{}, false
}

// Tracker holds daemon-level state behind an RWMutex. Device state lives in
// the devices themselves and is gathered when a snapshot is taken.
type Tracker struct {
	mu            sync.RWMutex
	startTime     time.Time
	cfg           Config
	mqttConnected bool
	polls         uint64
	devices       []*device.Device

	// Now is the clock used for snapshots. Defaults to time.Now.
	Now func() time.Time
}

// NewTracker creates a Tracker with the given start time, config and devices.
func NewTracker(startTime time.Time, cfg Config, devices []*device.Device) *Tracker {
	ds := make([]*device.Device, len(devices))
	copy(ds, devices)
	return &Tracker{
		startTime: startTime,
		cfg:       cfg,
		devices:   ds,
		Now:       time.Now,
	}
}

// Devices returns the registered devices.
func (t *Tracker) Devices() []*device.Device {
	out := make([]*device.Device, len(t.devices))
	copy(out, t.devices)
	return out
}

// Lookup returns the device with the given name.
func (t *Tracker) Lookup(name string) (*device.Device, bool) {
	for _, d := range t.devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// SetPolls records the number of completed poll cycles.
func (t *Tracker) SetPolls(n uint64) {
	t.mu.Lock()
	t.polls = n
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// Each device is snapshotted under its own lock; there is no cross-device
// consistency.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.startTime,
		MQTTConnected: t.mqttConnected,
		Polls:         t.polls,
		Config:        t.cfg,
	}
	t.mu.RUnlock()

	s.Devices = make([]device.Snapshot, 0, len(t.devices))
	for _, d := range t.devices {
		s.Devices = append(s.Devices, d.Snapshot())
	}

	s.Now = t.Clock()
	return s
}

// Clock returns the tracker's current time.
func (t *Tracker) Clock() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}
