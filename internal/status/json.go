package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Polls         uint64       `json:"polls"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Devices       []DeviceJSON `json:"devices"`
	Config        *ConfigJSON  `json:"config,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DeviceJSON is the JSON representation of a device snapshot. Unknown
// times are null.
type DeviceJSON struct {
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Timer            string    `json:"timer"`
	ADC              string    `json:"adc"`
	LastShotTime     *float64  `json:"last_shot_time"`
	ExpectedNextShot *float64  `json:"expected_next_shot"`
	Remaining        *float64  `json:"remaining"`
	ShotCount        int       `json:"shot_count"`
	ShotID           int64     `json:"shot_id"`
	ShotHistory      []float64 `json:"shot_history"`
	Armed            bool      `json:"armed"`
	LastPoll         string    `json:"last_poll,omitempty"`
	LastOutcome      string    `json:"last_outcome,omitempty"`
	LogLevel         string    `json:"log_level"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs       int64  `json:"poll_ms"`
	ToleranceMs  int64  `json:"tolerance_ms"`
	HistoryLimit int    `json:"history_limit"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
}

// seconds converts t to Unix seconds, nil when t is unset.
func seconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	s := logic.Seconds(t)
	return &s
}

// DeviceToJSON converts a device snapshot. now is used for Remaining.
func DeviceToJSON(d device.Snapshot, now time.Time) DeviceJSON {
	out := DeviceJSON{
		Name:             d.Name,
		Type:             d.Type,
		Timer:            d.Timer,
		ADC:              d.ADC,
		LastShotTime:     seconds(d.LastShot),
		ExpectedNextShot: seconds(d.ExpectedNext),
		ShotCount:        d.ShotCount,
		ShotID:           d.ShotID,
		ShotHistory:      make([]float64, len(d.History)),
		Armed:            d.Armed,
		LastOutcome:      string(d.LastOutcome),
		LogLevel:         d.LogLevel.String(),
	}
	for i, h := range d.History {
		out.ShotHistory[i] = logic.Seconds(h)
	}
	if !d.ExpectedNext.IsZero() {
		r := d.Remaining(now)
		out.Remaining = &r
	}
	if !d.LastPoll.IsZero() {
		out.LastPoll = d.LastPoll.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Polls:         snap.Polls,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Devices:       make([]DeviceJSON, 0, len(snap.Devices)),
	}
	for _, d := range snap.Devices {
		inner.Devices = append(inner.Devices, DeviceToJSON(d, snap.Now))
	}
	return inner
}

func configJSON(cfg Config) *ConfigJSON {
	return &ConfigJSON{
		PollMs:       cfg.PollMs,
		ToleranceMs:  cfg.ToleranceMs,
		HistoryLimit: cfg.HistoryLimit,
		HeartbeatMs:  cfg.HeartbeatMs,
		Broker:       cfg.Broker,
		HTTPAddr:     cfg.HTTPAddr,
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Config = configJSON(snap.Config)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Config is included on STARTUP only.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = configJSON(snap.Config)
	}

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatDevice returns the indented JSON for a single device.
func FormatDevice(d device.Snapshot, now time.Time) []byte {
	data, _ := json.MarshalIndent(DeviceToJSON(d, now), "", "  ")
	return data
}
