package web

import (
	"encoding/json"
	"math"

	"github.com/sweeney/shot-sensor/internal/device"
)

// Attribute names served under /devices/<name>/.
const (
	AttrLastShotTime     = "last_shot_time"
	AttrShotHistory      = "shot_history"
	AttrExpectedNextShot = "expected_next_shot"
	AttrShotCount        = "shot_count"
	AttrShotID           = "shot_id"
	AttrLogLevel         = "log_level"
)

// AttributeJSON is the JSON representation of a single attribute read.
type AttributeJSON struct {
	Device string `json:"device"`
	Name   string `json:"name"`
	Value  any    `json:"value"`
}

// nullable maps NaN to nil so it encodes as JSON null.
func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func formatAttribute(d *device.Device, attr string) ([]byte, bool) {
	var value any
	switch attr {
	case AttrLastShotTime:
		value = nullable(d.LastShotTime())
	case AttrExpectedNextShot:
		value = nullable(d.ExpectedNextShot())
	case AttrShotHistory:
		value = d.ShotHistory()
	case AttrShotCount:
		value = d.ShotCount()
	case AttrShotID:
		value = d.ShotID()
	default:
		return nil, false
	}
	data, _ := json.Marshal(AttributeJSON{Device: d.Name(), Name: attr, Value: value})
	return data, true
}

func formatLogLevel(d *device.Device) []byte {
	data, _ := json.Marshal(AttributeJSON{Device: d.Name(), Name: AttrLogLevel, Value: d.LogLevel().String()})
	return data
}
