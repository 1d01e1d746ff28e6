package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
)

func TestDefault(t *testing.T) {
	c := Default()

	if c.PollInterval != 300*time.Millisecond {
		t.Errorf("PollInterval: got %v, want 300ms", c.PollInterval)
	}
	if c.Tolerance != logic.DefaultTolerance {
		t.Errorf("Tolerance: got %v, want %v", c.Tolerance, logic.DefaultTolerance)
	}
	if c.HistoryLimit != 1024 {
		t.Errorf("HistoryLimit: got %d, want 1024", c.HistoryLimit)
	}
	if len(c.Devices) != 1 || c.Devices[0].Name != DefaultDeviceName {
		t.Errorf("Devices: got %+v", c.Devices)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParseEmptyAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(c.Devices) != 1 {
		t.Fatalf("Devices: got %d, want 1", len(c.Devices))
	}
	d := c.Devices[0]
	if d.Timer != instrument.DefaultTimerName {
		t.Errorf("Timer: got %q, want %q", d.Timer, instrument.DefaultTimerName)
	}
	if d.ADC != instrument.DefaultADCName {
		t.Errorf("ADC: got %q, want %q", d.ADC, instrument.DefaultADCName)
	}
	if d.Type != DefaultDeviceType {
		t.Errorf("Type: got %q", d.Type)
	}
	if d.LogLevel != "info" {
		t.Errorf("LogLevel: got %q, want info", d.LogLevel)
	}
	if c.Heartbeat != 15*time.Minute {
		t.Errorf("Heartbeat: got %v, want 15m", c.Heartbeat)
	}
}

func TestParseFull(t *testing.T) {
	data := `
poll_interval: 100ms
tolerance: 500ms
history_limit: 16
heartbeat: 0s
http: ""
log_level: warn
mqtt:
  broker: tcp://broker:1883
  instrument_prefix: lab/instruments
  max_age: 2s
devices:
  - name: binp/nbi/vasya
    type: injector
    timer: binp/nbi/timing2
    log_level: debug
    timer_static:
      Start_mode: 0
    gpio:
      lines: [4, 5, 6]
      active_low: true
  - name: binp/nbi/petya
`
	c, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval: got %v", c.PollInterval)
	}
	if c.Tolerance != 500*time.Millisecond {
		t.Errorf("Tolerance: got %v", c.Tolerance)
	}
	if c.HistoryLimit != 16 {
		t.Errorf("HistoryLimit: got %d", c.HistoryLimit)
	}
	if c.Heartbeat != 0 {
		t.Errorf("Heartbeat: explicit 0 should disable, got %v", c.Heartbeat)
	}
	if c.HTTP != "" {
		t.Errorf("HTTP: explicit empty should disable, got %q", c.HTTP)
	}
	if c.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT.Broker: got %q", c.MQTT.Broker)
	}
	if c.MQTT.ClientID != "shot-sensor" {
		t.Errorf("MQTT.ClientID: default not kept, got %q", c.MQTT.ClientID)
	}
	if c.MQTT.MaxAge != 2*time.Second {
		t.Errorf("MQTT.MaxAge: got %v", c.MQTT.MaxAge)
	}
	if len(c.Devices) != 2 {
		t.Fatalf("Devices: got %d, want 2", len(c.Devices))
	}

	v := c.Devices[0]
	if v.Type != "injector" || v.Timer != "binp/nbi/timing2" || v.ADC != instrument.DefaultADCName {
		t.Errorf("device 0: got %+v", v)
	}
	if v.LogLevel != "debug" {
		t.Errorf("device 0 LogLevel: got %q", v.LogLevel)
	}
	if got, ok := v.TimerStatic[instrument.AttrStartMode]; !ok || got != 0 {
		t.Errorf("device 0 TimerStatic: got %v", v.TimerStatic)
	}
	if v.GPIO == nil || v.GPIO.Chip != "gpiochip0" || !v.GPIO.ActiveLow || len(v.GPIO.Lines) != 3 {
		t.Errorf("device 0 GPIO: got %+v", v.GPIO)
	}

	p := c.Devices[1]
	if p.LogLevel != "warn" {
		t.Errorf("device 1 should inherit log_level, got %q", p.LogLevel)
	}
	if p.GPIO != nil {
		t.Errorf("device 1 GPIO: expected nil, got %+v", p.GPIO)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad yaml", "devices: [", "parse config"},
		{"negative poll", "poll_interval: -1s", "poll_interval"},
		{"negative tolerance", "tolerance: -1s", "tolerance"},
		{"bad log level", "log_level: loud", "log_level"},
		{"wildcard prefix", "mqtt:\n  instrument_prefix: a/+", "instrument_prefix"},
		{"duplicate device", "devices:\n  - name: a\n  - name: a", "duplicate"},
		{"unnamed device", "devices:\n  - type: x", "name is required"},
		{"json suffix", "devices:\n  - name: a.json", ".json"},
		{"too many lines", "devices:\n  - name: a\n    gpio:\n      lines: [0,1,2,3,4,5,6,7,8,9,10,11,12]", "gpio.lines"},
		{"no lines", "devices:\n  - name: a\n    gpio:\n      chip: gpiochip1", "gpio.lines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot-sensor.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: 1s\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PollInterval != time.Second {
		t.Errorf("PollInterval: got %v, want 1s", c.PollInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"warn+2", slog.LevelWarn + 2},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel(""); err == nil {
		t.Error("ParseLevel(\"\"): expected error")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "poll_interval: 300ms") {
		t.Errorf("durations should render as strings:\n%s", data)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.PollInterval != c.PollInterval || back.MQTT.Broker != c.MQTT.Broker {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestParseDefaultDeviceInheritsLogLevel(t *testing.T) {
	c, err := Parse([]byte("log_level: warn\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Devices[0].LogLevel != "warn" {
		t.Errorf("default device LogLevel: got %q, want warn", c.Devices[0].LogLevel)
	}
}

func TestParseZeroToleranceKept(t *testing.T) {
	c, err := Parse([]byte("tolerance: 0s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Tolerance != 0 {
		t.Errorf("Tolerance: explicit 0 should be kept, got %v", c.Tolerance)
	}

	c, err = Parse([]byte("poll_interval: 1s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Tolerance != logic.DefaultTolerance {
		t.Errorf("Tolerance: absent key should keep default, got %v", c.Tolerance)
	}
}
