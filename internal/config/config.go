// Package config loads the shot-sensor daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/gpio"
	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
	"github.com/sweeney/shot-sensor/internal/poller"
)

// DefaultDeviceName is used when the file configures no devices.
const DefaultDeviceName = "binp/nbi/vasya"

// DefaultDeviceType is the descriptive type string of a device.
const DefaultDeviceType = "Hello from Vasya"

// Config is the daemon configuration.
type Config struct {
	PollInterval time.Duration  `yaml:"poll_interval"`
	Tolerance    time.Duration  `yaml:"tolerance"`
	HistoryLimit int            `yaml:"history_limit"`
	Heartbeat    time.Duration  `yaml:"heartbeat"` // 0 disables
	HTTP         string         `yaml:"http"`      // empty disables
	LogLevel     string         `yaml:"log_level"`
	MQTT         MQTTConfig     `yaml:"mqtt"`
	Devices      []DeviceConfig `yaml:"devices"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	// InstrumentPrefix is the topic root instrument attributes are mirrored
	// under: <prefix>/<instrument>/<attribute>.
	InstrumentPrefix string `yaml:"instrument_prefix"`
	// MaxAge bounds how old a mirrored attribute may be; 0 means no limit.
	MaxAge time.Duration `yaml:"max_age"`
	Buffer int           `yaml:"buffer"`
}

// DeviceConfig configures one shot detector.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Timer    string `yaml:"timer"`
	ADC      string `yaml:"adc"`
	LogLevel string `yaml:"log_level"`
	// TimerStatic and ADCStatic pin attributes to fixed values, taking
	// precedence over the mirrored instrument.
	TimerStatic map[string]float64 `yaml:"timer_static"`
	ADCStatic   map[string]float64 `yaml:"adc_static"`
	GPIO        *GPIOConfig        `yaml:"gpio"`
}

// GPIOConfig maps hardware lines onto channel_state0..N.
type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	Lines     []int  `yaml:"lines"`
	ActiveLow bool   `yaml:"active_low"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PollInterval: poller.DefaultInterval,
		Tolerance:    logic.DefaultTolerance,
		HistoryLimit: device.DefaultHistoryLimit,
		Heartbeat:    15 * time.Minute,
		HTTP:         ":8080",
		LogLevel:     "info",
		MQTT: MQTTConfig{
			Broker:           "tcp://127.0.0.1:1883",
			ClientID:         "shot-sensor",
			InstrumentPrefix: "binp/instruments",
			MaxAge:           5 * time.Second,
		},
		Devices: []DeviceConfig{{
			Name:     DefaultDeviceName,
			Type:     DefaultDeviceType,
			Timer:    instrument.DefaultTimerName,
			ADC:      instrument.DefaultADCName,
			LogLevel: "info",
		}},
	}
}

// Load reads path. Keys absent from the file keep their Default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	c.Devices = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if len(c.Devices) == 0 {
		c.Devices = []DeviceConfig{{Name: DefaultDeviceName}}
	}
	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Type == "" {
			dev.Type = DefaultDeviceType
		}
		if dev.Timer == "" {
			dev.Timer = instrument.DefaultTimerName
		}
		if dev.ADC == "" {
			dev.ADC = instrument.DefaultADCName
		}
		if dev.LogLevel == "" {
			dev.LogLevel = c.LogLevel
		}
		if dev.GPIO != nil && dev.GPIO.Chip == "" {
			dev.GPIO.Chip = gpio.DefaultChip
		}
	}
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval))
	}
	if c.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("tolerance must not be negative, got %v", c.Tolerance))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.MQTT.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("mqtt.max_age must not be negative, got %v", c.MQTT.MaxAge))
	}
	if strings.ContainsAny(c.MQTT.InstrumentPrefix, "+#") {
		errs = append(errs, fmt.Errorf("mqtt.instrument_prefix %q must not contain wildcards", c.MQTT.InstrumentPrefix))
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: name is required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
		if strings.HasSuffix(d.Name, ".json") {
			errs = append(errs, fmt.Errorf("devices[%d]: name %q must not end in .json", i, d.Name))
		}
		if _, err := ParseLevel(d.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d] %s: log_level: %w", i, d.Name, err))
		}
		if d.GPIO != nil {
			if len(d.GPIO.Lines) == 0 || len(d.GPIO.Lines) > logic.ChannelCount {
				errs = append(errs, fmt.Errorf("devices[%d] %s: gpio.lines must list 1..%d offsets, got %d",
					i, d.Name, logic.ChannelCount, len(d.GPIO.Lines)))
			}
		}
	}
	return errors.Join(errs...)
}

// ParseLevel parses a level name such as "debug" or "WARN+2".
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, err
	}
	return l, nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
