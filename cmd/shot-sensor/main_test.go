package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/shot-sensor/internal/config"
	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/gpio"
	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
	"github.com/sweeney/shot-sensor/internal/mqtt"
	"github.com/sweeney/shot-sensor/internal/poller"
	"github.com/sweeney/shot-sensor/internal/status"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("shot-sensor", flag.ContinueOnError)
	fs.Duration("poll", poller.DefaultInterval, "")
	fs.String("broker", "", "")
	fs.Duration("heartbeat", 15*time.Minute, "")
	fs.String("http", "", "")
	fs.String("log-level", "", "")
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig("", fs)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	def := config.Default()
	if cfg.PollInterval != def.PollInterval || cfg.HTTP != def.HTTP || cfg.MQTT.Broker != def.MQTT.Broker {
		t.Errorf("unset flags should not override defaults: %+v", cfg)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot-sensor.yaml")
	data := "poll_interval: 1s\nhttp: \":9000\"\nmqtt:\n  broker: tcp://file:1883\ndevices:\n  - name: a\n    log_level: error\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := newFlagSet()
	if err := fs.Parse([]string{"-poll", "50ms", "-broker", "tcp://flag:1883", "-log-level", "debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, fs)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval: got %v, want 50ms", cfg.PollInterval)
	}
	if cfg.MQTT.Broker != "tcp://flag:1883" {
		t.Errorf("Broker: got %q", cfg.MQTT.Broker)
	}
	if cfg.HTTP != ":9000" {
		t.Errorf("HTTP: file value should survive, got %q", cfg.HTTP)
	}
	if cfg.Devices[0].LogLevel != "debug" {
		t.Errorf("device log level: got %q, want debug", cfg.Devices[0].LogLevel)
	}
}

func TestLoadConfigInvalidFlag(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse([]string{"-log-level", "loud"}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig("", fs); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func newBuilder(t *testing.T, cfg *config.Config, sub instrument.Subscriber) *builder {
	t.Helper()
	return &builder{
		cfg: cfg,
		sub: sub,
		openGPIO: func(chip string, lines []int, activeLow bool) (gpio.Reader, error) {
			return nil, errors.New("no gpio in tests")
		},
		logOutput: io.Discard,
		proxies:   make(map[string]instrument.Device),
	}
}

func TestBuilderSharesInstrumentProxies(t *testing.T) {
	cfg, err := config.Parse([]byte("devices:\n  - name: a\n  - name: b\n"))
	if err != nil {
		t.Fatal(err)
	}
	pub := mqtt.NewFakePublisher()
	b := newBuilder(t, cfg, pub)

	devices := b.buildAll(discardLogger())
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Timer() != devices[1].Timer() {
		t.Error("devices with the same timer should share one proxy")
	}
	if len(b.proxies) != 2 {
		t.Errorf("expected timer and adc proxies, got %d", len(b.proxies))
	}

	pub.Deliver(cfg.MQTT.InstrumentPrefix+"/"+instrument.DefaultTimerName+"/Period", []byte("10"))
	for _, d := range devices {
		r, err := d.Timer().Read(instrument.AttrPeriod)
		if err != nil || r.Value != 10 {
			t.Errorf("%s: Period got %v, %v", d.Name(), r.Value, err)
		}
	}
}

func TestBuilderExcludesUnavailableDevices(t *testing.T) {
	cfg, err := config.Parse([]byte("devices:\n  - name: good\n  - name: wired\n    gpio:\n      lines: [1]\n"))
	if err != nil {
		t.Fatal(err)
	}
	b := newBuilder(t, cfg, mqtt.NewFakePublisher())

	devices := b.buildAll(discardLogger())
	if len(devices) != 1 || devices[0].Name() != "good" {
		t.Fatalf("expected only the good device, got %d", len(devices))
	}

	_, err = b.build(cfg.Devices[1])
	if !errors.Is(err, device.ErrCollaboratorUnavailable) {
		t.Errorf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestBuilderSubscribeFailure(t *testing.T) {
	cfg := config.Default()
	pub := mqtt.NewFakePublisher()
	pub.SubscribeError = errors.New("not authorised")
	b := newBuilder(t, cfg, pub)

	_, err := b.build(cfg.Devices[0])
	if !errors.Is(err, device.ErrCollaboratorUnavailable) {
		t.Errorf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestBuilderWithoutTransportNeedsStaticOrGPIO(t *testing.T) {
	cfg := config.Default()
	b := newBuilder(t, cfg, nil)

	_, err := b.build(cfg.Devices[0])
	if !errors.Is(err, device.ErrCollaboratorUnavailable) {
		t.Errorf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestBuilderStaticAndGPIOLayers(t *testing.T) {
	data := `
devices:
  - name: bench
    timer_static:
      Start_mode: 0
    adc_static:
      Elapsed: 0
    gpio:
      lines: [17, 27]
`
	cfg, err := config.Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	reader := gpio.NewFakeReader([]bool{false, true})
	b := newBuilder(t, cfg, nil)
	b.openGPIO = func(chip string, lines []int, activeLow bool) (gpio.Reader, error) {
		if chip != gpio.DefaultChip || len(lines) != 2 {
			t.Errorf("openGPIO(%q, %v)", chip, lines)
		}
		return reader, nil
	}

	d, err := b.build(cfg.Devices[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	mode, err := d.Timer().Read(instrument.AttrStartMode)
	if err != nil || mode.Value != 0 {
		t.Errorf("Start_mode: got %v, %v", mode.Value, err)
	}
	ch1, err := d.Timer().Read(instrument.ChannelState(1))
	if err != nil || ch1.Value != 1 {
		t.Errorf("channel_state1: got %v, %v", ch1.Value, err)
	}
	if _, err := d.Timer().Read(instrument.ChannelState(5)); err == nil {
		t.Error("channel_state5: expected error for unmapped line")
	}

	b.close()
	if !reader.Closed {
		t.Error("gpio reader should be closed")
	}
}

func TestBuilderGPIOHidesMirroredChannels(t *testing.T) {
	cfg, err := config.Parse([]byte("devices:\n  - name: wired\n    gpio:\n      lines: [17]\n"))
	if err != nil {
		t.Fatal(err)
	}
	pub := mqtt.NewFakePublisher()
	b := newBuilder(t, cfg, pub)
	b.openGPIO = func(chip string, lines []int, activeLow bool) (gpio.Reader, error) {
		return gpio.NewFakeReader([]bool{true}), nil
	}

	d, err := b.build(cfg.Devices[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pub.Deliver(cfg.MQTT.InstrumentPrefix+"/"+instrument.DefaultTimerName+"/"+instrument.ChannelState(2), []byte("true"))

	r, err := d.Timer().Read(instrument.ChannelState(0))
	if err != nil || r.Value != 1 {
		t.Errorf("channel_state0: got %v, %v", r.Value, err)
	}
	if _, err := d.Timer().Read(instrument.ChannelState(2)); !errors.Is(err, instrument.ErrUnknownAttribute) {
		t.Errorf("channel_state2: expected ErrUnknownAttribute, got %v", err)
	}
}

// TestMirroredInstrumentsEndToEnd drives a device built from mirrored
// instruments through the poller and checks the published shot.
func TestMirroredInstrumentsEndToEnd(t *testing.T) {
	cfg, err := config.Parse([]byte("mqtt:\n  instrument_prefix: lab\n  max_age: 0s\n"))
	if err != nil {
		t.Fatal(err)
	}
	pub := mqtt.NewFakePublisher()
	b := newBuilder(t, cfg, pub)
	devices := b.buildAll(discardLogger())
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}

	timer := "lab/" + instrument.DefaultTimerName + "/"
	adc := "lab/" + instrument.DefaultADCName + "/"
	pub.Deliver(timer+instrument.AttrStartMode, []byte("1"))
	pub.Deliver(timer+instrument.AttrPeriod, []byte("10"))
	pub.Deliver(adc+instrument.AttrShotID, []byte(`{"value": 41, "quality": "VALID"}`))

	clock := []float64{2000, 2010.5}
	var i int
	loop := poller.New(poller.Config{
		Publisher: pub,
		Logger:    discardLogger(),
		Now: func() time.Time {
			now := logic.FromSeconds(clock[i])
			i++
			return now
		},
	}, devices)

	pub.Deliver(adc+instrument.AttrElapsed, []byte("0"))
	loop.Tick()
	pub.Deliver(adc+instrument.AttrElapsed, []byte("0.5"))
	loop.Tick()

	d := devices[0]
	if d.ShotCount() != 1 {
		t.Fatalf("ShotCount: got %d, want 1", d.ShotCount())
	}
	if d.LastShotTime() != 2010 {
		t.Errorf("LastShotTime: got %v, want 2010", d.LastShotTime())
	}
	if d.ExpectedNextShot() != 2020 {
		t.Errorf("ExpectedNextShot: got %v, want 2020", d.ExpectedNextShot())
	}
	if d.ShotID() != 41 {
		t.Errorf("ShotID: got %d, want 41", d.ShotID())
	}
	if len(pub.Shots) != 1 || pub.Shots[0].Device != config.DefaultDeviceName {
		t.Errorf("published shots: got %+v", pub.Shots)
	}
}

func TestPrintDeviceState(t *testing.T) {
	timer := instrument.NewFakeDevice("t")
	timer.Set(instrument.AttrStartMode, 0)
	timer.SetBool(instrument.ChannelState(3), true)
	adc := instrument.NewFakeDevice("a")
	adc.Set(instrument.AttrElapsed, 2.5)
	d, err := device.New(device.Config{Name: "dev", Type: "kind", LogOutput: io.Discard}, timer, adc)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printDeviceState(&buf, []*device.Device{d})
	out := buf.String()

	for _, want := range []string{
		"dev (kind)",
		"timer t:",
		"Start_mode: 0 (VALID)",
		"channel_state3: 1 (VALID)",
		"adc a:",
		"Elapsed: 2.5 (VALID)",
		"Period: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func newTestDaemon(t *testing.T, pub *mqtt.FakePublisher) (*daemon, *bool) {
	t.Helper()
	d, err := device.New(device.Config{Name: "dev", LogOutput: io.Discard},
		instrument.NewFakeDevice("t"), instrument.NewFakeDevice("a"))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := status.NewTracker(start, status.Config{Broker: "tcp://b:1883"}, []*device.Device{d})
	stopped := false
	return &daemon{
		publisher:  pub,
		mqttStatus: pub,
		tracker:    tracker,
		polls:      func() uint64 { return 7 },
		stop:       func() { stopped = true },
		now:        func() time.Time { return start.Add(time.Minute) },
		log:        discardLogger(),
	}, &stopped
}

func TestRunLoopShutdown(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	} {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			d, stopped := newTestDaemon(t, pub)

			sig := make(chan os.Signal, 1)
			sig <- tt.sig
			if err := d.runLoop(nil, nil, sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if !*stopped {
				t.Error("poller should be stopped before the shutdown event")
			}
			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			se := pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" || se.Reason != tt.want || !se.Retained {
				t.Errorf("unexpected shutdown event: %+v", se)
			}
			if !strings.Contains(string(pub.SystemPayloads[0]), `"reason":"`+tt.want+`"`) {
				t.Errorf("payload missing reason: %s", pub.SystemPayloads[0])
			}
		})
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	d, _ := newTestDaemon(t, pub)

	heartbeat := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(nil, heartbeat, sig)
	}()

	heartbeat <- time.Time{}
	heartbeat <- time.Time{}
	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 3 {
		t.Fatalf("expected 2 heartbeats and a shutdown, got %d events", len(pub.SystemEvents))
	}
	for i := 0; i < 2; i++ {
		if pub.SystemEvents[i].Event != "HEARTBEAT" {
			t.Errorf("event %d: got %q, want HEARTBEAT", i, pub.SystemEvents[i].Event)
		}
		if pub.SystemEvents[i].Retained {
			t.Errorf("event %d: heartbeat should not be retained", i)
		}
	}
	payload := string(pub.SystemPayloads[0])
	for _, want := range []string{`"event":"HEARTBEAT"`, `"polls":7`, `"connected":true`, `"name":"dev"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("heartbeat payload missing %s: %s", want, payload)
		}
	}
}

func TestRunLoopRefresh(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	d, _ := newTestDaemon(t, pub)

	refresh := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(refresh, nil, sig)
	}()

	refresh <- time.Time{}
	// The unbuffered send returns once runLoop has received the tick; a second
	// send guarantees the first refresh completed.
	refresh <- time.Time{}

	snap := d.tracker.Snapshot()
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected after refresh")
	}
	if snap.Polls != 7 {
		t.Errorf("Polls: got %d, want 7", snap.Polls)
	}

	sig <- syscall.SIGINT
	<-errCh
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")
	d, _ := newTestDaemon(t, pub)

	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM
	if err := d.runLoop(nil, nil, sig); err != nil {
		t.Errorf("publish failure should not fail shutdown: %v", err)
	}
}

func TestStack(t *testing.T) {
	if stack("x", nil) != nil {
		t.Error("no layers should give nil")
	}
	one := instrument.NewFakeDevice("one")
	if stack("x", []instrument.Device{one}) != one {
		t.Error("single layer should be returned as is")
	}
	if _, ok := stack("x", []instrument.Device{one, one}).(*instrument.Stack); !ok {
		t.Error("several layers should be stacked")
	}
}
