// Command shot-sensor polls timer and ADC instruments, detects discharge
// shots, and serves the derived shot attributes over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/shot-sensor/internal/config"
	"github.com/sweeney/shot-sensor/internal/device"
	"github.com/sweeney/shot-sensor/internal/gpio"
	"github.com/sweeney/shot-sensor/internal/instrument"
	"github.com/sweeney/shot-sensor/internal/logic"
	"github.com/sweeney/shot-sensor/internal/mqtt"
	"github.com/sweeney/shot-sensor/internal/poller"
	"github.com/sweeney/shot-sensor/internal/status"
	"github.com/sweeney/shot-sensor/internal/web"
)

// printSettle is how long -print-state waits for mirrored attributes to arrive.
const printSettle = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML config file (empty for built-in defaults)")
	flag.Duration("poll", poller.DefaultInterval, "Polling interval")
	flag.String("broker", "", "MQTT broker address")
	flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.String("http", "", "HTTP status address (empty to disable)")
	flag.String("log-level", "", "Log level: debug, info, warn, error")
	printState := flag.Bool("print-state", false, "Print every device's instrument readings and exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath, flag.CommandLine)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the config file (or defaults) and applies every flag
// that was set explicitly on the command line. -log-level overrides the
// per-device levels too.
func loadConfig(path string, fs *flag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		g, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		switch f.Name {
		case "poll":
			cfg.PollInterval = g.Get().(time.Duration)
		case "broker":
			cfg.MQTT.Broker = g.Get().(string)
		case "heartbeat":
			cfg.Heartbeat = g.Get().(time.Duration)
		case "http":
			cfg.HTTP = g.Get().(string)
		case "log-level":
			cfg.LogLevel = g.Get().(string)
			for i := range cfg.Devices {
				cfg.Devices[i].LogLevel = cfg.LogLevel
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, printState bool) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize MQTT (also the transport for mirrored instruments)
	publisher := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Buffer, logger)
	defer publisher.Close()

	b := &builder{
		cfg:       cfg,
		sub:       publisher,
		openGPIO:  openRealGPIO,
		logOutput: os.Stderr,
		proxies:   make(map[string]instrument.Device),
	}
	devices := b.buildAll(logger)
	defer b.close()
	if len(devices) == 0 {
		return errors.New("no usable devices")
	}

	// Print state mode
	if printState {
		time.Sleep(printSettle)
		printDeviceState(os.Stdout, devices)
		return nil
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg), devices)
	loop := poller.New(poller.Config{
		Interval:  cfg.PollInterval,
		Detector:  logic.NewDetector(cfg.Tolerance),
		Publisher: publisher,
		Logger:    logger,
	}, devices)

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	defer stop()

	logger.Info("started", "devices", len(devices), "poll", cfg.PollInterval,
		"tolerance", cfg.Tolerance, "broker", cfg.MQTT.Broker, "heartbeat", cfg.Heartbeat)

	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		polls:      loop.Ticks,
		stop:       stop,
		now:        time.Now,
		log:        logger,
	}
	return d.runLoop(refresh.C, heartbeat, sigCh)
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		PollMs:       cfg.PollInterval.Milliseconds(),
		ToleranceMs:  cfg.Tolerance.Milliseconds(),
		HistoryLimit: cfg.HistoryLimit,
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP,
	}
}

// daemon ties the running loop to the status tracker and system events.
type daemon struct {
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	polls      func() uint64
	stop       func() // stops the poller and waits for the current pass
	now        func() time.Time
	log        *slog.Logger
}

func (d *daemon) refresh() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.polls != nil {
		d.tracker.SetPolls(d.polls())
	}
}

func (d *daemon) runLoop(refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.log.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if d.stop != nil {
				d.stop()
			}
			d.refresh()
			snap := d.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  d.now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.log.Warn("failed to publish shutdown event", "error", err)
			} else {
				d.log.Info("published shutdown event")
			}
			return nil

		case <-refresh:
			d.refresh()

		case <-heartbeat:
			d.refresh()
			snap := d.tracker.Snapshot()
			shots := 0
			for _, ds := range snap.Devices {
				shots += ds.ShotCount
			}
			d.log.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second),
				"polls", snap.Polls, "shots", shots, "mqtt", snap.MQTTConnected)

			event := mqtt.SystemEvent{
				Timestamp:  d.now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.log.Warn("heartbeat publish error", "error", err)
			}
		}
	}
}

// gpioOpener opens a set of hardware trigger lines.
type gpioOpener func(chip string, lines []int, activeLow bool) (gpio.Reader, error)

func openRealGPIO(chip string, lines []int, activeLow bool) (gpio.Reader, error) {
	return gpio.NewRealReader(chip, lines, activeLow)
}

// builder turns device config entries into devices and their collaborators.
type builder struct {
	cfg       *config.Config
	sub       instrument.Subscriber // nil disables mirrored instruments
	openGPIO  gpioOpener
	logOutput io.Writer

	proxies map[string]instrument.Device // mirrored instruments by name
	closers []io.Closer
}

// buildAll builds every configured device, logging and excluding the ones
// whose collaborators are unavailable.
func (b *builder) buildAll(logger *slog.Logger) []*device.Device {
	var devices []*device.Device
	for _, dc := range b.cfg.Devices {
		d, err := b.build(dc)
		if err != nil {
			logger.Error("device excluded", "device", dc.Name, "error", err)
			continue
		}
		logger.Info("device created", "device", d.Name(), "type", d.Type(),
			"timer", dc.Timer, "adc", dc.ADC, "gpio", dc.GPIO != nil)
		devices = append(devices, d)
	}
	return devices
}

func (b *builder) build(dc config.DeviceConfig) (*device.Device, error) {
	level, err := config.ParseLevel(dc.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var timerLayers []instrument.Device
	if len(dc.TimerStatic) > 0 {
		timerLayers = append(timerLayers, instrument.NewStatic(dc.Timer, dc.TimerStatic))
	}
	if dc.GPIO != nil {
		r, err := b.openGPIO(dc.GPIO.Chip, dc.GPIO.Lines, dc.GPIO.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("%w: gpio %s: %v", device.ErrCollaboratorUnavailable, dc.GPIO.Chip, err)
		}
		ch := gpio.NewChannelDevice(dc.Timer, r, len(dc.GPIO.Lines))
		b.closers = append(b.closers, ch)
		timerLayers = append(timerLayers, ch)
	}
	if p, err := b.proxy(dc.Timer); err != nil {
		return nil, fmt.Errorf("%w: timer: %v", device.ErrCollaboratorUnavailable, err)
	} else if p != nil {
		if dc.GPIO != nil {
			// trigger lines come from GPIO only
			p = instrument.NewFilter(p, instrument.IsChannelState)
		}
		timerLayers = append(timerLayers, p)
	}

	var adcLayers []instrument.Device
	if len(dc.ADCStatic) > 0 {
		adcLayers = append(adcLayers, instrument.NewStatic(dc.ADC, dc.ADCStatic))
	}
	if p, err := b.proxy(dc.ADC); err != nil {
		return nil, fmt.Errorf("%w: adc: %v", device.ErrCollaboratorUnavailable, err)
	} else if p != nil {
		adcLayers = append(adcLayers, p)
	}

	return device.New(device.Config{
		Name:         dc.Name,
		Type:         dc.Type,
		HistoryLimit: b.cfg.HistoryLimit,
		LogLevel:     level,
		LogOutput:    b.logOutput,
	}, stack(dc.Timer, timerLayers), stack(dc.ADC, adcLayers))
}

// proxy returns the shared mirror of the named instrument, creating it on
// first use.
func (b *builder) proxy(name string) (instrument.Device, error) {
	if b.sub == nil {
		return nil, nil
	}
	if p, ok := b.proxies[name]; ok {
		return p, nil
	}
	p, err := instrument.NewMQTTDevice(b.sub, b.cfg.MQTT.InstrumentPrefix, name, b.cfg.MQTT.MaxAge)
	if err != nil {
		return nil, err
	}
	b.proxies[name] = p
	return p, nil
}

func (b *builder) close() {
	for _, c := range b.closers {
		c.Close()
	}
}

// stack returns nil when there are no layers, the layer itself when there
// is one, and a Stack otherwise.
func stack(name string, layers []instrument.Device) instrument.Device {
	switch len(layers) {
	case 0:
		return nil
	case 1:
		return layers[0]
	default:
		return instrument.NewStack(name, layers...)
	}
}

// printDeviceState reads every device's collaborators once.
func printDeviceState(w io.Writer, devices []*device.Device) {
	for _, d := range devices {
		fmt.Fprintf(w, "%s (%s)\n", d.Name(), d.Type())
		printInstrument(w, "timer", instrument.SampleOf(d.Timer()), timerAttributes())
		printInstrument(w, "adc", d.ADC(), []string{instrument.AttrElapsed, instrument.AttrShotID})
	}
}

func timerAttributes() []string {
	attrs := []string{instrument.AttrStartMode, instrument.AttrPeriod}
	for k := 0; k < logic.ChannelCount; k++ {
		attrs = append(attrs, instrument.ChannelState(k))
	}
	return attrs
}

func printInstrument(w io.Writer, role string, dev instrument.Device, attrs []string) {
	fmt.Fprintf(w, "  %s %s:\n", role, dev.Name())
	for _, attr := range attrs {
		r, err := dev.Read(attr)
		if err != nil {
			fmt.Fprintf(w, "    %s: %v\n", attr, err)
			continue
		}
		fmt.Fprintf(w, "    %s: %g (%s)\n", attr, r.Value, r.Quality)
	}
}
