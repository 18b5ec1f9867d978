// Command audiotester runs the real-time measurement engine headless: it
// opens the configured device, starts the probe/detector/matcher/decoder
// pipeline, and logs a one-line status summary on each analysis tick. The
// HTTP/WebSocket presentation layer and desktop shell are out of scope
// (spec §1) and are expected to attach to the engine the way this
// command does.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"audiotester/internal/config"
	"audiotester/internal/driver"
	"audiotester/internal/engine"
	"audiotester/internal/stats"
)

const (
	autoStartRetries = 5
	autoStartBackoff = 2 * time.Second
	analyzeInterval  = 100 * time.Millisecond
)

func main() {
	var (
		deviceFlag  = pflag.StringP("device", "d", "", "audio device name (overrides config file and DEVICE env)")
		rateFlag    = pflag.Uint32P("rate", "r", 0, "sample rate (overrides config file and SAMPLE_RATE env)")
		signalCh    = pflag.Int("signal-channel", 0, "1-based signal channel (overrides config)")
		counterCh   = pflag.Int("counter-channel", 0, "1-based counter channel (overrides config)")
		recordDir   = pflag.String("record-dir", "", "directory for raw sample recordings (disabled if empty)")
		listDevices = pflag.Bool("list-devices", false, "list available audio devices and exit")
		help        = pflag.BoolP("help", "h", false, "show usage")
	)
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	d, err := driver.NewPortAudioDriver()
	if err != nil {
		logger.Fatal("initialize audio driver", "err", err)
	}
	defer d.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *listDevices {
		runListDevices(ctx, d, logger)
		return
	}

	settings, err := config.Load()
	if err != nil {
		logger.Warn("load config, using defaults", "err", err)
		settings = config.Default()
	}
	auto := config.LoadAutoStart()

	cfg := resolveConfig(settings, auto, *deviceFlag, *rateFlag, *signalCh, *counterCh)
	cfg.RecordDir = *recordDir
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "err", err)
	}

	store := stats.New()
	eng, err := engine.New(d, cfg, store)
	if err != nil {
		logger.Fatal("construct engine", "err", err)
	}

	if err := startWithRetry(ctx, eng, logger); err != nil {
		logger.Fatal("start engine", "err", err)
	}
	logger.Info("monitoring started", "device", cfg.DeviceName, "sample_rate", cfg.SampleRate,
		"signal_channel", cfg.SignalChannel, "counter_channel", cfg.CounterChannel, "session", store.SessionID)

	runAnalysisLoop(ctx, eng, store, logger)

	if err := eng.Stop(); err != nil {
		logger.Error("stop engine", "err", err)
	}
	logger.Info("monitoring stopped")
}

func resolveConfig(settings config.Settings, auto config.AutoStart, deviceFlag string, rateFlag uint32, signalCh, counterCh int) engine.Config {
	cfg := engine.Config{
		SampleRate:     settings.SampleRate,
		SignalChannel:  settings.ChannelPair[0],
		CounterChannel: settings.ChannelPair[1],
	}
	if settings.Device != nil {
		cfg.DeviceName = *settings.Device
	}
	if auto.Device != "" {
		cfg.DeviceName = auto.Device
	}
	if auto.SampleRate != 0 {
		cfg.SampleRate = auto.SampleRate
	}
	if deviceFlag != "" {
		cfg.DeviceName = deviceFlag
	}
	if rateFlag != 0 {
		cfg.SampleRate = rateFlag
	}
	if signalCh != 0 {
		cfg.SignalChannel = signalCh
	}
	if counterCh != 0 {
		cfg.CounterChannel = counterCh
	}
	return cfg
}

// startWithRetry implements the auto-start device-selection policy from
// §6: up to five attempts with a 2-second backoff between them.
func startWithRetry(ctx context.Context, eng *engine.Engine, logger *log.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= autoStartRetries; attempt++ {
		if err := eng.Start(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			logger.Warn("start attempt failed", "attempt", attempt, "err", err)
		}
		if attempt == autoStartRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(autoStartBackoff):
		}
	}
	return lastErr
}

func runAnalysisLoop(ctx context.Context, eng *engine.Engine, store *stats.Store, logger *log.Logger) {
	ticker := time.NewTicker(analyzeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := eng.Analyze(time.Now())
			if result == nil {
				continue
			}
			if eng.IsStreamInvalidated() {
				logger.Error("stream invalidated, stopping")
				return
			}
			logFields := []any{"lost", result.LostSamples, "counter_dropped", result.CounterDropped}
			if result.Latency != nil {
				logFields = append(logFields, "latency_ms", result.Latency.LatencyMs, "confidence", result.Latency.Confidence)
			}
			if result.SignalLost {
				logFields = append(logFields, "signal_lost", true)
			}
			logger.Info("tick", logFields...)
		}
	}
}

func runListDevices(ctx context.Context, d driver.Driver, logger *log.Logger) {
	devices, err := d.ListDevices(ctx)
	if err != nil {
		logger.Fatal("list devices", "err", err)
	}
	for _, dev := range devices {
		logger.Info("device", "name", dev.Name, "default", dev.IsDefault,
			"in_channels", dev.InputChannels, "out_channels", dev.OutputChannels, "rates", dev.SampleRates)
	}
}
