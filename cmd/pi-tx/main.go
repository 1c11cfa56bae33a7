// Package main implements the entry point for the pi-tx application.
// pi-tx turns a Linux box into an RC transmitter: it ingests gamepad
// samples over UDP, runs them through a per-model channel pipeline and
// streams MULTI-module frames onto a serial port.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/filimon-danopoulos/pi-tx/config"
	"github.com/filimon-danopoulos/pi-tx/input/gamepad"
	"github.com/filimon-danopoulos/pi-tx/input/udp"
	"github.com/filimon-danopoulos/pi-tx/metric"
	"github.com/filimon-danopoulos/pi-tx/model"
	"github.com/filimon-danopoulos/pi-tx/modelstore"
	"github.com/filimon-danopoulos/pi-tx/natsclient"
	"github.com/filimon-danopoulos/pi-tx/output/natspub"
	"github.com/filimon-danopoulos/pi-tx/output/recorder"
	wsout "github.com/filimon-danopoulos/pi-tx/output/websocket"
	"github.com/filimon-danopoulos/pi-tx/session"
	"github.com/filimon-danopoulos/pi-tx/transmitter"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "pi-tx"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	slog.Info("Starting pi-tx",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	registry := metric.NewMetricsRegistry()
	metricsServer := startMetricsServer(cfg, registry)

	natsClient, publisher, err := setupTelemetry(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer func() { _ = natsClient.Close(ctx) }()
	}

	models := modelstore.New(modelstore.Deps{
		Dir:    cfg.Models.Dir,
		Logger: logger.With("component", "modelstore"),
	})

	sess := session.New(session.Deps{
		Logger:          logger.With("component", "session"),
		MetricsRegistry: registry,
	})

	wsOutput, err := setupWebSocket(cfg, logger, registry, sess)
	if err != nil {
		return err
	}
	if publisher != nil {
		sess.Attach(publisher)
	}

	flightLog, err := setupRecorder(cfg, logger, registry, sess)
	if err != nil {
		return err
	}

	txm, err := setupTransmitter(cfg, logger, registry, sess)
	if err != nil {
		return err
	}
	sess.Attach(&modelSync{tx: txm, core: registry.CoreMetrics()})

	udpInput, err := setupInput(cfg, logger, registry, sess)
	if err != nil {
		return err
	}

	if err := activateDefaultModel(cfg, models, sess); err != nil {
		return err
	}

	return runWithSignalHandling(ctx, cliCfg.ShutdownTimeout, &components{
		websocket:     wsOutput,
		recorder:      flightLog,
		transmitter:   txm,
		input:         udpInput,
		metricsServer: metricsServer,
	})
}

// initializeCLI parses and validates flags
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

func printHelp() {
	printDetailedHelp()
}

// initializeConfiguration loads the layered configuration and applies
// CLI logging overrides on top.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	return cfg, nil
}

// startMetricsServer launches the Prometheus endpoint when enabled.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	slog.Info("Metrics endpoint enabled", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	return server
}

// setupTelemetry creates the NATS client and publisher when enabled. A
// broker that is down at boot is not fatal, the client reconnects in the
// background and the publisher drops updates until it does.
func setupTelemetry(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, *natspub.Publisher, error) {
	if !cfg.NATS.Enabled {
		return nil, nil, nil
	}

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithLogger(logger.With("component", "natsclient")))
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		slog.Warn("NATS unavailable, telemetry updates will be dropped", "url", cfg.NATS.URL, "error", err)
	}

	publisher, err := natspub.New(natspub.Deps{
		Subject:         cfg.NATS.Subject,
		Client:          client,
		Logger:          logger.With("component", "natspub"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	return client, publisher, nil
}

// setupWebSocket creates and attaches the UI broadcast server when enabled.
func setupWebSocket(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	sess *session.Session,
) (*wsout.Output, error) {
	if !cfg.WebSocket.Enabled {
		return nil, nil
	}

	output, err := wsout.New(wsout.Deps{
		Config: wsout.Config{
			Port: cfg.WebSocket.Port,
			Path: cfg.WebSocket.Path,
		},
		Logger:          logger.With("component", "websocket"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create websocket output: %w", err)
	}

	sess.Attach(output)
	return output, nil
}

// setupRecorder creates and attaches the flight log when enabled.
func setupRecorder(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	sess *session.Session,
) (*recorder.Recorder, error) {
	if !cfg.Recorder.Enabled {
		return nil, nil
	}

	recCfg := recorder.DefaultConfig()
	recCfg.Directory = cfg.Recorder.Dir
	if cfg.Recorder.FilePrefix != "" {
		recCfg.FilePrefix = cfg.Recorder.FilePrefix
	}

	flightLog, err := recorder.New(recorder.Deps{
		Config:          recCfg,
		Logger:          logger.With("component", "recorder"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create flight log: %w", err)
	}

	sess.Attach(flightLog)
	return flightLog, nil
}

// setupTransmitter builds the frame streamer. With no serial device
// configured frames go to an in-memory capture port instead.
func setupTransmitter(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	sess *session.Session,
) (*transmitter.Transmitter, error) {
	var port transmitter.Port
	if cfg.Transmitter.Debug() {
		slog.Info("No serial device configured, capturing frames in memory")
		port = transmitter.NewDebugPort(0)
	} else {
		port = transmitter.NewSerialPort(cfg.Transmitter.Device, cfg.Transmitter.Baud)
	}
	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("open transmitter port: %w", err)
	}

	txm, err := transmitter.New(transmitter.Deps{
		Config: transmitter.Config{
			Protocol:     cfg.Transmitter.Protocol,
			SubProtocol:  cfg.Transmitter.SubProtocol,
			ChannelCount: cfg.Transmitter.ChannelCount,
			FrameRate:    cfg.Transmitter.FrameRate,
		},
		Port:            port,
		Source:          sess,
		Logger:          logger.With("component", "transmitter"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create transmitter: %w", err)
	}

	return txm, nil
}

// setupInput builds the UDP capture listener. A missing mapping file is
// not fatal, senders can still deliver pre-normalized samples.
func setupInput(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	sess *session.Session,
) (*udp.Controller, error) {
	var mappings gamepad.MappingSet
	if cfg.Input.Mappings != "" {
		if _, err := os.Stat(cfg.Input.Mappings); err == nil {
			mappings, err = gamepad.Load(cfg.Input.Mappings)
			if err != nil {
				return nil, fmt.Errorf("load device mappings: %w", err)
			}
			slog.Info("Device mappings loaded", "path", cfg.Input.Mappings, "devices", len(mappings))
		} else {
			slog.Warn("Mapping file not found, raw device events will be dropped",
				"path", cfg.Input.Mappings)
		}
	}

	controller, err := udp.New(udp.Deps{
		Config: udp.Config{
			Bind: cfg.Input.Bind,
			Port: cfg.Input.Port,
		},
		Mappings:        mappings,
		Sink:            sess,
		Logger:          logger.With("component", "udp"),
		MetricsRegistry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create UDP input: %w", err)
	}

	return controller, nil
}

// activateDefaultModel loads and activates the configured startup model.
func activateDefaultModel(cfg *config.Config, models *modelstore.Store, sess *session.Session) error {
	if cfg.Models.Default == "" {
		slog.Info("No default model configured, waiting for activation")
		return nil
	}

	m, err := models.Load(cfg.Models.Default)
	if err != nil {
		return fmt.Errorf("load default model %q: %w", cfg.Models.Default, err)
	}
	if err := sess.Activate(m); err != nil {
		return fmt.Errorf("activate default model %q: %w", cfg.Models.Default, err)
	}

	slog.Info("Default model activated",
		"model", m.Name(),
		"channels", m.NumChannels(),
		"rx_num", m.RxNum())
	return nil
}

// components holds everything with a lifecycle, in start order.
type components struct {
	websocket     *wsout.Output
	recorder      *recorder.Recorder
	transmitter   *transmitter.Transmitter
	input         *udp.Controller
	metricsServer *metric.Server
}

// runWithSignalHandling starts the lifecycle components and shuts them
// down in reverse order on SIGINT or SIGTERM.
func runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration, c *components) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if c.websocket != nil {
		if err := c.websocket.Start(signalCtx); err != nil {
			return fmt.Errorf("start websocket output: %w", err)
		}
	}
	if c.recorder != nil {
		if err := c.recorder.Start(signalCtx); err != nil {
			return fmt.Errorf("start flight log: %w", err)
		}
	}
	if err := c.transmitter.Start(signalCtx); err != nil {
		return fmt.Errorf("start transmitter: %w", err)
	}
	if err := c.input.Start(signalCtx); err != nil {
		return fmt.Errorf("start UDP input: %w", err)
	}

	slog.Info("pi-tx started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownComponents(c, shutdownTimeout)

	slog.Info("pi-tx shutdown complete")
	return nil
}

// shutdownComponents stops components in reverse start order. Stop errors
// are logged rather than aborting the remaining shutdowns.
func shutdownComponents(c *components, timeout time.Duration) {
	if err := c.input.Stop(timeout); err != nil {
		slog.Error("stop UDP input", "error", err)
	}
	if err := c.transmitter.Stop(timeout); err != nil {
		slog.Error("stop transmitter", "error", err)
	}
	if c.recorder != nil {
		if err := c.recorder.Stop(timeout); err != nil {
			slog.Error("stop flight log", "error", err)
		}
	}
	if c.websocket != nil {
		if err := c.websocket.Stop(timeout); err != nil {
			slog.Error("stop websocket output", "error", err)
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Stop(); err != nil {
			slog.Error("stop metrics server", "error", err)
		}
	}
}

// modelSync pushes model metadata into the transmitter and core metrics
// whenever the active model switches.
type modelSync struct {
	tx   *transmitter.Transmitter
	core *metric.Metrics
}

func (s *modelSync) Observe([]float64) {}

func (s *modelSync) ModelChanged(m *model.Model) {
	if m == nil {
		return
	}
	s.tx.SetRxNum(m.RxNum())
	s.tx.SetModelID(m.ModelID())
	if s.core != nil {
		s.core.SetActiveModel(m.Name(), m.ModelID())
	}
}
