// Package config loads the application configuration: defaults, then an
// optional JSON file, then PITX_-prefixed environment overrides, validated
// before anything starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PITX"

// Config is the complete application configuration.
type Config struct {
	Log         LogConfig         `json:"log"`
	Input       InputConfig       `json:"input"`
	Models      ModelsConfig      `json:"models"`
	Transmitter TransmitterConfig `json:"transmitter"`
	WebSocket   WebSocketConfig   `json:"websocket"`
	NATS        NATSConfig        `json:"nats"`
	Metrics     MetricsConfig     `json:"metrics"`
	Recorder    RecorderConfig    `json:"recorder"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// InputConfig controls the UDP capture listener.
type InputConfig struct {
	Bind     string `json:"bind"`
	Port     int    `json:"port"`
	Mappings string `json:"mappings"` // path to the device mapping file
}

// ModelsConfig controls model persistence.
type ModelsConfig struct {
	Dir     string `json:"dir"`
	Default string `json:"default"` // model activated at startup
}

// TransmitterConfig controls the MULTI-serial output.
type TransmitterConfig struct {
	Device       string  `json:"device"` // serial device path; empty = debug port
	Baud         int     `json:"baud"`
	Protocol     byte    `json:"protocol"`
	SubProtocol  byte    `json:"sub_protocol"`
	ChannelCount int     `json:"channel_count"`
	FrameRate    float64 `json:"frame_rate_hz"`
}

// Debug reports whether frames should go to a capture port instead of
// real hardware.
func (c TransmitterConfig) Debug() bool { return c.Device == "" }

// WebSocketConfig controls the UI broadcast server.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// NATSConfig controls telemetry publishing.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// RecorderConfig controls the JSONL flight log.
type RecorderConfig struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir"`
	FilePrefix string `json:"file_prefix"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Input: InputConfig{
			Bind:     "0.0.0.0",
			Port:     14550,
			Mappings: "mappings.json",
		},
		Models: ModelsConfig{Dir: "models"},
		Transmitter: TransmitterConfig{
			Baud:         100000,
			Protocol:     28, // AFHDS2A
			ChannelCount: 10,
			FrameRate:    45.0,
		},
		WebSocket: WebSocketConfig{Enabled: true, Port: 8081, Path: "/ws"},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "pitx.telemetry.channels",
			Name:    "pi-tx",
		},
		Metrics:  MetricsConfig{Enabled: true, Addr: ":9090", Path: "/metrics"},
		Recorder: RecorderConfig{Dir: "logs", FilePrefix: "flight"},
	}
}

// Load builds the configuration from defaults, the optional file at path
// and environment overrides, then validates it. An empty path skips the
// file layer; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, pitxerrors.Wrap(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, pitxerrors.WrapInvalid(err, "config", "Load", "decode config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers PITX_* environment variables over the config.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv(EnvPrefix + "_INPUT_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Input.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_INPUT_MAPPINGS"); val != "" {
		cfg.Input.Mappings = val
	}
	if val := os.Getenv(EnvPrefix + "_MODELS_DIR"); val != "" {
		cfg.Models.Dir = val
	}
	if val := os.Getenv(EnvPrefix + "_MODELS_DEFAULT"); val != "" {
		cfg.Models.Default = val
	}
	if val := os.Getenv(EnvPrefix + "_TX_DEVICE"); val != "" {
		cfg.Transmitter.Device = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_ENABLED"); val != "" {
		cfg.NATS.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "_RECORDER_ENABLED"); val != "" {
		cfg.Recorder.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv(EnvPrefix + "_RECORDER_DIR"); val != "" {
		cfg.Recorder.Dir = val
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if c.Input.Port < 0 || c.Input.Port > 65535 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("input port %d out of range", c.Input.Port))
	}
	if c.Models.Dir == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			"models dir cannot be empty")
	}
	if c.Transmitter.ChannelCount < 1 || c.Transmitter.ChannelCount > 16 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("transmitter channel count %d out of range", c.Transmitter.ChannelCount))
	}
	if c.Transmitter.FrameRate <= 0 {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			"transmitter frame rate must be positive")
	}
	if c.WebSocket.Enabled {
		if c.WebSocket.Port < 1024 || c.WebSocket.Port > 65535 {
			return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("websocket port %d out of range", c.WebSocket.Port))
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("websocket path %q must start with /", c.WebSocket.Path))
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			"NATS enabled without a server URL")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			"metrics enabled without a listen address")
	}
	if c.Recorder.Enabled && c.Recorder.Dir == "" {
		return pitxerrors.WrapInvalid(pitxerrors.ErrInvalidConfig, "config", "Validate",
			"recorder enabled without a log directory")
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return pitxerrors.Wrap(err, "config", "SaveToFile", "encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pitxerrors.Wrap(err, "config", "SaveToFile", "write config file")
	}
	return nil
}
