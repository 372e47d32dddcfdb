package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voltscope/constants"
	"voltscope/decimate"
	"voltscope/sampler"
	"voltscope/source"
	"voltscope/stream"
)

// Config represents the complete voltscope configuration
type Config struct {
	Buffer     BufferConfig     `yaml:"buffer"`
	Decimation DecimationConfig `yaml:"decimation"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Stream     StreamConfig     `yaml:"stream"`
	HTTP       HTTPConfig       `yaml:"http"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// BufferConfig sizes the sample ring
type BufferConfig struct {
	Capacity int `yaml:"capacity"` // slots, one always empty
	Reserve  int `yaml:"reserve"`  // newest samples held back from each batch
}

// DecimationConfig contains line-simplification settings
type DecimationConfig struct {
	ToleranceFactor      float64 `yaml:"tolerance_factor"`
	MinVoltageDifference float64 `yaml:"min_voltage_difference"`
	HeartbeatS           float64 `yaml:"heartbeat_s"`
}

// SamplingConfig selects the sample source and pacing
type SamplingConfig struct {
	Source     string       `yaml:"source"` // sawtooth, serial
	IntervalUS int          `yaml:"interval_us"`
	Core       int          `yaml:"core"`     // -1 leaves placement to the OS
	PeriodS    float64      `yaml:"period_s"` // sawtooth period
	Serial     SerialConfig `yaml:"serial"`
}

// SerialConfig contains serial ADC bridge settings
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// StreamConfig contains per-session streaming settings
type StreamConfig struct {
	FrameSamples   int `yaml:"frame_samples"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
	IdlePollMS     int `yaml:"idle_poll_ms"`
	HotWindowMS    int `yaml:"hot_window_ms"`
}

// HTTPConfig contains page server settings
type HTTPConfig struct {
	Addrs []string `yaml:"addrs"`
}

// WebSocketConfig contains stream listener settings
type WebSocketConfig struct {
	Addrs []string `yaml:"addrs"`
	Path  string   `yaml:"path"`
}

// TelemetryConfig contains periodic status report settings
type TelemetryConfig struct {
	IntervalS       float64    `yaml:"interval_s"`
	SQLitePath      string     `yaml:"sqlite_path"` // empty disables history
	HeapSoftLimitMB int        `yaml:"heap_soft_limit_mb"`
	MQTT            MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables publishing
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			Capacity: constants.BufferCapacity,
			Reserve:  constants.BatchReserve,
		},
		Decimation: DecimationConfig{
			ToleranceFactor:      constants.ToleranceFactor,
			MinVoltageDifference: constants.MinVoltageDifference,
			HeartbeatS:           constants.Heartbeat,
		},
		Sampling: SamplingConfig{
			Source:     source.KindSawtooth,
			IntervalUS: int(constants.SampleInterval / time.Microsecond),
			Core:       constants.SamplerCore,
			PeriodS:    constants.SawtoothPeriod,
			Serial:     SerialConfig{Baud: constants.SerialBaud},
		},
		Stream: StreamConfig{
			FrameSamples:   constants.FrameSamples,
			WriteTimeoutMS: int(constants.WriteTimeout / time.Millisecond),
			IdlePollMS:     int(constants.IdlePoll / time.Millisecond),
			HotWindowMS:    int(constants.HotWindow / time.Millisecond),
		},
		HTTP: HTTPConfig{Addrs: []string{constants.HTTPAddr}},
		WebSocket: WebSocketConfig{
			Addrs: []string{constants.WebSocketAddr},
			Path:  constants.WebSocketPath,
		},
		Telemetry: TelemetryConfig{
			IntervalS:       constants.TelemetryInterval.Seconds(),
			HeapSoftLimitMB: constants.HeapSoftLimit >> 20,
			MQTT:            MQTTConfig{Topic: constants.MQTTTopic, ClientID: "voltscope"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Buffer.Capacity < constants.MinBufferCapacity {
		bad("buffer.capacity %d < %d", c.Buffer.Capacity, constants.MinBufferCapacity)
	}
	if c.Buffer.Reserve < 0 || c.Buffer.Reserve >= c.Buffer.Capacity-1 {
		bad("buffer.reserve %d outside [0, capacity-1)", c.Buffer.Reserve)
	}

	if err := c.DecimationParams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Decimation.HeartbeatS <= 0 {
		bad("decimation.heartbeat_s must be > 0")
	}

	if c.Sampling.IntervalUS <= 0 {
		bad("sampling.interval_us must be > 0")
	}
	switch c.Sampling.Source {
	case source.KindSawtooth:
	case source.KindSerial:
		if c.Sampling.Serial.Port == "" {
			bad("sampling.serial.port required for serial source")
		}
		if c.Sampling.Serial.Baud <= 0 {
			bad("sampling.serial.baud must be > 0")
		}
	default:
		bad("sampling.source %q not one of sawtooth, serial", c.Sampling.Source)
	}

	if c.Stream.FrameSamples < 1 || c.Stream.FrameSamples > constants.MaxFrameSamples {
		bad("stream.frame_samples %d outside [1, %d]", c.Stream.FrameSamples, constants.MaxFrameSamples)
	}
	if c.Stream.WriteTimeoutMS <= 0 {
		bad("stream.write_timeout_ms must be > 0")
	}
	if c.Stream.IdlePollMS < 0 || c.Stream.HotWindowMS < 0 {
		bad("stream idle_poll_ms and hot_window_ms must be >= 0")
	}

	if len(c.WebSocket.Addrs) == 0 {
		bad("websocket.addrs must list at least one address")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		bad("websocket.path %q must start with /", c.WebSocket.Path)
	}

	if c.Telemetry.IntervalS <= 0 {
		bad("telemetry.interval_s must be > 0")
	}
	if c.Telemetry.MQTT.Broker != "" && c.Telemetry.MQTT.Topic == "" {
		bad("telemetry.mqtt.topic required when a broker is set")
	}
	if c.Telemetry.MQTT.QoS > 2 {
		bad("telemetry.mqtt.qos %d outside [0, 2]", c.Telemetry.MQTT.QoS)
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format %q not one of text, json", c.Log.Format)
	}

	return errors.Join(errs...)
}

// DecimationParams converts the decimation section
func (c *Config) DecimationParams() decimate.Params {
	return decimate.Params{
		ToleranceFactor:      c.Decimation.ToleranceFactor,
		MinVoltageDifference: c.Decimation.MinVoltageDifference,
		Heartbeat:            c.Decimation.HeartbeatS,
	}
}

// SourceOptions converts the sampling section
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		Kind:   c.Sampling.Source,
		Period: c.Sampling.PeriodS,
		Port:   c.Sampling.Serial.Port,
		Baud:   c.Sampling.Serial.Baud,
	}
}

// SamplerConfig converts the sampling pacing settings
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		Core:     c.Sampling.Core,
		Interval: time.Duration(c.Sampling.IntervalUS) * time.Microsecond,
	}
}

// SessionConfig converts the stream section
func (c *Config) SessionConfig() stream.Config {
	return stream.Config{
		Reserve:        c.Buffer.Reserve,
		FrameSamples:   c.Stream.FrameSamples,
		WriteTimeout:   time.Duration(c.Stream.WriteTimeoutMS) * time.Millisecond,
		IdlePoll:       time.Duration(c.Stream.IdlePollMS) * time.Millisecond,
		MaxClientFrame: constants.MaxClientFrame,
	}
}

// HotWindow is the activity cooldown for control.Flags
func (c *Config) HotWindow() time.Duration {
	return time.Duration(c.Stream.HotWindowMS) * time.Millisecond
}

// TelemetryInterval is the monitor period
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalS * float64(time.Second))
}

// LogLevel parses the log level
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return lvl, nil
}
