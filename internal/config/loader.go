package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvListenAddr     = "LIFELOGGER_LISTEN_ADDR"
	EnvLogLevel       = "LIFELOGGER_LOG_LEVEL"
	EnvBufferDuration = "LIFELOGGER_BUFFER_DURATION"
	EnvCaptureDevice  = "LIFELOGGER_CAPTURE_DEVICE"
	EnvPostgresDSN    = "LIFELOGGER_POSTGRES_DSN"
)

// maxSampleRate is the highest rate any backend supports.
const maxSampleRate = 384000

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides and defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the process
// environment and defaults, and validates the result. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, os.LookupEnv)
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the LIFELOGGER_* variables returned by lookup.
// Malformed values are reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvBufferDuration); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvBufferDuration, err))
		} else {
			cfg.Buffer.Duration = d
		}
	}
	if v, ok := lookup(EnvCaptureDevice); ok {
		cfg.Capture.Device = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Archive.Postgres.DSN = v
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("5m") and bare seconds ("300").
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found. Call it after [ApplyDefaults].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if t := cfg.Server.TLS; t != nil && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Buffer
	if cfg.Buffer.Duration <= 0 {
		errs = append(errs, fmt.Errorf("buffer.duration %s must be positive", cfg.Buffer.Duration))
	}
	if cfg.Buffer.SampleRate == 0 || cfg.Buffer.SampleRate > maxSampleRate {
		errs = append(errs, fmt.Errorf("buffer.sample_rate %d is out of range [1, %d]", cfg.Buffer.SampleRate, maxSampleRate))
	}
	if cfg.Buffer.Duration > 24*time.Hour {
		slog.Warn("buffer.duration is very large; the buffer lives in memory",
			"duration", cfg.Buffer.Duration)
	}

	// Capture
	if cfg.Capture.SampleRate > maxSampleRate {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d exceeds %d", cfg.Capture.SampleRate, maxSampleRate))
	}
	if cfg.Capture.Channels < 1 {
		errs = append(errs, fmt.Errorf("capture.channels %d must be at least 1", cfg.Capture.Channels))
	}
	if cfg.Capture.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_frames %d must not be negative", cfg.Capture.BufferFrames))
	}
	if cfg.Capture.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("capture.queue_size %d must be at least 1", cfg.Capture.QueueSize))
	}

	// Codecs
	names := make(map[string]int, len(cfg.Codecs))
	for i, c := range cfg.Codecs {
		prefix := fmt.Sprintf("codecs[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			key := strings.ToLower(c.Name)
			if prev, ok := names[key]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of codecs[%d]", prefix, c.Name, prev))
			}
			names[key] = i
		}
		if c.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		}
	}

	// Archive
	if a := cfg.Archive; a.Enabled {
		if a.Interval <= 0 {
			errs = append(errs, fmt.Errorf("archive.interval %s must be positive", a.Interval))
		}
		if a.Interval > cfg.Buffer.Duration {
			errs = append(errs, fmt.Errorf("archive.interval %s exceeds buffer.duration %s; audio would be lost between ticks", a.Interval, cfg.Buffer.Duration))
		}
		if _, ok := names[strings.ToLower(a.Format)]; !ok {
			errs = append(errs, fmt.Errorf("archive.format %q does not name a configured codec", a.Format))
		}
		if a.SampleRate > maxSampleRate {
			errs = append(errs, fmt.Errorf("archive.sample_rate %d exceeds %d", a.SampleRate, maxSampleRate))
		}
		if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("archive.silence_threshold %.3f is out of range [0, 1]", a.SilenceThreshold))
		}
		for _, s := range a.Sinks {
			if s == "postgres" && a.Postgres.DSN == "" {
				errs = append(errs, errors.New("archive.postgres.dsn is required when the postgres sink is enabled"))
			}
			if s == "disk" && a.Disk.Root == "" {
				errs = append(errs, errors.New("archive.disk.root is required when the disk sink is enabled"))
			}
		}
	}

	return errors.Join(errs...)
}
