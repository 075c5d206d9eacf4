// Command lifelogger keeps a rolling window of microphone audio in memory and
// serves it over HTTP, a live websocket, and MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/lifelogger/internal/app"
	"github.com/MrWong99/lifelogger/internal/archive"
	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/internal/config"
	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/internal/resilience"
	"github.com/MrWong99/lifelogger/pkg/codec"
	"github.com/MrWong99/lifelogger/pkg/codec/flac"
	"github.com/MrWong99/lifelogger/pkg/codec/opus"
	"github.com/MrWong99/lifelogger/pkg/codec/pcm"
	"github.com/MrWong99/lifelogger/pkg/codec/wav"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and capture device when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lifelogger: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lifelogger: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("lifelogger starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(ctx, reg)
	slog.Debug("registered implementations", "registry", reg.String())

	application, err := app.New(ctx, cfg, reg,
		app.WithVersion(version),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Slog())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down", "addr", application.Addr())

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Wiring ────────────────────────────────────────────────────────────────────

// registerBuiltins wires every codec type, capture backend and archive sink
// that ships with lifelogger into reg.
func registerBuiltins(ctx context.Context, reg *config.Registry) {
	// ── Codecs ────────────────────────────────────────────────────────────────
	reg.RegisterCodec("wav", func(e config.CodecEntry) (codec.Codec, error) {
		c, err := wav.New(config.OptInt(e.Options, "bits_per_sample", 16))
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	reg.RegisterCodec("pcm", func(config.CodecEntry) (codec.Codec, error) {
		return pcm.Codec{}, nil
	})
	reg.RegisterCodec("opus", func(e config.CodecEntry) (codec.Codec, error) {
		c, err := opus.New(config.OptInt(e.Options, "bitrate", opus.DefaultBitrate))
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	reg.RegisterCodec("flac", func(e config.CodecEntry) (codec.Codec, error) {
		opts := []flac.Option{
			flac.WithGuard(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name: "codec/" + e.Name,
			})),
		}
		if bin := config.OptString(e.Options, "binary"); bin != "" {
			opts = append(opts, flac.WithBinary(bin))
		}
		return flac.New(opts...), nil
	})

	// ── Capture backends ──────────────────────────────────────────────────────
	reg.RegisterHost("malgo", func(config.CaptureConfig) (capture.Host, error) {
		h, err := capture.NewMalgoHost()
		if err != nil {
			return nil, err
		}
		return h, nil
	})
	reg.RegisterHost("portaudio", func(config.CaptureConfig) (capture.Host, error) {
		h, err := capture.NewPortAudioHost()
		if err != nil {
			return nil, err
		}
		return h, nil
	})

	// ── Archive sinks ─────────────────────────────────────────────────────────
	reg.RegisterSink("disk", func(c config.ArchiveConfig) (archive.Sink, error) {
		return archive.NewDiskSink(c.Disk.Root, c.Disk.Prefix), nil
	})
	reg.RegisterSink("postgres", func(c config.ArchiveConfig) (archive.Sink, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := archive.OpenPostgres(connectCtx, c.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
