// Package app wires every lifelogger subsystem into a running application.
//
// The App struct owns the full lifecycle: New builds the buffer, codecs,
// fan-out hub, capture manager, archiver and HTTP server from the config;
// Run drives them under one errgroup until the context ends; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithHost, WithSinks,
// WithMetrics). When an option is not provided, New creates the real
// implementation through the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lifelogger/internal/archive"
	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/internal/config"
	"github.com/MrWong99/lifelogger/internal/health"
	"github.com/MrWong99/lifelogger/internal/ingest"
	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/internal/server"
	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// httpShutdownTimeout bounds the HTTP drain once Run's context ends.
const httpShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	version        string
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	buf      *audio.Shared
	codecs   *codec.Registry
	hub      *ingest.Hub
	host     capture.Host
	manager  *capture.Manager
	sinks    []archive.Sink
	archiver *archive.Archiver
	health   *health.Handler
	httpSrv  *http.Server
	listener net.Listener
	stats    ingest.Stats

	// backoffs override the manager's defaults in tests.
	negotiateBackoff time.Duration
	restartBackoff   time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects a capture host instead of creating one from config.
func WithHost(h capture.Host) Option {
	return func(a *App) { a.host = h }
}

// WithSinks injects archive sinks instead of creating them from config.
func WithSinks(s ...archive.Sink) Option {
	return func(a *App) { a.sinks = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Default:
// [observe.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the version reported over HTTP and MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithCaptureBackoff overrides the capture retry waits.
func WithCaptureBackoff(negotiate, restart time.Duration) Option {
	return func(a *App) {
		a.negotiateBackoff = negotiate
		a.restartBackoff = restart
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires all subsystems together and binds the HTTP listener. Any error
// here is a startup failure; resources acquired so far are released.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	a.metrics = observe.OrDefault(a.metrics)
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Buffer ────────────────────────────────────────────────────────
	a.buf = audio.NewShared(audio.NewSampleBufferForDuration(cfg.Buffer.Duration, cfg.Buffer.SampleRate))
	a.metrics.RecordBuffer(ctx, a.buf.SampleRate(), a.buf.Capacity())

	// ── 2. Codecs ────────────────────────────────────────────────────────
	if a.codecs, err = reg.BuildCodecs(cfg.Codecs); err != nil {
		return nil, fmt.Errorf("app: build codecs: %w", err)
	}

	// ── 3. Hub ───────────────────────────────────────────────────────────
	a.hub = ingest.NewHub(ingest.WithQueueSize(cfg.Capture.QueueSize), ingest.WithMetrics(a.metrics))

	// ── 4. Capture ───────────────────────────────────────────────────────
	if err := a.initCapture(reg); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 5. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(reg); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	slog.Info("application initialised",
		"buffer", a.buf.Duration(),
		"sample_rate", a.buf.SampleRate(),
		"codecs", a.codecs.Names(),
		"capture", a.host.Name(),
		"archive", a.archiver != nil,
		"listen_addr", a.Addr(),
	)
	return a, nil
}

func (a *App) initCapture(reg *config.Registry) error {
	if a.host == nil {
		h, err := reg.CreateHost(a.cfg.Capture)
		if err != nil {
			return err
		}
		a.host = h
	}
	a.closers = append(a.closers, a.host.Close)

	c := a.cfg.Capture
	m, err := capture.NewManager(capture.Config{
		Host:             a.host,
		Hub:              a.hub,
		Buffer:           a.buf,
		DeviceHint:       c.Device,
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		BufferFrames:     c.BufferFrames,
		StallTimeout:     c.StallTimeout,
		NegotiateBackoff: a.negotiateBackoff,
		RestartBackoff:   a.restartBackoff,
		Metrics:          a.metrics,
	})
	if err != nil {
		return err
	}
	a.manager = m
	return nil
}

func (a *App) initArchive(reg *config.Registry) error {
	ac := a.cfg.Archive
	if !ac.Enabled {
		return nil
	}
	c, err := a.codecs.Lookup(ac.Format)
	if err != nil {
		return err
	}
	if a.sinks == nil {
		for _, name := range ac.Sinks {
			s, err := reg.CreateSink(name, ac)
			if err != nil {
				return fmt.Errorf("sink %q: %w", name, err)
			}
			a.sinks = append(a.sinks, s)
		}
	}
	arch, err := archive.New(archive.Config{
		Buffer:           a.buf,
		Codec:            c,
		Format:           ac.Format,
		Sinks:            a.sinks,
		Interval:         ac.Interval,
		SampleRate:       ac.SampleRate,
		SkipSilent:       ac.SkipSilent,
		SilenceThreshold: float32(ac.SilenceThreshold),
		Metrics:          a.metrics,
	})
	if err != nil {
		for _, s := range a.sinks {
			_ = s.Close()
		}
		return err
	}
	a.archiver = arch
	a.closers = append(a.closers, arch.Close)
	return nil
}

func (a *App) initServer() error {
	checkers := []health.Checker{{Name: "capture", Check: a.manager.Check}}
	if a.archiver != nil {
		checkers = append(checkers, health.BreakerChecker("archive", a.archiver.Breakers()...))
	}
	a.health = health.New(health.WithCheckers(checkers...))

	srv, err := server.New(server.Config{
		Buffer:         a.buf,
		Codecs:         a.codecs,
		Hub:            a.hub,
		Capture:        a.manager,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		MCP:            a.cfg.Server.MCPEnabled(),
		Version:        a.version,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.listener = ln
	a.httpSrv = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the bound HTTP address.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Buffer returns the shared ring buffer.
func (a *App) Buffer() *audio.Shared { return a.buf }

// Manager returns the capture manager.
func (a *App) Manager() *capture.Manager { return a.manager }

// Ingested returns the ingestion counters.
func (a *App) Ingested() *ingest.Stats { return &a.stats }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts ingestion, capture, the archiver and the HTTP server, and blocks
// until ctx is cancelled or a component fails fatally. Only the HTTP server
// can fail fatally; capture and archive problems are retried internally.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	captured := ingest.Start(ctx, a.hub, a.buf, a.manager, &a.stats)
	g.Go(func() error {
		<-captured
		return nil
	})
	if a.archiver != nil {
		g.Go(func() error { return a.archiver.Run(ctx) })
	}
	g.Go(func() error { return a.serve() })
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks live listeners before the HTTP drain.
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	slog.Info("lifelogger running", "addr", a.Addr())
	return g.Wait()
}

func (a *App) serve() error {
	var err error
	if t := a.cfg.Server.TLS; t != nil {
		err = a.httpSrv.ServeTLS(a.listener, t.CertFile, t.KeyFile)
	} else {
		err = a.httpSrv.Serve(a.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: http: %w", err)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of d. A changed device hint
// restarts the capture session on the best match. Fields that need a restart
// are logged and otherwise ignored.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.DeviceChanged {
		slog.Info("capture device hint changed; renegotiating", "device", d.NewDevice)
		a.manager.SetDeviceHint(d.NewDevice)
		a.manager.Renegotiate()
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the hub, stops the HTTP server and runs closers in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.hub.Close()
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		// Serve closes the listener itself; this covers an App that never ran.
		_ = a.listener.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete",
			"blocks_ingested", a.stats.Blocks(),
			"samples_ingested", a.stats.Samples(),
		)
	})
	return shutdownErr
}

func (a *App) runClosers() {
	if a.hub != nil {
		a.hub.Close()
	}
	for _, c := range a.closers {
		_ = c()
	}
}
