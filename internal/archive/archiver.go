package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/internal/resilience"
	"github.com/MrWong99/lifelogger/pkg/audio"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// ErrSilent is returned by [Archiver.Tick] when the segment was skipped
// because every sample was below the silence threshold.
var ErrSilent = errors.New("archive: segment is silent")

// Snapshotter is the read side of the shared buffer.
type Snapshotter interface {
	Snapshot(d time.Duration) audio.Snapshot
}

// Config configures an [Archiver].
type Config struct {
	// Buffer is read once per tick. Required.
	Buffer Snapshotter

	// Codec encodes every segment. Required.
	Codec codec.Codec

	// Format is the registry name of Codec, recorded on segments. Defaults
	// to Codec.Name().
	Format string

	// Sinks receive every segment. At least one is required.
	Sinks []Sink

	// Interval between ticks; each tick saves the last Interval of audio.
	// Required.
	Interval time.Duration

	// SampleRate resamples segments before encoding. Zero keeps the buffer
	// rate.
	SampleRate uint32

	// SkipSilent drops segments below SilenceThreshold.
	SkipSilent       bool
	SilenceThreshold float32

	// Breaker tunes the per-sink circuit breakers. Name is overwritten with
	// "archive/<sink>".
	Breaker resilience.CircuitBreakerConfig

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type guardedSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

// Archiver persists the buffer on a fixed interval.
type Archiver struct {
	buf        Snapshotter
	codec      codec.Codec
	format     string
	sinks      []guardedSink
	interval   time.Duration
	sampleRate uint32
	skipSilent bool
	threshold  float32
	metrics    *observe.Metrics
	log        *slog.Logger
	now        func() time.Time
}

// New validates cfg and returns an Archiver.
func New(cfg Config) (*Archiver, error) {
	var errs []error
	if cfg.Buffer == nil {
		errs = append(errs, errors.New("buffer is required"))
	}
	if cfg.Codec == nil {
		errs = append(errs, errors.New("codec is required"))
	}
	if len(cfg.Sinks) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	if cfg.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval %s must be positive", cfg.Interval))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	a := &Archiver{
		buf:        cfg.Buffer,
		codec:      cfg.Codec,
		format:     cfg.Format,
		interval:   cfg.Interval,
		sampleRate: cfg.SampleRate,
		skipSilent: cfg.SkipSilent,
		threshold:  cfg.SilenceThreshold,
		metrics:    observe.OrDefault(cfg.Metrics),
		log:        cfg.Logger,
		now:        cfg.Now,
	}
	if a.format == "" {
		a.format = cfg.Codec.Name()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	for _, s := range cfg.Sinks {
		bc := cfg.Breaker
		bc.Name = "archive/" + s.Name()
		hook := bc.OnStateChange
		bc.OnStateChange = func(name string, from, to resilience.State) {
			a.metrics.RecordBreakerState(context.Background(), name, int(to))
			if hook != nil {
				hook(name, from, to)
			}
		}
		a.sinks = append(a.sinks, guardedSink{sink: s, breaker: resilience.NewCircuitBreaker(bc)})
	}
	return a, nil
}

// Breakers returns the per-sink circuit breakers in sink order.
func (a *Archiver) Breakers() []*resilience.CircuitBreaker {
	out := make([]*resilience.CircuitBreaker, len(a.sinks))
	for i, s := range a.sinks {
		out[i] = s.breaker
	}
	return out
}

// Run ticks every interval until ctx is cancelled. Tick failures are logged.
// It always returns nil.
func (a *Archiver) Run(ctx context.Context) error {
	a.log.Info("archiver started", "interval", a.interval, "format", a.format, "sinks", len(a.sinks))
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info("archiver stopped")
			return nil
		case <-ticker.C:
			switch _, err := a.Tick(ctx); {
			case errors.Is(err, ErrSilent):
				a.log.Debug("archive segment skipped: silent")
			case err != nil && ctx.Err() == nil:
				a.log.Error("archive tick failed", "err", err)
			}
		}
	}
}

// Tick archives the last interval of audio once and returns the segment it
// built. Sink failures are joined; a sink failing does not stop the others.
func (a *Archiver) Tick(ctx context.Context) (Segment, error) {
	snap := a.buf.Snapshot(a.interval)
	now := a.now()
	if len(snap.Samples) == 0 {
		return Segment{}, ErrSilent
	}
	if a.skipSilent && audio.IsSilent(snap.Samples, a.threshold) {
		return Segment{}, ErrSilent
	}

	samples, rate := snap.Samples, snap.SampleRate
	if a.sampleRate != 0 && a.sampleRate != rate {
		samples = audio.Resample(samples, rate, a.sampleRate)
		rate = a.sampleRate
	}

	encCtx, end := observe.StartEncode(ctx, a.format, len(samples), rate)
	start := time.Now()
	data, err := a.codec.Encode(samples, rate)
	a.metrics.RecordEncode(encCtx, a.format, time.Since(start), err)
	end(err)
	if err != nil {
		return Segment{}, fmt.Errorf("archive: encode: %w", err)
	}

	d := snap.Duration()
	seg := Segment{
		Start:      now.Add(-d),
		Duration:   d,
		Format:     a.format,
		Extension:  a.codec.Extension(),
		MimeType:   a.codec.MimeType(),
		SampleRate: rate,
		Data:       data,
	}
	return seg, a.save(ctx, seg)
}

func (a *Archiver) save(ctx context.Context, seg Segment) error {
	errs := make([]error, len(a.sinks))
	var g errgroup.Group
	for i, s := range a.sinks {
		g.Go(func() error {
			err := s.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
				return s.sink.Save(ctx, seg)
			})
			a.metrics.RecordArchive(ctx, s.sink.Name(), len(seg.Data), err)
			if err != nil {
				errs[i] = fmt.Errorf("archive: sink %s: %w", s.sink.Name(), err)
				return nil
			}
			a.log.Debug("segment archived", "sink", s.sink.Name(), "bytes", len(seg.Data), "start", seg.Start)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every sink.
func (a *Archiver) Close() error {
	var errs []error
	for _, s := range a.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive: close %s: %w", s.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
