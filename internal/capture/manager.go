package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/pkg/audio"
)

// Default timings.
const (
	defaultStallTimeout     = 2 * time.Second
	defaultNegotiateBackoff = 5 * time.Second
	defaultRestartBackoff   = 1 * time.Second
)

// Session end outcomes, reported as the "outcome" metric attribute.
const (
	outcomeNegotiationFailed = "negotiation_failed"
	outcomeOpenFailed        = "open_failed"
	outcomeStartFailed       = "start_failed"
	outcomeStreamError       = "stream_error"
	outcomeStalled           = "stalled"
	outcomeRenegotiate       = "renegotiate"
	outcomePublishFailed     = "publish_failed"
	outcomeShutdown          = "shutdown"
)

// State is the manager's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Publisher receives captured blocks. Publish must not block.
type Publisher interface {
	Publish(b audio.Block) error
}

// RateSetter is the part of the sample buffer the manager touches: the
// buffer is re-rated to the device's actual rate before streaming starts.
type RateSetter interface {
	SampleRate() uint32
	Capacity() int
	UpdateSampleRate(rate uint32) bool
}

// Config configures a [Manager].
type Config struct {
	// Host is the audio backend. Required.
	Host Host

	// Hub receives every captured block. Required.
	Hub Publisher

	// Buffer is re-rated when the negotiated rate differs. Required.
	Buffer RateSetter

	// DeviceHint selects a device by (fuzzy) name. Empty prefers the system
	// default.
	DeviceHint string

	// SampleRate is the preferred capture rate. Zero uses the buffer's rate.
	SampleRate uint32

	// Channels is the requested channel count. Default: 1.
	Channels int

	// BufferFrames is the requested callback period. Zero lets the host pick.
	BufferFrames int

	// StallTimeout ends a session that delivers no block for this long.
	// Zero selects 2s; negative disables the watchdog.
	StallTimeout time.Duration

	// NegotiateBackoff is the wait after a session that never streamed:
	// negotiation, stream build or stream start failed. Default: 5s.
	NegotiateBackoff time.Duration

	// RestartBackoff is the wait after a running stream ends. Default: 1s.
	RestartBackoff time.Duration

	// Metrics records session outcomes. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default with a component attribute.
	Logger *slog.Logger
}

// Manager owns the capture loop: negotiate, stream, fail, back off, repeat.
// It never gives up and never returns an error while its context is live.
//
// All methods are safe for concurrent use.
type Manager struct {
	host             Host
	hub              Publisher
	buf              RateSetter
	sampleRate       uint32
	channels         int
	bufferFrames     int
	stallTimeout     time.Duration
	negotiateBackoff time.Duration
	restartBackoff   time.Duration
	metrics          *observe.Metrics
	log              *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	hint    string
	current *session
	active  negotiated
}

// NewManager validates cfg and returns an idle [Manager].
func NewManager(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Host == nil {
		errs = append(errs, errors.New("host is required"))
	}
	if cfg.Hub == nil {
		errs = append(errs, errors.New("hub is required"))
	}
	if cfg.Buffer == nil {
		errs = append(errs, errors.New("buffer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("capture: new manager: %w", err)
	}

	m := &Manager{
		host:             cfg.Host,
		hub:              cfg.Hub,
		buf:              cfg.Buffer,
		hint:             cfg.DeviceHint,
		sampleRate:       cfg.SampleRate,
		channels:         max(cfg.Channels, 1),
		bufferFrames:     max(cfg.BufferFrames, 0),
		stallTimeout:     cfg.StallTimeout,
		negotiateBackoff: cfg.NegotiateBackoff,
		restartBackoff:   cfg.RestartBackoff,
		metrics:          observe.OrDefault(cfg.Metrics),
		log:              cfg.Logger,
	}
	if m.stallTimeout == 0 {
		m.stallTimeout = defaultStallTimeout
	}
	if m.negotiateBackoff <= 0 {
		m.negotiateBackoff = defaultNegotiateBackoff
	}
	if m.restartBackoff <= 0 {
		m.restartBackoff = defaultRestartBackoff
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "capture", "host", cfg.Host.Name())
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

// DeviceHint returns the hint used by the next negotiation.
func (m *Manager) DeviceHint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hint
}

// SetDeviceHint changes the hint for the next negotiation. The running
// session is not affected; call [Manager.Renegotiate] to switch now.
func (m *Manager) SetDeviceHint(hint string) {
	m.mu.Lock()
	m.hint = hint
	m.mu.Unlock()
}

// Renegotiate ends the running session, if any. The loop then backs off and
// negotiates again with the current hint.
func (m *Manager) Renegotiate() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.terminate(outcomeRenegotiate)
	}
}

// Active returns the device and configuration of the running session. ok is
// false when nothing is streaming.
func (m *Manager) Active() (dev Device, cfg StreamConfig, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Device{}, StreamConfig{}, false
	}
	return m.active.device, m.active.config, true
}

// Check reports an error unless a stream is running. It satisfies the
// health package's checker signature.
func (m *Manager) Check(context.Context) error {
	if s := m.State(); s != StateStreaming {
		return fmt.Errorf("capture is %s", s)
	}
	return nil
}

// Start runs the loop in the background and returns immediately. The
// returned channel is closed once the loop has exited after ctx is done.
func (m *Manager) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	return done
}

// Run executes the capture loop until ctx is cancelled. It always returns
// nil; every failure is logged and retried.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateIdle)
	for ctx.Err() == nil {
		m.setState(StateNegotiating)
		neg, err := m.negotiate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.setState(StateFailed)
			m.metrics.RecordCaptureSession(ctx, outcomeNegotiationFailed)
			m.log.Warn("capture negotiation failed", "err", err, "retry_in", m.negotiateBackoff)
			if !sleep(ctx, m.negotiateBackoff) {
				return nil
			}
			continue
		}

		outcome, err := m.stream(ctx, neg)
		m.metrics.RecordCaptureSession(context.WithoutCancel(ctx), outcome)
		if outcome == outcomeShutdown {
			return nil
		}
		m.setState(StateFailed)
		wait := m.backoffAfter(outcome)
		m.log.Warn("capture session ended",
			"device", neg.device.Name, "outcome", outcome, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return nil
		}
	}
	return nil
}

// backoffAfter picks the wait before the next negotiation. Sessions that
// failed before streaming wait as long as a failed negotiation.
func (m *Manager) backoffAfter(outcome string) time.Duration {
	switch outcome {
	case outcomeOpenFailed, outcomeStartFailed:
		return m.negotiateBackoff
	default:
		return m.restartBackoff
	}
}

// stream opens and runs one session until it terminates. It returns the
// outcome and the error that caused it, if any.
func (m *Manager) stream(ctx context.Context, neg negotiated) (string, error) {
	sess := newSession()
	var (
		rate     atomic.Uint32
		channels atomic.Int32
		lastData atomic.Int64
	)
	blocks := m.metrics.CaptureBlocks
	cb := Callbacks{
		Data: func(samples []float32) {
			now := time.Now()
			lastData.Store(now.UnixNano())
			blocks.Add(context.Background(), 1)
			b := audio.Block{
				Samples:    slices.Clone(samples),
				Channels:   int(channels.Load()),
				SampleRate: rate.Load(),
				Captured:   now,
			}
			if err := m.hub.Publish(b); err != nil {
				sess.fail(outcomePublishFailed, err)
			}
		},
		Error: func(err error) {
			sess.fail(outcomeStreamError, err)
		},
	}

	st, err := m.host.Open(ctx, neg.device, neg.config, cb)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeShutdown, nil
		}
		return outcomeOpenFailed, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			m.log.Debug("closing capture stream", "err", err)
		}
	}()

	actual := st.Config()
	if actual.SampleRate == 0 {
		actual.SampleRate = neg.config.SampleRate
	}
	if actual.Channels < 1 {
		actual.Channels = neg.config.Channels
	}
	rate.Store(actual.SampleRate)
	channels.Store(int32(actual.Channels))
	neg.config = actual

	if actual.SampleRate != m.buf.SampleRate() {
		from := m.buf.SampleRate()
		if m.buf.UpdateSampleRate(actual.SampleRate) {
			m.log.Info("buffer resampled to device rate", "from", from, "to", actual.SampleRate)
		}
	}
	m.metrics.RecordBuffer(ctx, m.buf.SampleRate(), m.buf.Capacity())

	lastData.Store(time.Now().UnixNano())
	if err := st.Start(); err != nil {
		return outcomeStartFailed, fmt.Errorf("start stream: %w", err)
	}

	m.mu.Lock()
	m.current = sess
	m.active = neg
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.current = nil
		m.active = negotiated{}
		m.mu.Unlock()
	}()

	m.setState(StateStreaming)
	m.metrics.ActiveStreams.Add(ctx, 1)
	defer m.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	m.log.Info("capture streaming",
		"device", neg.device.Name,
		"sample_rate", actual.SampleRate,
		"channels", actual.Channels,
		"buffer_frames", actual.BufferFrames,
	)

	if m.stallTimeout > 0 {
		go m.watchStall(ctx, sess, &lastData)
	}

	select {
	case <-ctx.Done():
		return outcomeShutdown, nil
	case <-sess.done:
		return sess.outcome, sess.err
	}
}

// watchStall terminates sess when no block has arrived within the stall
// timeout.
func (m *Manager) watchStall(ctx context.Context, sess *session, lastData *atomic.Int64) {
	t := time.NewTicker(max(m.stallTimeout/4, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case <-t.C:
			idle := time.Since(time.Unix(0, lastData.Load()))
			if idle >= m.stallTimeout {
				sess.fail(outcomeStalled, fmt.Errorf("no audio for %s", idle.Round(time.Millisecond)))
				return
			}
		}
	}
}

// session is the termination signal of one stream. The first terminate call
// wins; later calls are no-ops.
type session struct {
	once    sync.Once
	done    chan struct{}
	outcome string
	err     error
}

func newSession() *session {
	return &session{done: make(chan struct{})}
}

func (s *session) terminate(outcome string) { s.fail(outcome, nil) }

func (s *session) fail(outcome string, err error) {
	s.once.Do(func() {
		s.outcome = outcome
		s.err = err
		close(s.done)
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
