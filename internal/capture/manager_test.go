package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/internal/capture/mock"
	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/pkg/audio"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type fakeHub struct {
	mu     sync.Mutex
	blocks []audio.Block
	err    error
}

func (h *fakeHub) Publish(b audio.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.blocks = append(h.blocks, b)
	return nil
}

func (h *fakeHub) received() []audio.Block {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]audio.Block(nil), h.blocks...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mic(name string, def bool) capture.Device {
	return capture.Device{
		ID:            name,
		Name:          name,
		IsDefault:     def,
		MaxChannels:   1,
		DefaultConfig: capture.StreamConfig{SampleRate: 44100, Channels: 1},
		MinSampleRate: 8000,
		MaxSampleRate: 48000,
	}
}

type fixture struct {
	host *mock.Host
	hub  *fakeHub
	buf  *audio.Shared
	mgr  *capture.Manager
}

func newFixture(t *testing.T, host *mock.Host, mutate func(*capture.Config)) *fixture {
	t.Helper()
	f := &fixture{
		host: host,
		hub:  &fakeHub{},
		buf:  audio.NewShared(audio.NewSampleBuffer(16000, 16000)),
	}
	cfg := capture.Config{
		Host:             host,
		Hub:              f.hub,
		Buffer:           f.buf,
		StallTimeout:     -1,
		NegotiateBackoff: 20 * time.Millisecond,
		RestartBackoff:   10 * time.Millisecond,
		Metrics:          testMetrics(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := capture.NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	f.mgr = mgr
	return f
}

// start runs the manager until the test ends.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := f.mgr.Start(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop after cancel")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := capture.NewManager(capture.Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestManager_NoDevicesRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{}, nil)
	f.start(t)

	waitFor(t, "three negotiation attempts", func() bool { return f.host.DevicesCount() >= 3 })
	if s := f.mgr.State(); s != capture.StateFailed && s != capture.StateNegotiating {
		t.Errorf("state = %v, want failed or negotiating", s)
	}
	if n := f.host.OpenCount(); n != 0 {
		t.Errorf("opened %d streams with no devices", n)
	}
	if err := f.mgr.Check(context.Background()); err == nil {
		t.Error("Check should fail while not streaming")
	}
}

func TestManager_EnumerationErrorRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{DevicesErr: errors.New("backend unavailable")}, nil)
	f.start(t)
	waitFor(t, "retries", func() bool { return f.host.DevicesCount() >= 2 })
}

func TestManager_StreamsBlocksToHub(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{DevicesResult: []capture.Device{mic("Built-in", true)}}, nil)
	f.start(t)

	waitFor(t, "streaming", func() bool { return f.mgr.State() == capture.StateStreaming })
	st := f.host.Stream(0)
	if !st.Started() {
		t.Fatal("stream not started")
	}
	if st.Requested.SampleRate != 16000 {
		t.Errorf("requested rate = %d, want the buffer rate 16000", st.Requested.SampleRate)
	}

	in := []float32{0.1, 0.2, 0.3}
	st.Emit(in)
	in[0] = 9 // the manager must have copied the block

	blocks := f.hub.received()
	if len(blocks) != 1 {
		t.Fatalf("hub received %d blocks, want 1", len(blocks))
	}
	b := blocks[0]
	if b.SampleRate != 16000 || b.Channels != 1 || len(b.Samples) != 3 || b.Samples[0] != 0.1 {
		t.Errorf("block = %+v", b)
	}
	if b.Captured.IsZero() {
		t.Error("block has no capture time")
	}

	dev, cfg, ok := f.mgr.Active()
	if !ok || dev.Name != "Built-in" || cfg.SampleRate != 16000 {
		t.Errorf("Active = %v %+v %v", dev, cfg, ok)
	}
	if err := f.mgr.Check(context.Background()); err != nil {
		t.Errorf("Check while streaming: %v", err)
	}
}

func TestManager_UpdatesBufferRate(t *testing.T) {
	t.Parallel()
	host := &mock.Host{
		DevicesResult: []capture.Device{mic("mic", true)},
		ActualRate:    44100,
	}
	f := newFixture(t, host, nil)
	f.start(t)

	waitFor(t, "streaming", func() bool { return f.mgr.State() == capture.StateStreaming })
	if got := f.buf.SampleRate(); got != 44100 {
		t.Errorf("buffer rate = %d, want 44100", got)
	}
	if got := f.buf.Capacity(); got != 44100 {
		t.Errorf("buffer capacity = %d, want 44100 (one second)", got)
	}
}

func TestManager_StreamErrorRestarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}}, nil)
	f.start(t)

	waitFor(t, "first stream", func() bool { return f.mgr.State() == capture.StateStreaming })
	first := f.host.Stream(0)
	first.Fail(errors.New("device unplugged"))

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("failed stream was not closed")
	}
	waitFor(t, "second stream", func() bool { return f.host.OpenCount() >= 2 })
}

func TestManager_PublishFailureRestarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}}, nil)
	f.hub.err = errors.New("hub closed")
	f.start(t)

	waitFor(t, "first stream", func() bool { return f.mgr.State() == capture.StateStreaming })
	f.host.Stream(0).Emit([]float32{0})
	waitFor(t, "second stream", func() bool { return f.host.OpenCount() >= 2 })
}

func TestManager_StallWatchdog(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}}, func(c *capture.Config) {
		c.StallTimeout = 20 * time.Millisecond
	})
	f.start(t)
	waitFor(t, "restart after stall", func() bool { return f.host.OpenCount() >= 2 })
}

func TestManager_StartFailureRestarts(t *testing.T) {
	t.Parallel()
	host := &mock.Host{
		DevicesResult: []capture.Device{mic("mic", true)},
		StartErr:      errors.New("device busy"),
	}
	f := newFixture(t, host, nil)
	f.start(t)
	waitFor(t, "retries", func() bool { return f.host.OpenCount() >= 2 })
	if f.host.Stream(0).Started() {
		t.Error("stream reported started despite StartErr")
	}
}

func TestManager_BackoffByOutcome(t *testing.T) {
	t.Parallel()
	const long, short = 10 * time.Second, 5 * time.Millisecond

	tests := []struct {
		name string
		host func() *mock.Host
		// streamed fails the first session after it started streaming.
		streamed bool
		// slowNegotiate selects a long NegotiateBackoff and a short
		// RestartBackoff; otherwise the other way round.
		slowNegotiate bool
	}{
		{
			name:          "open failure waits negotiate backoff",
			host:          func() *mock.Host { return &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}, OpenErr: errors.New("format rejected")} },
			slowNegotiate: true,
		},
		{
			name:          "start failure waits negotiate backoff",
			host:          func() *mock.Host { return &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}, StartErr: errors.New("device busy")} },
			slowNegotiate: true,
		},
		{
			name:     "stream error waits restart backoff",
			host:     func() *mock.Host { return &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}} },
			streamed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.host(), func(c *capture.Config) {
				c.NegotiateBackoff, c.RestartBackoff = short, long
				if tt.slowNegotiate {
					c.NegotiateBackoff, c.RestartBackoff = long, short
				}
			})
			f.start(t)

			if tt.streamed {
				waitFor(t, "streaming", func() bool { return f.mgr.State() == capture.StateStreaming })
				f.host.Stream(0).Fail(errors.New("device unplugged"))
			}
			waitFor(t, "first session to fail", func() bool { return f.mgr.State() == capture.StateFailed })

			// The short backoff would allow dozens of attempts here.
			time.Sleep(100 * time.Millisecond)
			if n := f.host.DevicesCount(); n != 1 {
				t.Errorf("negotiation attempts = %d, want 1 during the long backoff", n)
			}
		})
	}
}

func TestManager_RenegotiateSwitchesDevice(t *testing.T) {
	t.Parallel()
	host := &mock.Host{DevicesResult: []capture.Device{
		mic("Built-in Microphone", true),
		mic("USB Audio Mic", false),
	}}
	f := newFixture(t, host, func(c *capture.Config) { c.DeviceHint = "usb" })
	f.start(t)

	waitFor(t, "streaming", func() bool { return f.mgr.State() == capture.StateStreaming })
	if got := f.host.Stream(0).Device.Name; got != "USB Audio Mic" {
		t.Fatalf("first device = %q, want the hinted one", got)
	}

	f.mgr.SetDeviceHint("built-in")
	if got := f.mgr.DeviceHint(); got != "built-in" {
		t.Errorf("DeviceHint = %q", got)
	}
	f.mgr.Renegotiate()

	waitFor(t, "second stream", func() bool {
		s := f.host.Stream(1)
		return s != nil && s.Started()
	})
	if got := f.host.Stream(1).Device.Name; got != "Built-in Microphone" {
		t.Errorf("second device = %q, want Built-in Microphone", got)
	}
}

func TestManager_RateCheckingHost(t *testing.T) {
	t.Parallel()
	base := &mock.Host{
		DevicesResult:  []capture.Device{{ID: "pa-0", Name: "pa", MaxChannels: 2, DefaultConfig: capture.StreamConfig{SampleRate: 44100}}},
		SupportedRates: []uint32{44100},
	}
	f := &fixture{hub: &fakeHub{}, buf: audio.NewShared(audio.NewSampleBuffer(16000, 16000)), host: base}
	mgr, err := capture.NewManager(capture.Config{
		Host:         mock.RateCheckingHost{Host: base},
		Hub:          f.hub,
		Buffer:       f.buf,
		StallTimeout: -1,
		Metrics:      testMetrics(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.mgr = mgr
	f.start(t)

	waitFor(t, "streaming", func() bool { return mgr.State() == capture.StateStreaming })
	if got := base.Stream(0).Requested.SampleRate; got != 44100 {
		t.Errorf("requested rate = %d, want the device default 44100", got)
	}
	if got := f.buf.SampleRate(); got != 44100 {
		t.Errorf("buffer rate = %d, want 44100", got)
	}
}

func TestManager_ShutdownClosesStream(t *testing.T) {
	t.Parallel()
	host := &mock.Host{DevicesResult: []capture.Device{mic("mic", true)}}
	f := newFixture(t, host, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := f.mgr.Start(ctx)
	waitFor(t, "streaming", func() bool { return f.mgr.State() == capture.StateStreaming })
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-host.Stream(0).Done():
	default:
		t.Error("stream left open after shutdown")
	}
	if s := f.mgr.State(); s != capture.StateIdle {
		t.Errorf("state = %v, want idle", s)
	}
	if _, _, ok := f.mgr.Active(); ok {
		t.Error("Active reports a session after shutdown")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[capture.State]string{
		capture.StateIdle:        "idle",
		capture.StateNegotiating: "negotiating",
		capture.StateStreaming:   "streaming",
		capture.StateFailed:      "failed",
		capture.State(42):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
