// Package mock provides an in-memory [capture.Host] for tests.
//
// Tests configure the exported fields, run a [capture.Manager] against the
// host, and drive each opened [Stream] with Emit and Fail.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lifelogger/internal/capture"
)

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock [capture.Host]. Set the exported fields before use and guard
// later changes with Lock/Unlock.
type Host struct {
	sync.Mutex

	// NameValue is returned by Name. Default: "mock".
	NameValue string

	// DevicesResult is returned by Devices.
	DevicesResult []capture.Device

	// DevicesErr, when non-nil, is returned by Devices.
	DevicesErr error

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	// StartErr is returned by Start on streams opened afterwards.
	StartErr error

	// ActualRate, when non-zero, overrides the rate reported by
	// Stream.Config, simulating a device that ignores the request.
	ActualRate uint32

	// SupportedRates, when non-nil, makes the host a [capture.RateChecker]
	// that accepts only these rates.
	SupportedRates []uint32

	// DevicesCalls counts Devices invocations.
	DevicesCalls int

	// Opened records every stream returned by Open, in order.
	Opened []*Stream

	closed bool
}

var _ capture.Host = (*Host)(nil)

func (h *Host) Name() string {
	h.Lock()
	defer h.Unlock()
	if h.NameValue == "" {
		return "mock"
	}
	return h.NameValue
}

func (h *Host) Devices(context.Context) ([]capture.Device, error) {
	h.Lock()
	defer h.Unlock()
	h.DevicesCalls++
	if h.DevicesErr != nil {
		return nil, h.DevicesErr
	}
	return append([]capture.Device(nil), h.DevicesResult...), nil
}

func (h *Host) Open(_ context.Context, dev capture.Device, cfg capture.StreamConfig, cb capture.Callbacks) (capture.Stream, error) {
	h.Lock()
	defer h.Unlock()
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	actual := cfg
	if h.ActualRate != 0 {
		actual.SampleRate = h.ActualRate
	}
	s := &Stream{
		Device:    dev,
		Requested: cfg,
		actual:    actual,
		cb:        cb,
		startErr:  h.StartErr,
		closed:    make(chan struct{}),
	}
	h.Opened = append(h.Opened, s)
	return s, nil
}

func (h *Host) Close() error {
	h.Lock()
	defer h.Unlock()
	h.closed = true
	return nil
}

// OpenCount returns the number of streams opened so far.
func (h *Host) OpenCount() int {
	h.Lock()
	defer h.Unlock()
	return len(h.Opened)
}

// DevicesCount returns the number of Devices calls so far.
func (h *Host) DevicesCount() int {
	h.Lock()
	defer h.Unlock()
	return h.DevicesCalls
}

// Stream returns the i-th opened stream, or nil.
func (h *Host) Stream(i int) *Stream {
	h.Lock()
	defer h.Unlock()
	if i < 0 || i >= len(h.Opened) {
		return nil
	}
	return h.Opened[i]
}

// Closed reports whether Close was called.
func (h *Host) Closed() bool {
	h.Lock()
	defer h.Unlock()
	return h.closed
}

// RateCheckingHost wraps Host and implements [capture.RateChecker] from
// Host.SupportedRates.
type RateCheckingHost struct {
	*Host
}

var _ capture.RateChecker = RateCheckingHost{}

func (h RateCheckingHost) SupportsConfig(_ capture.Device, cfg capture.StreamConfig) bool {
	h.Lock()
	defer h.Unlock()
	for _, r := range h.SupportedRates {
		if r == cfg.SampleRate {
			return true
		}
	}
	return false
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [capture.Stream].
type Stream struct {
	// Device and Requested are what Open was called with.
	Device    capture.Device
	Requested capture.StreamConfig

	actual   capture.StreamConfig
	cb       capture.Callbacks
	startErr error

	mu      sync.Mutex
	started bool
	closed  chan struct{}
	once    sync.Once
}

func (s *Stream) Config() capture.StreamConfig { return s.actual }

func (s *Stream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Started reports whether Start succeeded.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Done is closed once the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.closed }

// Emit delivers samples to the data callback as the device thread would.
func (s *Stream) Emit(samples []float32) {
	s.cb.Data(samples)
}

// Fail reports a stream error through the error callback.
func (s *Stream) Fail(err error) {
	if s.cb.Error != nil {
		s.cb.Error(err)
	}
}
