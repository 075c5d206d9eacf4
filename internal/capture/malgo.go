package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// miniaudio converts between the device's native rate and any requested rate,
// so every rate in this range is usable on every device.
const (
	malgoMinRate     = 8000
	malgoMaxRate     = 384000
	malgoDefaultRate = 48000
	malgoMaxChannels = 2
)

var errDeviceStopped = errors.New("device stopped")

// MalgoHost captures through miniaudio.
type MalgoHost struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	devices map[string]malgo.DeviceInfo
}

var _ Host = (*MalgoHost)(nil)

// NewMalgoHost initialises a miniaudio context with the platform's default
// backends.
func NewMalgoHost() (*MalgoHost, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init malgo context: %w", err)
	}
	return &MalgoHost{ctx: mctx, devices: make(map[string]malgo.DeviceInfo)}, nil
}

func (h *MalgoHost) Name() string { return "malgo" }

// Devices enumerates capture devices. The IDs are only valid for Open calls
// on the same host.
func (h *MalgoHost) Devices(context.Context) ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return nil, errors.New("malgo host closed")
	}
	infos, err := h.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	clear(h.devices)
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		id := info.ID.String()
		h.devices[id] = info
		out = append(out, Device{
			ID:          id,
			Name:        info.Name(),
			IsDefault:   info.IsDefault != 0,
			MaxChannels: malgoMaxChannels,
			DefaultConfig: StreamConfig{
				SampleRate: malgoDefaultRate,
				Channels:   1,
			},
			MinSampleRate: malgoMinRate,
			MaxSampleRate: malgoMaxRate,
		})
	}
	return out, nil
}

// Open initialises a float32 capture device. The data callback receives
// interleaved samples.
func (h *MalgoHost) Open(_ context.Context, dev Device, cfg StreamConfig, cb Callbacks) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return nil, errors.New("malgo host closed")
	}
	info, ok := h.devices[dev.ID]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", dev)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = uint32(cfg.Channels)
	dc.Capture.DeviceID = info.ID.Pointer()
	dc.SampleRate = cfg.SampleRate
	dc.PeriodSizeInFrames = uint32(cfg.BufferFrames)
	dc.Alsa.NoMMap = 1

	s := &malgoStream{cb: cb, requested: cfg}
	dev2, err := malgo.InitDevice(h.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("init device %s: %w", dev, err)
	}
	s.dev = dev2
	return s, nil
}

// Close releases the miniaudio context.
func (h *MalgoHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return nil
	}
	err := h.ctx.Uninit()
	h.ctx.Free()
	h.ctx = nil
	return err
}

type malgoStream struct {
	dev       *malgo.Device
	cb        Callbacks
	requested StreamConfig
	scratch   []float32
	closing   atomic.Bool
	closeOnce sync.Once
}

// Config reads the rate and channel count back from the initialised device.
func (s *malgoStream) Config() StreamConfig {
	cfg := s.requested
	if r := s.dev.SampleRate(); r > 0 {
		cfg.SampleRate = r
	}
	if c := s.dev.CaptureChannels(); c > 0 {
		cfg.Channels = int(c)
	}
	return cfg
}

func (s *malgoStream) Start() error { return s.dev.Start() }

func (s *malgoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.dev.Stop()
		s.dev.Uninit()
	})
	return err
}

// onData runs on miniaudio's thread.
func (s *malgoStream) onData(_, input []byte, _ uint32) {
	n := len(input) / 4
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	s.cb.Data(buf)
}

func (s *malgoStream) onStop() {
	if s.closing.Load() {
		return
	}
	if s.cb.Error != nil {
		s.cb.Error(errDeviceStopped)
	}
}
