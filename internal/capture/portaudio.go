package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const defaultPortAudioFrames = 1024

// PortAudioHost captures through PortAudio's blocking read API.
type PortAudioHost struct {
	mu      sync.Mutex
	closed  bool
	devices map[string]*portaudio.DeviceInfo
}

var (
	_ Host        = (*PortAudioHost)(nil)
	_ RateChecker = (*PortAudioHost)(nil)
)

// NewPortAudioHost initialises the PortAudio library. Close must be called
// to terminate it.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: init portaudio: %w", err)
	}
	return &PortAudioHost{devices: make(map[string]*portaudio.DeviceInfo)}, nil
}

func (h *PortAudioHost) Name() string { return "portaudio" }

// Devices lists devices with at least one input channel.
func (h *PortAudioHost) Devices(context.Context) ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("portaudio host closed")
	}
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()

	clear(h.devices)
	var out []Device
	for i, d := range all {
		if d.MaxInputChannels < 1 {
			continue
		}
		id := fmt.Sprintf("pa-%d", i)
		h.devices[id] = d
		out = append(out, Device{
			ID:          id,
			Name:        d.Name,
			IsDefault:   def != nil && d.Name == def.Name && d.HostApi == def.HostApi,
			MaxChannels: d.MaxInputChannels,
			DefaultConfig: StreamConfig{
				SampleRate: uint32(d.DefaultSampleRate),
				Channels:   1,
			},
		})
	}
	return out, nil
}

// SupportsConfig asks PortAudio whether dev accepts cfg.
func (h *PortAudioHost) SupportsConfig(dev Device, cfg StreamConfig) bool {
	h.mu.Lock()
	info, ok := h.devices[dev.ID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	buf := make([]float32, max(cfg.BufferFrames, 1)*cfg.Channels)
	return portaudio.IsFormatSupported(streamParams(info, cfg), buf) == nil
}

// Open opens a blocking input stream. Start launches the read goroutine.
func (h *PortAudioHost) Open(_ context.Context, dev Device, cfg StreamConfig, cb Callbacks) (Stream, error) {
	h.mu.Lock()
	info, ok := h.devices[dev.ID]
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, errors.New("portaudio host closed")
	}
	if !ok {
		return nil, fmt.Errorf("unknown device %s", dev)
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = defaultPortAudioFrames
	}

	buf := make([]float32, cfg.BufferFrames*cfg.Channels)
	st, err := portaudio.OpenStream(streamParams(info, cfg), buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %s: %w", dev, err)
	}
	if si := st.Info(); si != nil && si.SampleRate > 0 {
		cfg.SampleRate = uint32(si.SampleRate)
	}
	return &portAudioStream{
		stream: st,
		buf:    buf,
		cfg:    cfg,
		cb:     cb,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return portaudio.Terminate()
}

func streamParams(info *portaudio.DeviceInfo, cfg StreamConfig) portaudio.StreamParameters {
	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.BufferFrames,
	}
}

type portAudioStream struct {
	stream    *portaudio.Stream
	buf       []float32
	cfg       StreamConfig
	cb        Callbacks
	stop      chan struct{}
	done      chan struct{}
	started   bool
	closeOnce sync.Once
}

func (s *portAudioStream) Config() StreamConfig { return s.cfg }

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.started = true
	go s.readLoop()
	return nil
}

// readLoop is the device thread for PortAudio: it reads into buf and hands
// it to the data callback until stopped or a read fails.
func (s *portAudioStream) readLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.stop:
			default:
				if s.cb.Error != nil {
					s.cb.Error(fmt.Errorf("read: %w", err))
				}
			}
			return
		}
		s.cb.Data(s.buf)
	}
}

func (s *portAudioStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.started {
			// Stop unblocks a pending Read.
			err = s.stream.Stop()
			<-s.done
		}
		err = errors.Join(err, s.stream.Close())
	})
	return err
}
