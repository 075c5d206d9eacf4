// Package capture runs the microphone side of lifelogger: it negotiates an
// input device and stream configuration through a [Host] backend, publishes
// every captured block to the ingestion hub, and rebuilds the session after
// any failure.
//
// Two backends ship with the package: [MalgoHost] (miniaudio, the default) and
// [PortAudioHost]. Tests drive the [Manager] through the in-memory host in the
// mock subpackage.
package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoDevices is returned by negotiation when the host reports no input
	// devices.
	ErrNoDevices = errors.New("capture: no input devices")

	// ErrNoUsableConfig is returned by negotiation when no device offers a
	// usable stream configuration.
	ErrNoUsableConfig = errors.New("capture: no device with a usable configuration")
)

// Device describes one input device as reported by a [Host].
type Device struct {
	// ID identifies the device to [Host.Open]. Only meaningful to the host
	// that produced it.
	ID string

	// Name is the human-readable device name matched against the device hint.
	Name string

	// IsDefault is true for the system default input.
	IsDefault bool

	// MaxChannels is the number of input channels. Zero means the device
	// cannot capture.
	MaxChannels int

	// DefaultConfig is the device's preferred stream configuration.
	DefaultConfig StreamConfig

	// MinSampleRate and MaxSampleRate bound the rates the device accepts.
	// Hosts that implement [RateChecker] may leave both zero.
	MinSampleRate uint32
	MaxSampleRate uint32
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.ID)
}

// StreamConfig is a negotiated input stream configuration.
type StreamConfig struct {
	SampleRate uint32
	Channels   int

	// BufferFrames is the callback period in frames. Zero lets the host pick.
	BufferFrames int
}

// Callbacks receive stream events. Data runs on the host's realtime thread
// with a slice that is only valid for the duration of the call; it must copy
// and return quickly. Error reports a stream failure or an unexpected stop.
type Callbacks struct {
	Data  func(samples []float32)
	Error func(err error)
}

// Stream is an opened, not yet started input stream.
type Stream interface {
	// Config returns the configuration the device actually runs at, which
	// may differ from the one requested.
	Config() StreamConfig

	// Start begins delivering blocks to the data callback.
	Start() error

	// Close stops the stream and releases it. Safe to call more than once.
	Close() error
}

// Host is an audio backend able to enumerate inputs and open streams.
type Host interface {
	// Name identifies the backend in logs, e.g. "malgo".
	Name() string

	// Devices enumerates input devices in the host's order.
	Devices(ctx context.Context) ([]Device, error)

	// Open prepares a stream on dev with cfg. The stream does not deliver
	// data until [Stream.Start].
	Open(ctx context.Context, dev Device, cfg StreamConfig, cb Callbacks) (Stream, error)

	// Close releases the backend.
	Close() error
}

// RateChecker is implemented by hosts that can probe a configuration instead
// of advertising a fixed rate range.
type RateChecker interface {
	SupportsConfig(dev Device, cfg StreamConfig) bool
}
