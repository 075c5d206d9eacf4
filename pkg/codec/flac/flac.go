// Package flac implements a lossless codec by piping 16-bit WAV through the
// reference flac command-line encoder.
package flac

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/MrWong99/lifelogger/pkg/codec"
	"github.com/MrWong99/lifelogger/pkg/codec/wav"
)

// DefaultBinary is looked up in PATH when no binary is configured.
const DefaultBinary = "flac"

// Codec shells out to flac for every Encode and Decode.
type Codec struct {
	binary  string
	runner  Runner
	guard   Guard
	timeout time.Duration
	wav     *wav.Codec
}

var _ codec.Codec = (*Codec)(nil)

// Option configures a [Codec].
type Option func(*Codec)

// WithBinary sets the flac executable path.
func WithBinary(path string) Option {
	return func(c *Codec) { c.binary = path }
}

// WithRunner replaces the command runner. Tests use this to avoid a real
// flac installation.
func WithRunner(r Runner) Option {
	return func(c *Codec) { c.runner = r }
}

// WithGuard routes every invocation through g.
func WithGuard(g Guard) Option {
	return func(c *Codec) { c.guard = g }
}

// WithTimeout bounds a single invocation. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Codec) { c.timeout = d }
}

// New returns a FLAC codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		binary:  DefaultBinary,
		runner:  ExecRunner{},
		guard:   noGuard{},
		timeout: 60 * time.Second,
		wav:     wav.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) Name() string      { return "flac" }
func (c *Codec) MimeType() string  { return "audio/flac" }
func (c *Codec) Extension() string { return "flac" }
func (c *Codec) Kind() codec.Kind  { return codec.Lossless }

// Available reports whether the configured binary can be found.
func (c *Codec) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Encode converts samples to 16-bit WAV and compresses it with flac.
func (c *Codec) Encode(samples []float32, sampleRate uint32) ([]byte, error) {
	in, err := c.wav.Encode(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	out, err := c.run(in, "-s", "-c", "-")
	if err != nil {
		return nil, &codec.Error{Codec: c.Name(), Op: "encode", Err: err}
	}
	return out, nil
}

// Decode expands data with flac and parses the resulting WAV.
func (c *Codec) Decode(data []byte, sampleRate uint32) ([]float32, error) {
	out, err := c.run(data, "-d", "-s", "-c", "-")
	if err != nil {
		return nil, &codec.Error{Codec: c.Name(), Op: "decode", Err: err}
	}
	return c.wav.Decode(out, sampleRate)
}

func (c *Codec) run(stdin []byte, args ...string) ([]byte, error) {
	var out []byte
	err := c.guard.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		var err error
		out, err = c.runner.Run(ctx, stdin, c.binary, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrExternalCommand, err)
	}
	return out, nil
}
