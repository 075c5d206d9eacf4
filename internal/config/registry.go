package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/lifelogger/internal/archive"
	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/pkg/codec"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures.
type (
	CodecFactory func(CodecEntry) (codec.Codec, error)
	HostFactory  func(CaptureConfig) (capture.Host, error)
	SinkFactory  func(ArchiveConfig) (archive.Sink, error)
)

// Registry maps implementation names to constructors for codecs, capture
// backends, and archive sinks. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]CodecFactory
	hosts  map[string]HostFactory
	sinks  map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]CodecFactory),
		hosts:  make(map[string]HostFactory),
		sinks:  make(map[string]SinkFactory),
	}
}

// RegisterCodec registers a codec factory under a codec type name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCodec(typ string, f CodecFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[typ] = f
}

// RegisterHost registers a capture backend factory.
func (r *Registry) RegisterHost(name string, f HostFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = f
}

// RegisterSink registers an archive sink factory.
func (r *Registry) RegisterSink(name string, f SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = f
}

// CreateCodec instantiates the codec type named by entry.Type.
func (r *Registry) CreateCodec(entry CodecEntry) (codec.Codec, error) {
	r.mu.RLock()
	f, ok := r.codecs[entry.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: codec/%q", ErrProviderNotRegistered, entry.Type)
	}
	return f(entry)
}

// CreateHost instantiates the capture backend named by cfg.Backend.
func (r *Registry) CreateHost(cfg CaptureConfig) (capture.Host, error) {
	r.mu.RLock()
	f, ok := r.hosts[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return f(cfg)
}

// CreateSink instantiates the archive sink registered under name.
func (r *Registry) CreateSink(name string, cfg ArchiveConfig) (archive.Sink, error) {
	r.mu.RLock()
	f, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, name)
	}
	return f(cfg)
}

// BuildCodecs creates every configured codec and returns them in a
// [codec.Registry] keyed by entry name. All failures are reported together.
func (r *Registry) BuildCodecs(entries []CodecEntry) (*codec.Registry, error) {
	reg := codec.NewRegistry()
	var errs []error
	for _, e := range entries {
		c, err := r.CreateCodec(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("codec %q: %w", e.Name, err))
			continue
		}
		reg.RegisterAs(e.Name, c)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Names lists registered names per kind, sorted, for startup logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"codec":   slices.Sorted(maps.Keys(r.codecs)),
		"capture": slices.Sorted(maps.Keys(r.hosts)),
		"sink":    slices.Sorted(maps.Keys(r.sinks)),
	}
}

// String summarises the registry for logs.
func (r *Registry) String() string {
	names := r.Names()
	parts := make([]string, 0, 3)
	for _, kind := range []string{"codec", "capture", "sink"} {
		parts = append(parts, kind+": "+strings.Join(names[kind], ","))
	}
	return strings.Join(parts, "; ")
}
