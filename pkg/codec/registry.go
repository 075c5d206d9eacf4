package codec

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry maps codec names to instances. Names are matched
// case-insensitively. It is safe for concurrent use, though in practice it is
// filled once in main and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry holding codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Register adds c under c.Name(), replacing any codec of the same name.
func (r *Registry) Register(c Codec) {
	r.RegisterAs(c.Name(), c)
}

// RegisterAs adds c under an alias, e.g. "wav32" for a 32-bit WAV codec.
func (r *Registry) RegisterAs(name string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(name)] = c
}

// Entry is a codec together with the name it is registered under.
type Entry struct {
	Name  string
	Codec Codec
}

// Entries returns every registration ordered by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		if c, ok := r.codecs[n]; ok {
			out = append(out, Entry{Name: n, Codec: c})
		}
	}
	return out
}

// Get returns the codec registered under name.
func (r *Registry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[strings.ToLower(name)]
	return c, ok
}

// Lookup is like Get but returns an error wrapping [ErrUnknownCodec] for
// unregistered names.
func (r *Registry) Lookup(name string) (Codec, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for n := range r.codecs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Codecs returns the registered codecs ordered by name.
func (r *Registry) Codecs() []Codec {
	entries := r.Entries()
	out := make([]Codec, len(entries))
	for i, e := range entries {
		out[i] = e.Codec
	}
	return out
}
