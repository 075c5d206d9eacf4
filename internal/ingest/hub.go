// Package ingest moves captured audio from the capture manager into the
// shared sample buffer.
//
// A [Hub] broadcasts every published [audio.Block] to its subscribers. Each
// subscriber owns a bounded queue; a subscriber that falls behind loses its
// oldest blocks instead of stalling the publisher, which runs on the audio
// device's realtime thread. [Run] is the subscriber that writes into the
// buffer.
package ingest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lifelogger/internal/observe"
	"github.com/MrWong99/lifelogger/pkg/audio"
)

// DefaultQueueSize is the per-subscriber queue length in blocks.
const DefaultQueueSize = 1024

var (
	// ErrHubClosed is returned by Publish after Close.
	ErrHubClosed = errors.New("ingest: hub closed")

	// ErrNoSubscribers is returned by Publish when nobody is listening.
	ErrNoSubscribers = errors.New("ingest: no subscribers")
)

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue length. Values below 1 are
// ignored.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMetrics records drops on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub is a lossy broadcast channel for audio blocks.
//
// Publish is lock-free and never blocks, so it may be called from a device
// callback. Subscribe and Close are safe for concurrent use.
type Hub struct {
	queueSize int
	metrics   *observe.Metrics

	subs atomic.Pointer[[]*Subscription]

	mu        sync.Mutex // serialises changes to subs
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewHub creates an open hub with no subscribers.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.metrics = observe.OrDefault(h.metrics)
	h.subs.Store(&[]*Subscription{})
	return h
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	name    string
	hub     *Hub
	ch      chan audio.Block
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Subscribe registers a consumer. name labels drop metrics. Subscribing to a
// closed hub returns a subscription whose Done channel is already closed.
func (h *Hub) Subscribe(name string) *Subscription {
	s := &Subscription{
		name: name,
		hub:  h,
		ch:   make(chan audio.Block, h.queueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		s.stop()
		return s
	}
	next := append(slices.Clone(*h.subs.Load()), s)
	h.subs.Store(&next)
	return s
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	return len(*h.subs.Load())
}

// Publish offers b to every subscriber. A full queue drops its oldest block
// to make room. b.Samples is shared by all subscribers and must not be
// modified afterwards.
func (h *Hub) Publish(b audio.Block) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	subs := *h.subs.Load()
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	for _, s := range subs {
		s.offer(b)
	}
	return nil
}

// Close stops the hub. Every subscription's Done channel is closed; blocks
// already queued stay readable.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed.Store(true)
		close(h.done)
		for _, s := range *h.subs.Load() {
			s.stop()
		}
		h.subs.Store(&[]*Subscription{})
	})
}

// Done is closed by Close.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := *h.subs.Load()
	i := slices.Index(cur, s)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	h.subs.Store(&next)
}

func (s *Subscription) offer(b audio.Block) {
	for {
		select {
		case s.ch <- b:
			return
		default:
		}
		// Full: discard the oldest block and try again. A concurrent reader
		// may have emptied a slot in between, in which case nothing is lost.
		select {
		case <-s.ch:
			s.dropped.Add(1)
			s.hub.metrics.HubDroppedBlocks.Add(context.Background(), 1,
				metric.WithAttributes(observe.Attr("subscriber", s.name)))
		default:
		}
	}
}

// C delivers blocks in publish order.
func (s *Subscription) C() <-chan audio.Block { return s.ch }

// Done is closed when the subscription is cancelled or the hub closes.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many blocks this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Name returns the label passed to Subscribe.
func (s *Subscription) Name() string { return s.name }

// Close unsubscribes. The queue is not closed; select on Done to stop
// reading.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
