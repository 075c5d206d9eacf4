package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lifelogger/pkg/audio"
)

// Writer is the buffer side of ingestion; [audio.Shared] implements it.
type Writer interface {
	SampleRate() uint32
	Write(samples []float32)
}

// Stats counts what an ingestion task has written.
type Stats struct {
	blocks  atomic.Uint64
	samples atomic.Uint64
}

// Blocks returns the number of blocks written.
func (s *Stats) Blocks() uint64 { return s.blocks.Load() }

// Samples returns the number of mono samples written.
func (s *Stats) Samples() uint64 { return s.samples.Load() }

// Run writes every block from sub into w until ctx is done or the
// subscription ends. Blocks are downmixed to mono and resampled to the
// buffer's current rate, so blocks left over from a previous device session
// still land at the right speed. stats may be nil.
//
// Run is the buffer's only writer during normal operation.
func Run(ctx context.Context, sub *Subscription, w Writer, stats *Stats) error {
	log := slog.With("component", "ingest", "subscriber", sub.Name())
	log.Debug("ingestion started")
	defer log.Debug("ingestion stopped", "dropped", sub.Dropped())

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-sub.C():
			write(w, b, stats)
		case <-sub.Done():
			// Flush what was queued before the hub closed.
			for {
				select {
				case b := <-sub.C():
					write(w, b, stats)
				default:
					return nil
				}
			}
		}
	}
}

func write(w Writer, b audio.Block, stats *Stats) {
	if len(b.Samples) == 0 {
		return
	}
	mono := b.MonoAt(w.SampleRate())
	w.Write(mono)
	if stats != nil {
		stats.blocks.Add(1)
		stats.samples.Add(uint64(len(mono)))
	}
}

// Runner is a capture loop; [capture.Manager] implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// Start subscribes a "buffer" consumer to h, then runs ingestion into w and
// the capture loop in the background. It returns immediately, even when no
// device is available. The returned channel is closed once both have exited
// after ctx is done. stats may be nil.
func Start(ctx context.Context, h *Hub, w Writer, loop Runner, stats *Stats) <-chan struct{} {
	// Subscribed before capture starts so the first block has a consumer.
	sub := h.Subscribe("buffer")
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() { _ = Run(ctx, sub, w, stats) })
	wg.Go(func() { _ = loop.Run(ctx) })
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
