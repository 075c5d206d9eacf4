package ingest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lifelogger/internal/capture"
	"github.com/MrWong99/lifelogger/internal/capture/mock"
	"github.com/MrWong99/lifelogger/pkg/audio"
)

func TestRun_WritesBlocksToBuffer(t *testing.T) {
	t.Parallel()
	h, _ := testHub(t)
	buf := audio.NewShared(audio.NewSampleBuffer(4, 4))
	sub := h.Subscribe("buffer")
	var stats Stats

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, sub, buf, &stats) }()

	_ = h.Publish(audio.Block{Samples: []float32{1, 2, 3}, Channels: 1, SampleRate: 4})
	_ = h.Publish(audio.Block{Samples: []float32{4, 5}, Channels: 1, SampleRate: 4})

	deadline := time.Now().Add(2 * time.Second)
	for stats.Blocks() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("blocks not ingested")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	if got := buf.ReadAll(); !slices.Equal(got, []float32{2, 3, 4, 5}) {
		t.Errorf("ReadAll = %v, want [2 3 4 5]", got)
	}
	if stats.Samples() != 5 {
		t.Errorf("Samples = %d, want 5", stats.Samples())
	}
}

func TestRun_DownmixesAndResamples(t *testing.T) {
	t.Parallel()
	h, _ := testHub(t)
	buf := audio.NewShared(audio.NewSampleBuffer(8, 8))
	sub := h.Subscribe("buffer")

	// Stereo at twice the buffer rate: 4 frames become 2 mono samples.
	_ = h.Publish(audio.Block{
		Samples:    []float32{1, 0, 1, 0, 1, 0, 1, 0},
		Channels:   2,
		SampleRate: 16,
	})
	h.Close()

	var stats Stats
	if err := Run(context.Background(), sub, buf, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Samples() != 2 {
		t.Fatalf("Samples = %d, want 2", stats.Samples())
	}
	got := buf.Read(250 * time.Millisecond)
	for _, v := range got {
		if v != 0.5 {
			t.Errorf("sample = %v, want 0.5 (stereo average)", v)
		}
	}
}

func TestRun_FlushesQueueOnHubClose(t *testing.T) {
	t.Parallel()
	h, _ := testHub(t)
	buf := audio.NewShared(audio.NewSampleBuffer(3, 3))
	sub := h.Subscribe("buffer")
	for _, v := range []float32{1, 2, 3} {
		_ = h.Publish(audio.Block{Samples: []float32{v}, Channels: 1, SampleRate: 3})
	}
	h.Close()

	if err := Run(context.Background(), sub, buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.ReadAll(); !slices.Equal(got, []float32{1, 2, 3}) {
		t.Errorf("ReadAll = %v", got)
	}
}

func TestRun_SkipsEmptyBlocks(t *testing.T) {
	t.Parallel()
	h, _ := testHub(t)
	buf := audio.NewShared(audio.NewSampleBuffer(2, 2))
	sub := h.Subscribe("buffer")
	_ = h.Publish(audio.Block{Channels: 1, SampleRate: 2})
	h.Close()

	var stats Stats
	_ = Run(context.Background(), sub, buf, &stats)
	if stats.Blocks() != 0 {
		t.Errorf("Blocks = %d, want 0", stats.Blocks())
	}
}

func TestStart_ReturnsWithoutDevices(t *testing.T) {
	t.Parallel()
	h, _ := testHub(t)
	buf := audio.NewShared(audio.NewSampleBuffer(4, 4))
	host := &mock.Host{}
	mgr, err := capture.NewManager(capture.Config{
		Host:             host,
		Hub:              h,
		Buffer:           buf,
		NegotiateBackoff: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var stats Stats
	begin := time.Now()
	done := Start(ctx, h, buf, mgr, &stats)
	if d := time.Since(begin); d > 100*time.Millisecond {
		t.Errorf("Start blocked for %s", d)
	}
	if h.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1 after Start", h.Subscribers())
	}

	deadline := time.Now().Add(2 * time.Second)
	for host.DevicesCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("capture loop did not retry enumeration")
		}
		time.Sleep(time.Millisecond)
	}

	// Ingestion runs alongside the idle capture loop.
	_ = h.Publish(audio.Block{Samples: []float32{0.5}, Channels: 1, SampleRate: 4})
	for stats.Blocks() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("block not ingested")
		}
		time.Sleep(time.Millisecond)
	}
	if got := buf.ReadAll(); !slices.Equal(got, []float32{0, 0, 0, 0.5}) {
		t.Errorf("ReadAll = %v, want [0 0 0 0.5]", got)
	}

	select {
	case <-done:
		t.Fatal("done closed before cancel")
	default:
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
