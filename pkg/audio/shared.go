package audio

import (
	"sync"
	"time"
)

// Shared is the process-wide handle to a [SampleBuffer]. Writers (the
// ingestion task and rate changes) take the exclusive lock; readers take the
// shared lock and therefore see the buffer either fully before or fully after
// a rate change.
//
// All methods are safe for concurrent use.
type Shared struct {
	mu  sync.RWMutex
	buf *SampleBuffer
}

// NewShared wraps buf. The caller must not touch buf directly afterwards.
func NewShared(buf *SampleBuffer) *Shared {
	return &Shared{buf: buf}
}

// Snapshot is a copy of recent samples together with the rate they were
// recorded at, taken under a single read lock.
type Snapshot struct {
	Samples    []float32
	SampleRate uint32
}

// Duration returns the length of the snapshot.
func (s Snapshot) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(s.SampleRate) * float64(time.Second))
}

// Write appends samples under the exclusive lock.
func (s *Shared) Write(samples []float32) {
	s.mu.Lock()
	s.buf.Write(samples)
	s.mu.Unlock()
}

// UpdateSampleRate resamples the buffer to rate under the exclusive lock and
// reports whether anything changed.
func (s *Shared) UpdateSampleRate(rate uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == 0 || rate == s.buf.SampleRate() {
		return false
	}
	s.buf.UpdateSampleRate(rate)
	return true
}

// Read returns the most recent d of audio. See [SampleBuffer.Read].
func (s *Shared) Read(d time.Duration) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.Read(d)
}

// ReadAll returns the whole buffer, oldest first.
func (s *Shared) ReadAll() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.ReadAll()
}

// Snapshot returns the most recent d of audio (the whole buffer when d <= 0)
// and the rate it is expressed in.
func (s *Shared) Snapshot(d time.Duration) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var samples []float32
	if d <= 0 {
		samples = s.buf.ReadAll()
	} else {
		samples = s.buf.Read(d)
	}
	return Snapshot{Samples: samples, SampleRate: s.buf.SampleRate()}
}

// SampleRate returns the buffer's current rate.
func (s *Shared) SampleRate() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.SampleRate()
}

// Capacity returns the buffer's current capacity in samples.
func (s *Shared) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.Capacity()
}

// Duration returns the retained duration at the current rate.
func (s *Shared) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.Duration()
}
