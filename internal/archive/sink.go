// Package archive periodically persists the most recent audio to one or more
// sinks (local disk, PostgreSQL).
//
// An [Archiver] wakes every interval, snapshots exactly one interval of audio
// from the shared buffer, encodes it with the configured codec and hands the
// resulting [Segment] to every [Sink] concurrently. Each sink sits behind its
// own circuit breaker so a dead database does not slow down the disk copy.
package archive

import (
	"context"
	"time"
)

// Segment is one encoded slice of the buffer ready to be stored.
type Segment struct {
	// Start is the wall-clock time of the first sample.
	Start time.Time

	// Duration of the audio contained in Data.
	Duration time.Duration

	// Format is the codec name the segment was encoded with.
	Format string

	// Extension and MimeType describe Data for file names and headers.
	Extension string
	MimeType  string

	// SampleRate of the encoded audio in Hz.
	SampleRate uint32

	// Data is the encoded payload.
	Data []byte
}

// End returns Start plus Duration.
func (s Segment) End() time.Time { return s.Start.Add(s.Duration) }

// Sink stores segments. Implementations must be safe for concurrent use.
type Sink interface {
	// Name labels metrics, breakers and logs, e.g. "disk".
	Name() string

	// Save persists seg. It must honour ctx cancellation.
	Save(ctx context.Context, seg Segment) error

	// Close releases resources held by the sink.
	Close() error
}
