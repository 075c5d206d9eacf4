// Package mock provides a test double for the archive.Sink interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lifelogger/internal/archive"
)

// Sink is a mock implementation of archive.Sink that records every segment.
type Sink struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// SaveErr, if non-nil, is returned by Save.
	SaveErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Saved holds every segment passed to a successful Save.
	Saved []archive.Segment

	SaveCalls  int
	CloseCalls int
}

var _ archive.Sink = (*Sink)(nil)

func (s *Sink) Name() string {
	if s.NameValue == "" {
		return "mock"
	}
	return s.NameValue
}

// Save records seg unless SaveErr is set.
func (s *Sink) Save(ctx context.Context, seg archive.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Saved = append(s.Saved, seg)
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

// Segments returns a copy of the saved segments.
func (s *Sink) Segments() []archive.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.Segment(nil), s.Saved...)
}

// Calls returns the number of Save invocations.
func (s *Sink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SaveCalls
}
