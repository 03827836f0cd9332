package usage

import (
	"context"
	"sync"
	"time"
)

// Sink persists usage events.
type Sink interface {
	// Store writes one event.
	Store(ctx context.Context, ev *Event) error

	// Query returns events for a principal recorded at or after since,
	// newest first. An empty principalID matches all principals.
	Query(ctx context.Context, principalID string, since time.Time, limit int) ([]*Event, error)

	// Prune deletes events recorded before cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the sink's resources.
	Close() error
}

// MemorySink keeps events in memory. Suitable for tests and for
// deployments that only need the journal for live inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Store(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *ev
	s.events = append(s.events, &clone)
	return nil
}

func (s *MemorySink) Query(ctx context.Context, principalID string, since time.Time, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if principalID != "" && ev.PrincipalID != principalID {
			continue
		}
		if ev.Timestamp.Before(since) {
			continue
		}
		clone := *ev
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

func (s *MemorySink) Close() error { return nil }
