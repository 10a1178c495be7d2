package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Compile-time check that MemorySink implements Sink.
var _ Sink = (*MemorySink)(nil)

// MemorySink is an in-memory Sink for tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the entry.
func (s *MemorySink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)

	return nil
}

// Entries returns a copy of all recorded entries in append order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)

	return out
}

// Compile-time check that MultiSink implements Sink.
var _ Sink = (*MultiSink)(nil)

// MultiSink fans each entry out to every wrapped sink. All sinks are
// attempted even when one fails, so a broken secondary sink (e.g. an event
// stream) never loses the primary audit record.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record appends the entry to every sink, joining any errors.
func (s *MultiSink) Record(ctx context.Context, entry Entry) error {
	var errs []error

	for _, sink := range s.sinks {
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("journal sink %T: %w", sink, err))
		}
	}

	return errors.Join(errs...)
}
