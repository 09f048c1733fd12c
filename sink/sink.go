// Package sink persists the final aggregate document.
//
// A run writes exactly one document. The filesystem sink is the default;
// the S3 sink covers runs whose output must land in object storage,
// including S3-compatible providers.
package sink

import (
	"context"
	"time"

	"github.com/justapithecus/prospector/types"
)

// DocumentName returns the timestamped name for a run's output document.
func DocumentName(at time.Time) string {
	return "projects_" + at.UTC().Format("20060102_150405") + ".json"
}

// Sink stores one aggregate document and reports where it landed.
type Sink interface {
	// Store persists the document under the given name and returns its
	// final location (a path or object URL).
	Store(ctx context.Context, name string, doc *types.AggregateResult) (string, error)

	// Close releases sink resources.
	Close() error
}

// StubSink records stores without persisting. Use for testing.
type StubSink struct {
	Stored []StubRecord
	Closed bool
}

// StubRecord is one recorded store for testing.
type StubRecord struct {
	Name string
	Doc  *types.AggregateResult
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// Store implements Sink.
func (s *StubSink) Store(ctx context.Context, name string, doc *types.AggregateResult) (string, error) {
	s.Stored = append(s.Stored, StubRecord{Name: name, Doc: doc})
	return "stub://" + name, nil
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.Closed = true
	return nil
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)
