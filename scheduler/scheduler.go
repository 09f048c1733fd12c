// Package scheduler partitions a candidate population into fixed-size
// batches and submits them to the task queue as one fan-out job.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/types"
)

// DefaultBatchSize is used when a caller supplies a nonsensical batch size.
// Bad config self-heals rather than crashing the run.
const DefaultBatchSize = 50

// Partition slices the population into contiguous batches of batchSize.
// The final batch may be shorter. Slicing is deterministic: the same
// population and size always produce the same batches, and concatenating
// the batches reproduces the population order exactly.
func Partition(population []types.Candidate, batchSize int) []types.Batch {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batches := make([]types.Batch, 0, (len(population)+batchSize-1)/batchSize)
	for start := 0; start < len(population); start += batchSize {
		end := start + batchSize
		if end > len(population) {
			end = len(population)
		}
		batches = append(batches, types.Batch{
			Index:      len(batches),
			TaskID:     uuid.New().String(),
			Candidates: population[start:end],
		})
	}
	return batches
}

// Retry produces fresh batches for the given original batches: same
// candidates at the same indices, new task identities.
func Retry(originals []types.Batch) []types.Batch {
	retries := make([]types.Batch, 0, len(originals))
	for _, b := range originals {
		retries = append(retries, types.Batch{
			Index:      b.Index,
			TaskID:     uuid.New().String(),
			Candidates: b.Candidates,
		})
	}
	return retries
}

// Scheduler submits batch jobs to a queue.
type Scheduler struct {
	queue     queue.Queue
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates a scheduler. The collector may be nil.
func New(q queue.Queue, logger *log.Logger, collector *metrics.Collector) *Scheduler {
	return &Scheduler{queue: q, logger: logger, collector: collector}
}

// Submit enqueues the batches as a single fan-out job and returns the
// handle for observing completion.
func (s *Scheduler) Submit(ctx context.Context, batches []types.Batch) (queue.JobHandle, error) {
	handle, err := s.queue.Submit(ctx, batches)
	if err != nil {
		return nil, fmt.Errorf("submit %d batches: %w", len(batches), err)
	}
	s.collector.AddBatchesSubmitted(int64(len(batches)))
	s.logger.Info("batches submitted", map[string]any{
		"job":     handle.JobID(),
		"batches": len(batches),
	})
	return handle, nil
}
