// Package aggregate merges per-batch results into the run's final output.
//
// It also owns the one-shot retry pass: failed tasks are resubmitted as a
// fresh job and the retry job's results supersede the originals at the same
// batch indices. Tasks still failing after the retry are simply absent from
// the aggregate; their candidates are unaccounted.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/monitor"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/scheduler"
	"github.com/justapithecus/prospector/types"
)

const (
	// DefaultCollectTimeout bounds the final result-gathering pass.
	DefaultCollectTimeout = 60 * time.Minute
	// DefaultCollectPoll is the poll interval while gathering results.
	DefaultCollectPoll = 2 * time.Second
	// DefaultRetryWatch bounds the retry job's monitoring pass. Shorter than
	// the main watch: a retry covers a small fraction of the batches.
	DefaultRetryWatch = time.Hour
)

// Config configures the aggregator.
type Config struct {
	CollectTimeout time.Duration
	CollectPoll    time.Duration
	RetryWatch     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = DefaultCollectTimeout
	}
	if c.CollectPoll <= 0 {
		c.CollectPoll = DefaultCollectPoll
	}
	if c.RetryWatch <= 0 {
		c.RetryWatch = DefaultRetryWatch
	}
	return c
}

// Aggregator retries failed tasks and folds batch results into one document.
type Aggregator struct {
	config    Config
	queue     queue.Queue
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates an aggregator. Collector may be nil.
func New(config Config, q queue.Queue, logger *log.Logger, collector *metrics.Collector) *Aggregator {
	return &Aggregator{
		config:    config.withDefaults(),
		queue:     q,
		logger:    logger,
		collector: collector,
	}
}

// RetryFailed resubmits every failed task from the job as a fresh job and
// returns a handle whose results prefer the retry at each retried index.
// When no tasks failed the original handle is returned unchanged.
func (a *Aggregator) RetryFailed(ctx context.Context, handle queue.JobHandle, originals []types.Batch) (queue.JobHandle, error) {
	states, err := handle.TaskStates(ctx)
	if err != nil {
		return handle, err
	}

	byIndex := make(map[int]types.Batch, len(originals))
	for _, batch := range originals {
		byIndex[batch.Index] = batch
	}

	var failed []types.Batch
	for _, state := range states {
		if state.Status != queue.TaskFailed {
			continue
		}
		if batch, ok := byIndex[state.Index]; ok {
			failed = append(failed, batch)
		}
	}
	if len(failed) == 0 {
		return handle, nil
	}

	a.logger.Info("retrying failed batches", map[string]any{"count": len(failed)})
	a.collector.AddBatchesRetried(int64(len(failed)))

	retryHandle, err := a.queue.Submit(ctx, scheduler.Retry(failed))
	if err != nil {
		return handle, err
	}

	watch := monitor.New(monitor.Config{
		IdleTimeout:     a.config.RetryWatch,
		AbsoluteTimeout: a.config.RetryWatch,
	}, a.logger.Named("retry"), a.collector)
	outcome := watch.Watch(ctx, retryHandle)
	a.logger.Info("retry pass finished", map[string]any{
		"reason":    string(outcome.Reason),
		"completed": outcome.Completed,
		"total":     outcome.Total,
	})

	retried := make(map[int]int, len(failed))
	for pos, batch := range failed {
		retried[batch.Index] = pos
	}
	indexes := make([]int, len(states))
	for pos, state := range states {
		indexes[pos] = state.Index
	}
	return &splicedHandle{original: handle, retry: retryHandle, retried: retried, indexes: indexes}, nil
}

// Aggregate gathers every available batch result and folds it into the
// final document. A wait timeout is not fatal: whatever settled is used.
func (a *Aggregator) Aggregate(ctx context.Context, handle queue.JobHandle) (*types.AggregateResult, error) {
	results, err := queue.Wait(ctx, handle, a.config.CollectTimeout, a.config.CollectPoll)
	if err != nil {
		if !errors.Is(err, queue.ErrWaitTimeout) {
			return nil, err
		}
		a.logger.Warn("result collection timed out, aggregating partial results", map[string]any{
			"gathered": len(results),
			"total":    handle.TotalTasks(),
		})
	}

	out := Fold(results)
	a.collector.AbsorbAggregate(
		int64(out.CheckedUsers),
		int64(out.SuccessfulUsers),
		int64(out.FilteredUsers),
		int64(out.FailedUsers),
		int64(out.TotalProjects),
	)
	return out, nil
}

// Fold sums batch results into one AggregateResult. Counter arithmetic is
// exact: failure counts merge per reason, and a batch that never populated
// its checked counter contributes its batch size instead.
func Fold(results []*types.BatchResult) *types.AggregateResult {
	out := &types.AggregateResult{
		FailureCounts: make(map[types.FailureReason]int, len(types.FailureReasons)),
		Projects:      []types.Repo{},
		CollectedAt:   time.Now().UTC(),
	}
	for _, reason := range types.FailureReasons {
		out.FailureCounts[reason] = 0
	}

	for _, result := range results {
		if result == nil {
			continue
		}
		out.CheckedUsers += result.Checked()
		out.SuccessfulUsers += result.SuccessfulUsers
		out.FilteredUsers += result.FilteredUsers
		out.FailedUsers += result.FailedUsers
		for reason, count := range result.FailureCounts {
			out.FailureCounts[reason] += count
		}
		out.Projects = append(out.Projects, result.Repos...)
	}

	out.SortProjects()
	out.TotalProjects = len(out.Projects)
	for _, project := range out.Projects {
		out.TotalStars += project.Stars
	}
	return out
}

// splicedHandle overlays a retry job on its original: any task whose batch
// index was retried reads from the retry job, everything else from the
// original. One task per batch index, never both.
type splicedHandle struct {
	original queue.JobHandle
	retry    queue.JobHandle
	retried  map[int]int
	indexes  []int
}

func (h *splicedHandle) JobID() string {
	return h.original.JobID()
}

func (h *splicedHandle) TotalTasks() int {
	return h.original.TotalTasks()
}

func (h *splicedHandle) CompletedCount(ctx context.Context) (int, error) {
	states, err := h.TaskStates(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, state := range states {
		if state.Status != queue.TaskPending {
			settled++
		}
	}
	return settled, nil
}

func (h *splicedHandle) TaskStates(ctx context.Context) ([]queue.TaskState, error) {
	states, err := h.original.TaskStates(ctx)
	if err != nil {
		return nil, err
	}
	if len(h.retried) == 0 {
		return states, nil
	}
	retryStates, err := h.retry.TaskStates(ctx)
	if err != nil {
		return nil, err
	}
	retryByIndex := make(map[int]queue.TaskState, len(retryStates))
	for _, state := range retryStates {
		retryByIndex[state.Index] = state
	}
	for i, state := range states {
		if _, ok := h.retried[state.Index]; !ok {
			continue
		}
		if override, ok := retryByIndex[state.Index]; ok {
			states[i] = override
		}
	}
	return states, nil
}

func (h *splicedHandle) Result(ctx context.Context, index int) (*types.BatchResult, error) {
	if index >= 0 && index < len(h.indexes) {
		if pos, ok := h.retried[h.indexes[index]]; ok {
			return h.retry.Result(ctx, pos)
		}
	}
	return h.original.Result(ctx, index)
}

var _ queue.JobHandle = (*splicedHandle)(nil)
