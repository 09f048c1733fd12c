// Package queue provides the distributed task queue boundary between the
// coordinator and its worker processes.
//
// The coordinator submits one task per batch as a single fan-out job and
// receives a JobHandle for observing per-task state without blocking.
// Workers consume tasks from a shared work list, execute them, and write
// structured results back keyed by batch index. Task and result payloads
// travel as msgpack.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/prospector/types"
)

// TaskStatus is the queue-level state of one submitted task.
type TaskStatus string

const (
	// TaskPending means no terminal state has been recorded yet.
	TaskPending TaskStatus = "pending"
	// TaskSucceeded means a structured result is retrievable.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed means the queue recorded an infrastructure-level failure
	// (lost payload, timeout, unserializable result). Per-candidate
	// failures inside a successfully executed batch are NOT task failures.
	TaskFailed TaskStatus = "failed"
)

// TaskState is one task's observed state plus its failure payload, if any.
type TaskState struct {
	Index   int
	Status  TaskStatus
	Failure string
}

// Envelope is the unit placed on the work list.
type Envelope struct {
	JobID string      `msgpack:"job_id"`
	Batch types.Batch `msgpack:"batch"`
}

// ErrResultPending is returned by Result for a task with no terminal state.
var ErrResultPending = errors.New("task result not ready")

// ErrWaitTimeout is returned by Wait when the job does not settle in time.
var ErrWaitTimeout = errors.New("timed out waiting for job results")

// TaskFailedError carries a task's recorded failure payload.
type TaskFailedError struct {
	Index   int
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %d failed: %s", e.Index, e.Message)
}

// JobHandle observes one fan-out job. All methods are safe to call
// repeatedly and never block beyond a single round-trip.
type JobHandle interface {
	// JobID is the job's unique identity.
	JobID() string
	// TotalTasks is the number of tasks submitted with the job.
	TotalTasks() int
	// CompletedCount is the number of settled tasks (succeeded + failed).
	CompletedCount(ctx context.Context) (int, error)
	// TaskStates returns the state of every task, indexed 0..TotalTasks-1.
	TaskStates(ctx context.Context) ([]TaskState, error)
	// Result returns the structured result for one task. ErrResultPending
	// while unsettled; *TaskFailedError when the task failed.
	Result(ctx context.Context, index int) (*types.BatchResult, error)
}

// Queue submits fan-out jobs.
type Queue interface {
	Submit(ctx context.Context, batches []types.Batch) (JobHandle, error)
}

// Runner executes one batch. Implementations must return a well-formed
// result for every input; panics and per-candidate errors are contained
// inside the result, never raised across the task boundary.
type Runner interface {
	Execute(ctx context.Context, batch types.Batch) *types.BatchResult
}

// Wait blocks until every task in the job settles or the timeout elapses,
// then returns the results of all succeeded tasks in index order. Failed
// tasks are skipped: the caller already observed them via TaskStates.
// Returns ErrWaitTimeout (with any results gathered so far) on timeout.
func Wait(ctx context.Context, handle JobHandle, timeout, poll time.Duration) ([]*types.BatchResult, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		completed, err := handle.CompletedCount(ctx)
		if err != nil {
			return nil, err
		}
		if completed >= handle.TotalTasks() {
			break
		}
		if time.Now().After(deadline) {
			results, _ := collectResults(ctx, handle)
			return results, ErrWaitTimeout
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return collectResults(ctx, handle)
}

func collectResults(ctx context.Context, handle JobHandle) ([]*types.BatchResult, error) {
	results := make([]*types.BatchResult, 0, handle.TotalTasks())
	for i := 0; i < handle.TotalTasks(); i++ {
		result, err := handle.Result(ctx, i)
		if err != nil {
			var failed *TaskFailedError
			if errors.Is(err, ErrResultPending) || errors.As(err, &failed) {
				continue
			}
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
