package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/justapithecus/prospector/types"
)

// MemoryQueue executes tasks in-process with a bounded worker pool. It is
// used by tests and by single-process runs where a broker is overkill; the
// handle semantics match the Redis transport exactly.
type MemoryQueue struct {
	runner   Runner
	parallel int

	mu   sync.Mutex
	jobs int
}

// NewMemoryQueue creates an in-process queue. parallel <= 0 runs one
// worker.
func NewMemoryQueue(runner Runner, parallel int) *MemoryQueue {
	if parallel <= 0 {
		parallel = 1
	}
	return &MemoryQueue{runner: runner, parallel: parallel}
}

// Submit launches the batches on the pool and returns immediately; the
// handle observes results as workers settle them.
func (q *MemoryQueue) Submit(ctx context.Context, batches []types.Batch) (JobHandle, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("submit requires at least one batch")
	}

	q.mu.Lock()
	q.jobs++
	jobID := fmt.Sprintf("mem-job-%d", q.jobs)
	q.mu.Unlock()

	handle := &memoryHandle{
		jobID:    jobID,
		indexes:  batchIndexes(batches),
		results:  make(map[int]*types.BatchResult),
		failures: make(map[int]string),
	}

	sem := make(chan struct{}, q.parallel)
	for _, batch := range batches {
		go func(b types.Batch) {
			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				if r := recover(); r != nil {
					handle.settleFailure(b.Index, fmt.Sprintf("panic: %v", r))
				}
			}()

			result := q.runner.Execute(ctx, b)
			if result == nil {
				handle.settleFailure(b.Index, "runner returned no result")
				return
			}
			handle.settleResult(b.Index, result)
		}(batch)
	}

	return handle, nil
}

type memoryHandle struct {
	jobID   string
	indexes []int

	mu       sync.Mutex
	results  map[int]*types.BatchResult
	failures map[int]string
}

func (h *memoryHandle) settleResult(index int, result *types.BatchResult) {
	h.mu.Lock()
	h.results[index] = result
	h.mu.Unlock()
}

func (h *memoryHandle) settleFailure(index int, message string) {
	h.mu.Lock()
	h.failures[index] = message
	h.mu.Unlock()
}

func (h *memoryHandle) JobID() string {
	return h.jobID
}

func (h *memoryHandle) TotalTasks() int {
	return len(h.indexes)
}

func (h *memoryHandle) CompletedCount(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results) + len(h.failures), nil
}

func (h *memoryHandle) TaskStates(context.Context) ([]TaskState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	states := make([]TaskState, 0, len(h.indexes))
	for _, batchIndex := range h.indexes {
		state := TaskState{Index: batchIndex, Status: TaskPending}
		if _, ok := h.results[batchIndex]; ok {
			state.Status = TaskSucceeded
		} else if message, ok := h.failures[batchIndex]; ok {
			state.Status = TaskFailed
			state.Failure = message
		}
		states = append(states, state)
	}
	return states, nil
}

func (h *memoryHandle) Result(_ context.Context, index int) (*types.BatchResult, error) {
	if index < 0 || index >= len(h.indexes) {
		return nil, fmt.Errorf("task position %d out of range [0,%d)", index, len(h.indexes))
	}
	batchIndex := h.indexes[index]

	h.mu.Lock()
	defer h.mu.Unlock()

	if result, ok := h.results[batchIndex]; ok {
		return result, nil
	}
	if message, ok := h.failures[batchIndex]; ok {
		return nil, &TaskFailedError{Index: batchIndex, Message: message}
	}
	return nil, ErrResultPending
}

// String aids test failure messages.
func (h *memoryHandle) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "job %s: %d/%d settled", h.jobID, len(h.results)+len(h.failures), len(h.indexes))
	return b.String()
}

var (
	_ Queue     = (*MemoryQueue)(nil)
	_ JobHandle = (*memoryHandle)(nil)
)
