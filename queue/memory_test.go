package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/prospector/types"
)

// sequenceRunner produces one trivial result per batch, optionally failing
// or panicking for configured batch indexes.
type sequenceRunner struct {
	mu       sync.Mutex
	executed []int
	nilFor   map[int]bool
	panicFor map[int]bool
}

func (r *sequenceRunner) Execute(_ context.Context, batch types.Batch) *types.BatchResult {
	r.mu.Lock()
	r.executed = append(r.executed, batch.Index)
	r.mu.Unlock()

	if r.panicFor[batch.Index] {
		panic("simulated task crash")
	}
	if r.nilFor[batch.Index] {
		return nil
	}

	result := types.NewBatchResult(batch.Index, batch.Size())
	result.CheckedUsers = batch.Size()
	result.SuccessfulUsers = batch.Size()
	result.CompletedAt = time.Now().UTC()
	return result
}

func makeBatches(n, size int) []types.Batch {
	batches := make([]types.Batch, n)
	for i := range batches {
		candidates := make([]types.Candidate, size)
		for j := range candidates {
			candidates[j] = "user"
		}
		batches[i] = types.Batch{Index: i, TaskID: "task", Candidates: candidates}
	}
	return batches
}

func waitSettled(t *testing.T, handle JobHandle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		completed, err := handle.CompletedCount(context.Background())
		if err != nil {
			t.Fatalf("CompletedCount() error = %v", err)
		}
		if completed >= handle.TotalTasks() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not settle: %d/%d", completed, handle.TotalTasks())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryQueue_SubmitRejectsEmptyJob(t *testing.T) {
	q := NewMemoryQueue(&sequenceRunner{}, 2)
	if _, err := q.Submit(context.Background(), nil); err == nil {
		t.Error("Submit(nil) error = nil, want non-nil")
	}
}

func TestMemoryQueue_ResultsKeyedByBatchIndex(t *testing.T) {
	runner := &sequenceRunner{}
	q := NewMemoryQueue(runner, 4)

	handle, err := q.Submit(context.Background(), makeBatches(6, 3))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitSettled(t, handle)

	if handle.TotalTasks() != 6 {
		t.Errorf("TotalTasks() = %d, want 6", handle.TotalTasks())
	}
	for i := 0; i < 6; i++ {
		result, err := handle.Result(context.Background(), i)
		if err != nil {
			t.Fatalf("Result(%d) error = %v", i, err)
		}
		if result.BatchIndex != i {
			t.Errorf("Result(%d).BatchIndex = %d, want %d", i, result.BatchIndex, i)
		}
		if result.CheckedUsers != 3 {
			t.Errorf("Result(%d).CheckedUsers = %d, want 3", i, result.CheckedUsers)
		}
	}
}

func TestMemoryQueue_ResultPendingBeforeSettle(t *testing.T) {
	block := make(chan struct{})
	runner := &blockingRunner{release: block}
	q := NewMemoryQueue(runner, 1)

	handle, err := q.Submit(context.Background(), makeBatches(1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := handle.Result(context.Background(), 0); !errors.Is(err, ErrResultPending) {
		t.Errorf("Result(0) before settle error = %v, want ErrResultPending", err)
	}

	close(block)
	waitSettled(t, handle)
	if _, err := handle.Result(context.Background(), 0); err != nil {
		t.Errorf("Result(0) after settle error = %v", err)
	}
}

type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Execute(_ context.Context, batch types.Batch) *types.BatchResult {
	<-r.release
	return types.NewBatchResult(batch.Index, batch.Size())
}

func TestMemoryQueue_NilResultBecomesTaskFailure(t *testing.T) {
	runner := &sequenceRunner{nilFor: map[int]bool{1: true}}
	q := NewMemoryQueue(runner, 2)

	handle, err := q.Submit(context.Background(), makeBatches(3, 2))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitSettled(t, handle)

	states, err := handle.TaskStates(context.Background())
	if err != nil {
		t.Fatalf("TaskStates() error = %v", err)
	}
	wantStatus := []TaskStatus{TaskSucceeded, TaskFailed, TaskSucceeded}
	for i, state := range states {
		if state.Status != wantStatus[i] {
			t.Errorf("TaskStates()[%d].Status = %q, want %q", i, state.Status, wantStatus[i])
		}
	}

	var failed *TaskFailedError
	if _, err := handle.Result(context.Background(), 1); !errors.As(err, &failed) {
		t.Fatalf("Result(1) error = %v, want *TaskFailedError", err)
	}
	if failed.Index != 1 {
		t.Errorf("TaskFailedError.Index = %d, want 1", failed.Index)
	}
}

func TestMemoryQueue_PanicBecomesTaskFailure(t *testing.T) {
	runner := &sequenceRunner{panicFor: map[int]bool{0: true}}
	q := NewMemoryQueue(runner, 1)

	handle, err := q.Submit(context.Background(), makeBatches(2, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitSettled(t, handle)

	states, err := handle.TaskStates(context.Background())
	if err != nil {
		t.Fatalf("TaskStates() error = %v", err)
	}
	if states[0].Status != TaskFailed {
		t.Errorf("TaskStates()[0].Status = %q, want %q", states[0].Status, TaskFailed)
	}
	if states[0].Failure == "" {
		t.Error("TaskStates()[0].Failure is empty, want panic message")
	}
	if states[1].Status != TaskSucceeded {
		t.Errorf("TaskStates()[1].Status = %q, want %q", states[1].Status, TaskSucceeded)
	}
}

func TestMemoryQueue_ResultRejectsOutOfRangePosition(t *testing.T) {
	q := NewMemoryQueue(&sequenceRunner{}, 1)
	handle, err := q.Submit(context.Background(), makeBatches(2, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitSettled(t, handle)

	if _, err := handle.Result(context.Background(), -1); err == nil {
		t.Error("Result(-1) error = nil, want non-nil")
	}
	if _, err := handle.Result(context.Background(), 2); err == nil {
		t.Error("Result(2) error = nil, want non-nil")
	}
}

func TestWait_ReturnsSucceededResultsInIndexOrder(t *testing.T) {
	runner := &sequenceRunner{nilFor: map[int]bool{2: true}}
	q := NewMemoryQueue(runner, 4)

	handle, err := q.Submit(context.Background(), makeBatches(5, 2))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	results, err := Wait(context.Background(), handle, 5*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	want := []int{0, 1, 3, 4}
	if len(results) != len(want) {
		t.Fatalf("Wait() returned %d results, want %d", len(results), len(want))
	}
	for i, result := range results {
		if result.BatchIndex != want[i] {
			t.Errorf("results[%d].BatchIndex = %d, want %d", i, result.BatchIndex, want[i])
		}
	}
}

func TestWait_TimesOutWithPartialResults(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := &blockingRunner{release: block}
	q := NewMemoryQueue(runner, 1)

	handle, err := q.Submit(context.Background(), makeBatches(2, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	results, err := Wait(context.Background(), handle, 20*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("Wait() error = %v, want ErrWaitTimeout", err)
	}
	if len(results) != 0 {
		t.Errorf("Wait() returned %d results on timeout, want 0", len(results))
	}
}

func TestWait_CanceledContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := &blockingRunner{release: block}
	q := NewMemoryQueue(runner, 1)

	handle, err := q.Submit(context.Background(), makeBatches(1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Wait(ctx, handle, time.Second, 5*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
