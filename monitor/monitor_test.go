package monitor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/types"
)

func testLogger() *log.Logger {
	return log.NewLogger("test-run", "monitor").WithOutput(io.Discard)
}

// scriptedHandle replays a sequence of completion counts, one per
// CompletedCount call, holding the last value once exhausted.
type scriptedHandle struct {
	mu        sync.Mutex
	jobID     string
	total     int
	completed []int
	calls     int
	states    []queue.TaskState
}

func (h *scriptedHandle) JobID() string   { return h.jobID }
func (h *scriptedHandle) TotalTasks() int { return h.total }

func (h *scriptedHandle) CompletedCount(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.calls
	if i >= len(h.completed) {
		i = len(h.completed) - 1
	}
	h.calls++
	return h.completed[i], nil
}

func (h *scriptedHandle) TaskStates(context.Context) ([]queue.TaskState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]queue.TaskState(nil), h.states...), nil
}

func (h *scriptedHandle) Result(context.Context, int) (*types.BatchResult, error) {
	return nil, queue.ErrResultPending
}

// progressRecorder captures observer callbacks.
type progressRecorder struct {
	mu    sync.Mutex
	calls [][3]int
}

func (r *progressRecorder) Progress(completed, total, failed int, _ time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, [3]int{completed, total, failed})
	r.mu.Unlock()
}

func fastConfig() Config {
	return Config{
		PollInterval:    time.Millisecond,
		IdleTimeout:     time.Second,
		AbsoluteTimeout: 5 * time.Second,
	}
}

func pendingStates(total int) []queue.TaskState {
	states := make([]queue.TaskState, total)
	for i := range states {
		states[i] = queue.TaskState{Index: i, Status: queue.TaskPending}
	}
	return states
}

func TestMonitor_WatchUntilCompleted(t *testing.T) {
	handle := &scriptedHandle{
		jobID:     "job-1",
		total:     4,
		completed: []int{0, 2, 4},
		states:    pendingStates(4),
	}
	m := New(fastConfig(), testLogger(), nil)

	outcome := m.Watch(context.Background(), handle)

	if outcome.Reason != StopCompleted {
		t.Errorf("Reason = %q, want %q", outcome.Reason, StopCompleted)
	}
	if outcome.Completed != 4 {
		t.Errorf("Completed = %d, want 4", outcome.Completed)
	}
	if outcome.Total != 4 {
		t.Errorf("Total = %d, want 4", outcome.Total)
	}
}

func TestMonitor_WatchIdleTimeout(t *testing.T) {
	handle := &scriptedHandle{
		jobID:     "job-stuck",
		total:     4,
		completed: []int{2},
		states:    pendingStates(4),
	}
	cfg := fastConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	m := New(cfg, testLogger(), nil)

	start := time.Now()
	outcome := m.Watch(context.Background(), handle)

	if outcome.Reason != StopIdleTimeout {
		t.Errorf("Reason = %q, want %q", outcome.Reason, StopIdleTimeout)
	}
	if outcome.Completed != 2 {
		t.Errorf("Completed = %d, want 2", outcome.Completed)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("idle timeout took %v, want well under a second", elapsed)
	}
}

func TestMonitor_WatchAbsoluteTimeout(t *testing.T) {
	// Completion keeps creeping so the idle timer never fires.
	creep := make([]int, 200)
	for i := range creep {
		creep[i] = i
	}
	handle := &scriptedHandle{
		jobID:     "job-slow",
		total:     1000,
		completed: creep,
		states:    pendingStates(4),
	}
	cfg := fastConfig()
	cfg.IdleTimeout = time.Minute
	cfg.AbsoluteTimeout = 20 * time.Millisecond
	m := New(cfg, testLogger(), nil)

	outcome := m.Watch(context.Background(), handle)
	if outcome.Reason != StopAbsoluteTimeout {
		t.Errorf("Reason = %q, want %q", outcome.Reason, StopAbsoluteTimeout)
	}
}

func TestMonitor_WatchCanceled(t *testing.T) {
	handle := &scriptedHandle{
		jobID:     "job-canceled",
		total:     4,
		completed: []int{1},
		states:    pendingStates(4),
	}
	m := New(fastConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := m.Watch(ctx, handle)

	if outcome.Reason != StopCanceled {
		t.Errorf("Reason = %q, want %q", outcome.Reason, StopCanceled)
	}
}

func TestMonitor_WatchCountsFailedTasks(t *testing.T) {
	states := pendingStates(4)
	states[1] = queue.TaskState{Index: 1, Status: queue.TaskFailed, Failure: "lost payload"}
	states[3] = queue.TaskState{Index: 3, Status: queue.TaskFailed, Failure: "timeout"}
	handle := &scriptedHandle{
		jobID:     "job-failures",
		total:     4,
		completed: []int{2, 2, 4},
		states:    states,
	}
	m := New(fastConfig(), testLogger(), nil)

	outcome := m.Watch(context.Background(), handle)
	if outcome.Reason != StopCompleted {
		t.Errorf("Reason = %q, want %q", outcome.Reason, StopCompleted)
	}
	if outcome.Failed != 2 {
		t.Errorf("Failed = %d, want 2: each failed task surfaces exactly once", outcome.Failed)
	}
}

func TestMonitor_ObserverSeesProgress(t *testing.T) {
	handle := &scriptedHandle{
		jobID:     "job-observed",
		total:     2,
		completed: []int{0, 1, 2},
		states:    pendingStates(2),
	}
	recorder := &progressRecorder{}
	m := New(fastConfig(), testLogger(), nil).WithObserver(recorder)

	m.Watch(context.Background(), handle)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.calls) != 3 {
		t.Fatalf("observer called %d times, want 3", len(recorder.calls))
	}
	last := recorder.calls[len(recorder.calls)-1]
	if last[0] != 2 || last[1] != 2 {
		t.Errorf("final observation = %d/%d, want 2/2", last[0], last[1])
	}
}
