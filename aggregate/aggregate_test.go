package aggregate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/types"
)

func testLogger() *log.Logger {
	return log.NewLogger("test-run", "aggregate").WithOutput(io.Discard)
}

// flakyRunner fails configured batch indexes on their first execution and
// succeeds on every subsequent attempt. alwaysFail indexes never succeed.
type flakyRunner struct {
	mu         sync.Mutex
	attempts   map[int]int
	failOnce   map[int]bool
	alwaysFail map[int]bool
}

func newFlakyRunner(failOnce, alwaysFail []int) *flakyRunner {
	r := &flakyRunner{
		attempts:   make(map[int]int),
		failOnce:   make(map[int]bool),
		alwaysFail: make(map[int]bool),
	}
	for _, i := range failOnce {
		r.failOnce[i] = true
	}
	for _, i := range alwaysFail {
		r.alwaysFail[i] = true
	}
	return r
}

func (r *flakyRunner) Execute(_ context.Context, batch types.Batch) *types.BatchResult {
	r.mu.Lock()
	r.attempts[batch.Index]++
	attempt := r.attempts[batch.Index]
	r.mu.Unlock()

	if r.alwaysFail[batch.Index] {
		return nil
	}
	if r.failOnce[batch.Index] && attempt == 1 {
		return nil
	}

	result := types.NewBatchResult(batch.Index, batch.Size())
	result.CheckedUsers = batch.Size()
	result.SuccessfulUsers = batch.Size()
	result.Repos = []types.Repo{{
		NameWithOwner: fmt.Sprintf("batch%d/attempt%d", batch.Index, attempt),
		Stars:         int64(batch.Index),
	}}
	result.CompletedAt = time.Now().UTC()
	return result
}

func (r *flakyRunner) attemptCount(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[index]
}

func makeBatches(n, size int) []types.Batch {
	batches := make([]types.Batch, n)
	for i := range batches {
		candidates := make([]types.Candidate, size)
		for j := range candidates {
			candidates[j] = fmt.Sprintf("user-%d-%d", i, j)
		}
		batches[i] = types.Batch{Index: i, TaskID: fmt.Sprintf("task-%d", i), Candidates: candidates}
	}
	return batches
}

func settleJob(t *testing.T, handle queue.JobHandle) {
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

func testAggregator(q queue.Queue) *Aggregator {
	return New(Config{
		CollectTimeout: 5 * time.Second,
		CollectPoll:    5 * time.Millisecond,
		RetryWatch:     10 * time.Second,
	}, q, testLogger(), nil)
}

func TestAggregator_RetryFailed_NoFailuresReturnsOriginalHandle(t *testing.T) {
	runner := newFlakyRunner(nil, nil)
	q := queue.NewMemoryQueue(runner, 2)
	batches := makeBatches(3, 2)

	handle, err := q.Submit(context.Background(), batches)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	settleJob(t, handle)

	got, err := testAggregator(q).RetryFailed(context.Background(), handle, batches)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if got != handle {
		t.Error("RetryFailed() with no failures returned a new handle, want the original")
	}
}

func TestAggregator_RetryFailed_RetryResultSupersedesOriginal(t *testing.T) {
	runner := newFlakyRunner([]int{1, 2}, nil)
	q := queue.NewMemoryQueue(runner, 4)
	batches := makeBatches(4, 3)

	handle, err := q.Submit(context.Background(), batches)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	settleJob(t, handle)

	spliced, err := testAggregator(q).RetryFailed(context.Background(), handle, batches)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if spliced == handle {
		t.Fatal("RetryFailed() returned the original handle, want a spliced one")
	}

	states, err := spliced.TaskStates(context.Background())
	if err != nil {
		t.Fatalf("TaskStates() error = %v", err)
	}
	for _, state := range states {
		if state.Status != queue.TaskSucceeded {
			t.Errorf("task %d status = %q after retry, want %q", state.Index, state.Status, queue.TaskSucceeded)
		}
	}

	// Retried indexes read the second attempt; untouched indexes the first.
	tests := []struct {
		position int
		want     string
	}{
		{0, "batch0/attempt1"},
		{1, "batch1/attempt2"},
		{2, "batch2/attempt2"},
		{3, "batch3/attempt1"},
	}
	for _, tt := range tests {
		result, err := spliced.Result(context.Background(), tt.position)
		if err != nil {
			t.Fatalf("Result(%d) error = %v", tt.position, err)
		}
		if got := result.Repos[0].NameWithOwner; got != tt.want {
			t.Errorf("Result(%d) record = %q, want %q", tt.position, got, tt.want)
		}
	}

	// Exactly one retry execution per failed batch.
	for _, index := range []int{1, 2} {
		if got := runner.attemptCount(index); got != 2 {
			t.Errorf("batch %d executed %d times, want 2", index, got)
		}
	}
	for _, index := range []int{0, 3} {
		if got := runner.attemptCount(index); got != 1 {
			t.Errorf("batch %d executed %d times, want 1", index, got)
		}
	}
}

func TestAggregator_AggregateCountsEachBatchExactlyOnce(t *testing.T) {
	runner := newFlakyRunner([]int{0, 3}, nil)
	q := queue.NewMemoryQueue(runner, 4)
	batches := makeBatches(5, 4)

	handle, err := q.Submit(context.Background(), batches)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	settleJob(t, handle)

	agg := testAggregator(q)
	spliced, err := agg.RetryFailed(context.Background(), handle, batches)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	out, err := agg.Aggregate(context.Background(), spliced)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if out.CheckedUsers != 20 {
		t.Errorf("CheckedUsers = %d, want 20: every batch counted exactly once", out.CheckedUsers)
	}
	if out.TotalProjects != 5 {
		t.Errorf("TotalProjects = %d, want 5", out.TotalProjects)
	}
}

func TestAggregator_AggregateSkipsBatchesStillFailing(t *testing.T) {
	runner := newFlakyRunner(nil, []int{2})
	q := queue.NewMemoryQueue(runner, 2)
	batches := makeBatches(3, 2)

	handle, err := q.Submit(context.Background(), batches)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	settleJob(t, handle)

	agg := testAggregator(q)
	spliced, err := agg.RetryFailed(context.Background(), handle, batches)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}

	states, err := spliced.TaskStates(context.Background())
	if err != nil {
		t.Fatalf("TaskStates() error = %v", err)
	}
	if states[2].Status != queue.TaskFailed {
		t.Fatalf("task 2 status = %q, want %q", states[2].Status, queue.TaskFailed)
	}

	out, err := agg.Aggregate(context.Background(), spliced)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if out.CheckedUsers != 4 {
		t.Errorf("CheckedUsers = %d, want 4: failed batch must not contribute", out.CheckedUsers)
	}
}

func TestFold_ExactArithmetic(t *testing.T) {
	a := types.NewBatchResult(0, 10)
	a.CheckedUsers = 10
	a.SuccessfulUsers = 6
	a.FilteredUsers = 2
	a.FailedUsers = 2
	a.FailureCounts[types.FailureUserNotFound] = 1
	a.FailureCounts[types.FailureRateLimit] = 1
	a.Repos = []types.Repo{
		{NameWithOwner: "a/low", Stars: 3},
		{NameWithOwner: "a/high", Stars: 90},
	}

	b := types.NewBatchResult(1, 10)
	b.CheckedUsers = 10
	b.SuccessfulUsers = 9
	b.FilteredUsers = 0
	b.FailedUsers = 1
	b.FailureCounts[types.FailureUserNotFound] = 1
	b.Repos = []types.Repo{
		{NameWithOwner: "b/mid", Stars: 40},
	}

	out := Fold([]*types.BatchResult{a, b})

	if out.CheckedUsers != 20 {
		t.Errorf("CheckedUsers = %d, want 20", out.CheckedUsers)
	}
	if out.SuccessfulUsers != 15 {
		t.Errorf("SuccessfulUsers = %d, want 15", out.SuccessfulUsers)
	}
	if out.FilteredUsers != 2 {
		t.Errorf("FilteredUsers = %d, want 2", out.FilteredUsers)
	}
	if out.FailedUsers != 3 {
		t.Errorf("FailedUsers = %d, want 3", out.FailedUsers)
	}
	if got := out.FailureCounts[types.FailureUserNotFound]; got != 2 {
		t.Errorf("FailureCounts[user_not_found] = %d, want 2", got)
	}
	if got := out.FailureCounts[types.FailureRateLimit]; got != 1 {
		t.Errorf("FailureCounts[rate_limit] = %d, want 1", got)
	}
	if got := out.FailureCounts[types.FailureAPIError]; got != 0 {
		t.Errorf("FailureCounts[api_error] = %d, want 0", got)
	}
	if out.TotalProjects != 3 {
		t.Errorf("TotalProjects = %d, want 3", out.TotalProjects)
	}
	if out.TotalStars != 133 {
		t.Errorf("TotalStars = %d, want 133", out.TotalStars)
	}

	wantOrder := []string{"a/high", "b/mid", "a/low"}
	for i, want := range wantOrder {
		if out.Projects[i].NameWithOwner != want {
			t.Errorf("Projects[%d] = %q, want %q", i, out.Projects[i].NameWithOwner, want)
		}
	}
}

func TestFold_ChecksFallBackToBatchSize(t *testing.T) {
	stale := types.NewBatchResult(0, 25)

	out := Fold([]*types.BatchResult{stale})
	if out.CheckedUsers != 25 {
		t.Errorf("CheckedUsers = %d, want batch size 25", out.CheckedUsers)
	}
}

func TestFold_EmptyAndNilInputs(t *testing.T) {
	out := Fold(nil)
	if out.CheckedUsers != 0 || out.TotalProjects != 0 {
		t.Errorf("Fold(nil) = checked %d, projects %d, want zeros", out.CheckedUsers, out.TotalProjects)
	}
	for _, reason := range types.FailureReasons {
		if _, ok := out.FailureCounts[reason]; !ok {
			t.Errorf("FailureCounts missing reason %q", reason)
		}
	}

	out = Fold([]*types.BatchResult{nil, types.NewBatchResult(0, 2)})
	if out.CheckedUsers != 2 {
		t.Errorf("CheckedUsers = %d, want 2: nil entries skipped", out.CheckedUsers)
	}
}
