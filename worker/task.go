// Package worker executes batches: for each candidate in a batch it runs
// the paginated enrichment lookup, applies the inclusion policy, and
// classifies the outcome into one terminal state.
//
// Candidate lifecycle within a batch:
//
//	PENDING -> FETCHING -> SUCCESS
//	                    -> FILTERED            (fetched, fails inclusion policy)
//	                    -> FAILED(reason)      (user_not_found | rate_limit |
//	                                            api_error | exception)
//
// Candidates are processed strictly in list order, one outstanding request
// at a time. The task boundary never raises: batch-level failures produce a
// well-formed result with every candidate marked failed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/prospector/gh"
	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/types"
)

// Fetcher performs the enrichment lookup for one candidate.
// Satisfied by gh.Client.
type Fetcher interface {
	ListRepos(ctx context.Context, login string) ([]types.Repo, error)
}

// FilterPolicy is the inclusion criteria applied after a successful fetch.
// A candidate is filtered when it clears NEITHER threshold: fewer owned
// repositories than MinRepos AND a total star count below MinStars. The
// thresholds are policy parameters; the post-fetch check itself is core.
type FilterPolicy struct {
	MinRepos int
	MinStars int64
}

// DefaultFilterPolicy keeps accounts with at least two repositories or any
// starred work.
func DefaultFilterPolicy() FilterPolicy {
	return FilterPolicy{MinRepos: 2, MinStars: 1}
}

// Include reports whether a fetched record set passes the policy.
func (p FilterPolicy) Include(repos []types.Repo) bool {
	if len(repos) >= p.MinRepos {
		return true
	}
	var stars int64
	for _, r := range repos {
		stars += r.Stars
	}
	return stars >= p.MinStars
}

// Executor runs batches against a fetcher.
type Executor struct {
	fetcher Fetcher
	policy  FilterPolicy
	logger  *log.Logger
}

// NewExecutor creates a batch executor.
func NewExecutor(fetcher Fetcher, policy FilterPolicy, logger *log.Logger) *Executor {
	return &Executor{fetcher: fetcher, policy: policy, logger: logger}
}

// Execute processes one batch and always returns a well-formed result.
// Implements queue.Runner.
func (e *Executor) Execute(ctx context.Context, batch types.Batch) (result *types.BatchResult) {
	result = types.NewBatchResult(batch.Index, batch.Size())

	// The scheduler must never receive a raised error from a task, only
	// structured failure data.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("batch execution panicked", map[string]any{
				"batch": batch.Index,
				"panic": fmt.Sprint(r),
			})
			result = failedBatchResult(batch, fmt.Sprintf("panic: %v", r))
		}
	}()

	for _, candidate := range batch.Candidates {
		repos, err := e.fetcher.ListRepos(ctx, candidate)
		result.CheckedUsers++

		if err != nil {
			reason := classifyFailure(err)
			result.FailedUsers++
			result.FailureCounts[reason]++
			e.logger.Debug("candidate failed", map[string]any{
				"candidate": candidate,
				"reason":    string(reason),
				"error":     err.Error(),
			})
			continue
		}

		if !e.policy.Include(repos) {
			result.FilteredUsers++
			continue
		}

		result.SuccessfulUsers++
		result.Repos = append(result.Repos, repos...)
	}

	result.CompletedAt = time.Now().UTC()
	return result
}

// classifyFailure maps an enrichment error onto exactly one categorical
// failure reason.
func classifyFailure(err error) types.FailureReason {
	switch {
	case errors.Is(err, gh.ErrNotFound):
		return types.FailureUserNotFound
	case errors.Is(err, gh.ErrRateLimited):
		return types.FailureRateLimit
	case gh.IsStatusError(err):
		return types.FailureAPIError
	default:
		return types.FailureException
	}
}

// failedBatchResult marks every candidate in the batch as failed with the
// exception reason. Used when batch-level setup or execution breaks before
// per-candidate accounting is trustworthy.
func failedBatchResult(batch types.Batch, _ string) *types.BatchResult {
	result := types.NewBatchResult(batch.Index, batch.Size())
	result.CheckedUsers = batch.Size()
	result.FailedUsers = batch.Size()
	result.FailureCounts[types.FailureException] = batch.Size()
	result.CompletedAt = time.Now().UTC()
	return result
}

// Verify Executor implements the queue contract.
var _ queue.Runner = (*Executor)(nil)
