package types

import (
	"sort"
	"time"
)

// FailureReason is a mutually exclusive categorical tag for a candidate that
// reached the FAILED terminal state. Reasons are counts, not stack traces.
type FailureReason string

const (
	// FailureUserNotFound marks a candidate the remote service reported as
	// missing or inaccessible.
	FailureUserNotFound FailureReason = "user_not_found"
	// FailureRateLimit marks a candidate abandoned after exhausting every
	// credential's quota.
	FailureRateLimit FailureReason = "rate_limit"
	// FailureAPIError marks any other non-2xx remote response.
	FailureAPIError FailureReason = "api_error"
	// FailureException marks an unexpected runtime error.
	FailureException FailureReason = "exception"
)

// FailureReasons enumerates all reasons in reporting order.
var FailureReasons = []FailureReason{
	FailureUserNotFound,
	FailureRateLimit,
	FailureAPIError,
	FailureException,
}

// BatchResult is the outcome of executing one batch. All fields are always
// present with explicit defaults so aggregation never needs defensive
// missing-key branching.
//
// Invariant: CheckedUsers = SuccessfulUsers + FilteredUsers + FailedUsers.
type BatchResult struct {
	BatchIndex      int                   `msgpack:"batch_index" json:"batch_index"`
	BatchSize       int                   `msgpack:"batch_size" json:"batch_size"`
	CheckedUsers    int                   `msgpack:"checked_users" json:"checked_users"`
	SuccessfulUsers int                   `msgpack:"successful_users" json:"successful_users"`
	FilteredUsers   int                   `msgpack:"filtered_users" json:"filtered_users"`
	FailedUsers     int                   `msgpack:"failed_users" json:"failed_users"`
	FailureCounts   map[FailureReason]int `msgpack:"failure_reasons" json:"failure_reasons"`
	Repos           []Repo                `msgpack:"repos" json:"repos"`
	CompletedAt     time.Time             `msgpack:"completed_at" json:"completed_at"`
}

// NewBatchResult returns a zeroed result for a batch with an initialized
// failure-reason map.
func NewBatchResult(index, size int) *BatchResult {
	counts := make(map[FailureReason]int, len(FailureReasons))
	for _, reason := range FailureReasons {
		counts[reason] = 0
	}
	return &BatchResult{
		BatchIndex:    index,
		BatchSize:     size,
		FailureCounts: counts,
		Repos:         []Repo{},
	}
}

// Checked returns the number of candidates accounted for, falling back to
// the batch size when the checked counter was never populated.
func (r *BatchResult) Checked() int {
	if r.CheckedUsers > 0 {
		return r.CheckedUsers
	}
	return r.BatchSize
}

// AggregateResult is the final output of a collection run: exact sums over
// all batch results after retry-merging, plus the full record list sorted by
// stars descending. Immutable once persisted.
type AggregateResult struct {
	TotalProjects   int                   `json:"total_projects"`
	TotalStars      int64                 `json:"total_stars"`
	CheckedUsers    int                   `json:"checked_users"`
	SuccessfulUsers int                   `json:"successful_users"`
	FilteredUsers   int                   `json:"filtered_users"`
	FailedUsers     int                   `json:"failed_users"`
	FailureCounts   map[FailureReason]int `json:"failure_reasons"`
	Projects        []Repo                `json:"projects"`
	CollectedAt     time.Time             `json:"collected_at"`
}

// SortProjects orders the record list by stars descending. Ties keep a
// stable order by identity key so output is reproducible.
func (a *AggregateResult) SortProjects() {
	sort.SliceStable(a.Projects, func(i, j int) bool {
		if a.Projects[i].Stars != a.Projects[j].Stars {
			return a.Projects[i].Stars > a.Projects[j].Stars
		}
		return a.Projects[i].NameWithOwner < a.Projects[j].NameWithOwner
	})
}

// Top returns the highest-ranked record, or nil for an empty result.
func (a *AggregateResult) Top() *Repo {
	if len(a.Projects) == 0 {
		return nil
	}
	return &a.Projects[0]
}
