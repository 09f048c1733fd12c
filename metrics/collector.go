// Package metrics provides per-run counters for a collection run.
//
// The Collector accumulates counters during a single coordinator run. It is
// a leaf package with no internal dependencies. Batch outcome counts are
// absorbed from the aggregated result at run completion rather than recorded
// live, avoiding double-counting across retries.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Remote API
	APIRequests        int64 `json:"api_requests"`
	RateLimitWaits     int64 `json:"rate_limit_waits"`
	CredentialSwitches int64 `json:"credential_switches"`

	// Discovery
	SearchQueries  int64 `json:"search_queries"`
	SearchPages    int64 `json:"search_pages"`
	UsersFound     int64 `json:"users_found"`
	SnapshotReused bool  `json:"snapshot_reused"`

	// Scheduling
	BatchesSubmitted int64 `json:"batches_submitted"`
	BatchesSettled   int64 `json:"batches_settled"`
	BatchesFailed    int64 `json:"batches_failed"`
	BatchesRetried   int64 `json:"batches_retried"`

	// Aggregation (absorbed at run completion)
	UsersChecked     int64 `json:"users_checked"`
	UsersSuccessful  int64 `json:"users_successful"`
	UsersFiltered    int64 `json:"users_filtered"`
	UsersFailed      int64 `json:"users_failed"`
	RecordsCollected int64 `json:"records_collected"`

	// Dimensions (informational, set at construction)
	RunID string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	apiRequests        int64
	rateLimitWaits     int64
	credentialSwitches int64

	searchQueries  int64
	searchPages    int64
	usersFound     int64
	snapshotReused bool

	batchesSubmitted int64
	batchesSettled   int64
	batchesFailed    int64
	batchesRetried   int64

	usersChecked     int64
	usersSuccessful  int64
	usersFiltered    int64
	usersFailed      int64
	recordsCollected int64

	runID string
}

// NewCollector creates a Collector bound to a run ID.
func NewCollector(runID string) *Collector {
	return &Collector{runID: runID}
}

func (c *Collector) add(field *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// IncAPIRequest records one remote API request.
func (c *Collector) IncAPIRequest() {
	if c == nil {
		return
	}
	c.add(&c.apiRequests, 1)
}

// IncRateLimitWait records one quota-wait sleep.
func (c *Collector) IncRateLimitWait() {
	if c == nil {
		return
	}
	c.add(&c.rateLimitWaits, 1)
}

// IncCredentialSwitch records one switch to a healthier credential.
func (c *Collector) IncCredentialSwitch() {
	if c == nil {
		return
	}
	c.add(&c.credentialSwitches, 1)
}

// IncSearchQuery records one partition sub-query execution.
func (c *Collector) IncSearchQuery() {
	if c == nil {
		return
	}
	c.add(&c.searchQueries, 1)
}

// AddSearchPages records n search result pages consumed.
func (c *Collector) AddSearchPages(n int64) {
	if c == nil {
		return
	}
	c.add(&c.searchPages, n)
}

// SetUsersFound records the deduplicated population size.
func (c *Collector) SetUsersFound(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.usersFound = n
	c.mu.Unlock()
}

// MarkSnapshotReused records that a cached population snapshot was trusted.
func (c *Collector) MarkSnapshotReused() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snapshotReused = true
	c.mu.Unlock()
}

// AddBatchesSubmitted records n batches enqueued.
func (c *Collector) AddBatchesSubmitted(n int64) {
	if c == nil {
		return
	}
	c.add(&c.batchesSubmitted, n)
}

// AddBatchesSettled records n batches that reached a terminal queue state.
func (c *Collector) AddBatchesSettled(n int64) {
	if c == nil {
		return
	}
	c.add(&c.batchesSettled, n)
}

// AddBatchesFailed records n batches whose task failed.
func (c *Collector) AddBatchesFailed(n int64) {
	if c == nil {
		return
	}
	c.add(&c.batchesFailed, n)
}

// AddBatchesRetried records n batches resubmitted after failure.
func (c *Collector) AddBatchesRetried(n int64) {
	if c == nil {
		return
	}
	c.add(&c.batchesRetried, n)
}

// AbsorbAggregate copies final candidate/record totals from the aggregated
// result. Called once after aggregation with the retry-merged numbers.
func (c *Collector) AbsorbAggregate(checked, successful, filtered, failed, records int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.usersChecked = checked
	c.usersSuccessful = successful
	c.usersFiltered = filtered
	c.usersFailed = failed
	c.recordsCollected = records
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		APIRequests:        c.apiRequests,
		RateLimitWaits:     c.rateLimitWaits,
		CredentialSwitches: c.credentialSwitches,
		SearchQueries:      c.searchQueries,
		SearchPages:        c.searchPages,
		UsersFound:         c.usersFound,
		SnapshotReused:     c.snapshotReused,
		BatchesSubmitted:   c.batchesSubmitted,
		BatchesSettled:     c.batchesSettled,
		BatchesFailed:      c.batchesFailed,
		BatchesRetried:     c.batchesRetried,
		UsersChecked:       c.usersChecked,
		UsersSuccessful:    c.usersSuccessful,
		UsersFiltered:      c.usersFiltered,
		UsersFailed:        c.usersFailed,
		RecordsCollected:   c.recordsCollected,
		RunID:              c.runID,
	}
}
