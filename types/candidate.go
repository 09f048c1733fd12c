// Package types defines core domain types for the Prospector coordinator.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// Candidate is the unique identifier of one discoverable account.
// Candidates are set-unique across a discovery run: no duplicate survives
// into a population.
type Candidate = string

// Snapshot is a persisted, timestamped, deduplicated candidate population.
// Snapshots are never mutated in place; a fresh discovery run writes a new one.
type Snapshot struct {
	// TotalUsers is the number of candidates in the snapshot.
	TotalUsers int `json:"total_users"`
	// CollectedAt is the snapshot creation time.
	CollectedAt time.Time `json:"collected_at"`
	// Strategy names the query-partition scheme that produced the snapshot.
	Strategy string `json:"query_strategy"`
	// FiltersUsed is the number of partition sub-queries executed.
	FiltersUsed int `json:"filters_used"`
	// TargetSize is the population ceiling requested for the run.
	TargetSize int `json:"target_size"`
	// Usernames is the ordered, deduplicated candidate list.
	Usernames []Candidate `json:"usernames"`
}

// Count returns the number of candidates in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.Usernames)
}

// Slice returns up to max candidates starting at offset.
// Out-of-range offsets yield an empty slice, never a panic.
func (s *Snapshot) Slice(offset, max int) []Candidate {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.Usernames) {
		return nil
	}
	end := offset + max
	if max <= 0 || end > len(s.Usernames) {
		end = len(s.Usernames)
	}
	return s.Usernames[offset:end]
}
