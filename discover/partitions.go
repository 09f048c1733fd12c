// Package discover enumerates the candidate population for a location by
// sweeping many narrow sub-queries, deduplicating the results, and
// persisting timestamped population snapshots for reuse.
package discover

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PartitionTable is an ordered list of query qualifiers. Each qualifier
// narrows the location query far enough that its result count stays under
// the API's result-window cap.
//
// The table is tuned against an observed population at a point in time and
// decays as the population grows: partitions that drift above the cap are
// treated as best-effort, never fatal. Regenerate the table and ship it as
// configuration rather than editing the default in code.
type PartitionTable struct {
	// Strategy names the partition scheme for snapshot metadata.
	Strategy string `yaml:"strategy"`
	// Filters are the sub-query qualifiers, applied in order.
	Filters []string `yaml:"filters"`
}

// LoadPartitionTable reads a partition table from a YAML file.
func LoadPartitionTable(path string) (*PartitionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}
	var table PartitionTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse partition table: %w", err)
	}
	if len(table.Filters) == 0 {
		return nil, fmt.Errorf("partition table %s has no filters", path)
	}
	if table.Strategy == "" {
		table.Strategy = "custom"
	}
	return &table, nil
}

// DefaultPartitionTable returns the shipped table: repository-count ranges
// for the bulk of the population, follower-count buckets where a single
// repository count still exceeds the window cap, and a follower floor as a
// quality filter on low-repository accounts.
func DefaultPartitionTable() *PartitionTable {
	return &PartitionTable{
		Strategy: "repos/followers multi-filter",
		Filters: []string{
			// High-activity accounts, partitioned by repository count.
			"repos:>=500",
			"repos:300..499",
			"repos:200..299",
			"repos:150..199",
			"repos:100..149",
			"repos:80..99",
			"repos:70..79",
			"repos:60..69",
			"repos:55..59",
			"repos:50..54",
			"repos:45..49",
			"repos:43..44",
			"repos:40..42",
			"repos:38..39",
			"repos:35..37",
			"repos:33..34",
			"repos:32",
			"repos:30..31",
			"repos:28..29",
			"repos:27",
			"repos:26",
			"repos:25",
			"repos:24",
			"repos:23",
			"repos:22",
			"repos:21",
			"repos:20",
			"repos:19",
			"repos:18",
			"repos:17",
			"repos:16",
			"repos:15",
			// repos 10..14 are dense enough to need follower buckets.
			"repos:10 followers:>=100",
			"repos:10 followers:50..99",
			"repos:10 followers:20..49",
			"repos:10 followers:10..19",
			"repos:10 followers:5..9",
			"repos:10 followers:1..4",
			"repos:10 followers:0",
			"repos:11 followers:>=100",
			"repos:11 followers:50..99",
			"repos:11 followers:20..49",
			"repos:11 followers:10..19",
			"repos:11 followers:5..9",
			"repos:11 followers:1..4",
			"repos:11 followers:0",
			"repos:12 followers:>=100",
			"repos:12 followers:50..99",
			"repos:12 followers:20..49",
			"repos:12 followers:10..19",
			"repos:12 followers:5..9",
			"repos:12 followers:1..4",
			"repos:12 followers:0",
			"repos:13 followers:>=100",
			"repos:13 followers:50..99",
			"repos:13 followers:20..49",
			"repos:13 followers:10..19",
			"repos:13 followers:5..9",
			"repos:13 followers:1..4",
			"repos:13 followers:0",
			"repos:14 followers:>=100",
			"repos:14 followers:50..99",
			"repos:14 followers:20..49",
			"repos:14 followers:10..19",
			"repos:14 followers:5..9",
			"repos:14 followers:1..4",
			"repos:14 followers:0",
			// Low-repository accounts, quality-filtered by followers.
			"repos:1 followers:>=5",
			"repos:2 followers:>=5",
			"repos:3 followers:>=5",
			"repos:4 followers:>=5",
			"repos:5 followers:>=5",
			"repos:6 followers:>=5",
			"repos:7 followers:>=5",
			"repos:8 followers:>=5",
			"repos:9 followers:>=5",
		},
	}
}
