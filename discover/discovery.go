package discover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/types"
)

// UserSearcher executes one sub-query to exhaustion. Satisfied by gh.Client.
type UserSearcher interface {
	SearchAllUsers(ctx context.Context, query string) ([]string, error)
}

// Config configures a discovery sweep.
type Config struct {
	// Location scopes every sub-query (e.g. "seattle").
	Location string
	// Partitions is the sub-query table. Nil takes the shipped default.
	Partitions *PartitionTable
	// Policy governs snapshot reuse.
	Policy SnapshotPolicy
}

// Discovery produces deduplicated candidate populations.
type Discovery struct {
	config    Config
	searcher  UserSearcher
	store     *SnapshotStore
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// New creates a Discovery. The collector may be nil.
func New(config Config, searcher UserSearcher, store *SnapshotStore, logger *log.Logger, collector *metrics.Collector) (*Discovery, error) {
	if config.Location == "" {
		return nil, errors.New("discovery requires a location")
	}
	if config.Partitions == nil {
		config.Partitions = DefaultPartitionTable()
	}
	if config.Policy.MaxAge <= 0 || config.Policy.MinSize <= 0 {
		config.Policy = DefaultSnapshotPolicy()
	}
	return &Discovery{
		config:    config,
		searcher:  searcher,
		store:     store,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}, nil
}

// LoadOrDiscover returns a population snapshot, reusing the newest cached
// snapshot when it satisfies the freshness and minimum-size policy and
// running a fresh sweep otherwise.
func (d *Discovery) LoadOrDiscover(ctx context.Context, maxUsers int) (*types.Snapshot, error) {
	snapshot, path, err := d.store.LoadLatest(d.config.Policy)
	if err != nil {
		d.logger.Warn("snapshot lookup failed, falling back to fresh discovery", map[string]any{
			"error": err.Error(),
		})
	}
	if snapshot != nil {
		d.collector.MarkSnapshotReused()
		d.collector.SetUsersFound(int64(snapshot.Count()))
		d.logger.Info("reusing cached population snapshot", map[string]any{
			"path":  path,
			"users": snapshot.Count(),
			"age":   d.now().UTC().Sub(snapshot.CollectedAt.UTC()).Round(time.Minute).String(),
		})
		return snapshot, nil
	}
	return d.Discover(ctx, maxUsers)
}

// Discover sweeps every partition sub-query, deduplicates the returned
// identifiers into an insertion-ordered population, truncates to maxUsers,
// and persists the result as a new snapshot.
//
// The sweep deliberately completes all partitions even after the running
// total reaches maxUsers: over-collecting across the whole partition space
// and trimming afterward keeps the population diverse instead of biased
// toward the earliest partitions.
func (d *Discovery) Discover(ctx context.Context, maxUsers int) (*types.Snapshot, error) {
	filters := d.config.Partitions.Filters
	d.logger.Info("starting candidate discovery", map[string]any{
		"location":   d.config.Location,
		"partitions": len(filters),
		"target":     maxUsers,
	})

	seen := make(map[string]struct{})
	var ordered []types.Candidate

	for i, filter := range filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := fmt.Sprintf("location:%s %s", d.config.Location, filter)
		d.collector.IncSearchQuery()

		logins, err := d.searcher.SearchAllUsers(ctx, query)
		for _, login := range logins {
			if _, dup := seen[login]; dup {
				continue
			}
			seen[login] = struct{}{}
			ordered = append(ordered, login)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			// One broken sub-query must not block the sweep.
			d.logger.Warn("partition query aborted, moving to next partition", map[string]any{
				"query": query,
				"error": err.Error(),
			})
			continue
		}

		d.logger.Info("partition complete", map[string]any{
			"partition": fmt.Sprintf("%d/%d", i+1, len(filters)),
			"query":     query,
			"total":     len(ordered),
		})
	}

	if len(ordered) == 0 {
		return nil, errors.New("discovery found no candidates")
	}

	if maxUsers > 0 && len(ordered) > maxUsers {
		ordered = ordered[:maxUsers]
	}
	d.collector.SetUsersFound(int64(len(ordered)))

	snapshot := &types.Snapshot{
		TotalUsers:  len(ordered),
		CollectedAt: d.now().UTC(),
		Strategy:    d.config.Partitions.Strategy,
		FiltersUsed: len(filters),
		TargetSize:  maxUsers,
		Usernames:   ordered,
	}

	path, err := d.store.Save(snapshot)
	if err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	d.logger.Info("population snapshot saved", map[string]any{
		"path":  path,
		"users": snapshot.Count(),
	})

	return snapshot, nil
}
