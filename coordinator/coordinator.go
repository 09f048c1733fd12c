// Package coordinator drives a full collection run end to end: candidate
// discovery, batch fan-out, progress monitoring, one retry pass for failed
// tasks, aggregation, and persistence of the final document.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/prospector/aggregate"
	"github.com/justapithecus/prospector/discover"
	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/monitor"
	"github.com/justapithecus/prospector/scheduler"
	"github.com/justapithecus/prospector/sink"
	"github.com/justapithecus/prospector/token"
	"github.com/justapithecus/prospector/types"
)

// Config holds run-level knobs for the coordinator.
type Config struct {
	// MaxUsers caps how many candidates this run checks.
	MaxUsers int
	// StartUser is the population offset, for resuming a prior sweep.
	StartUser int
	// BatchSize is the number of candidates per worker task.
	BatchSize int
}

// Coordinator wires the run pipeline together.
type Coordinator struct {
	config     Config
	pool       *token.Pool
	discovery  *discover.Discovery
	scheduler  *scheduler.Scheduler
	monitor    *monitor.Monitor
	aggregator *aggregate.Aggregator
	sink       sink.Sink
	logger     *log.Logger
	collector  *metrics.Collector
}

// New assembles a coordinator from its already-constructed parts.
func New(
	config Config,
	pool *token.Pool,
	discovery *discover.Discovery,
	sched *scheduler.Scheduler,
	mon *monitor.Monitor,
	agg *aggregate.Aggregator,
	out sink.Sink,
	logger *log.Logger,
	collector *metrics.Collector,
) *Coordinator {
	return &Coordinator{
		config:     config,
		pool:       pool,
		discovery:  discovery,
		scheduler:  sched,
		monitor:    mon,
		aggregator: agg,
		sink:       out,
		logger:     logger,
		collector:  collector,
	}
}

// Result bundles the final document with where it was stored.
type Result struct {
	Aggregate *types.AggregateResult
	Location  string
	Outcome   monitor.Outcome
}

// Run executes one full collection run. Fatal errors are returned; an
// incomplete job after timeouts is not fatal and aggregates whatever
// settled.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	c.logCredentials(ctx)

	snapshot, err := c.discovery.LoadOrDiscover(ctx, c.config.StartUser+c.config.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
	}

	population := snapshot.Slice(c.config.StartUser, c.config.MaxUsers)
	if len(population) == 0 {
		return nil, errors.New("no candidates to check: empty population slice")
	}
	c.logger.Info("population ready", map[string]any{
		"available": snapshot.Count(),
		"offset":    c.config.StartUser,
		"checking":  len(population),
	})

	batches := scheduler.Partition(population, c.config.BatchSize)
	handle, err := c.scheduler.Submit(ctx, batches)
	if err != nil {
		return nil, fmt.Errorf("submit batches: %w", err)
	}

	outcome := c.monitor.Watch(ctx, handle)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle, err = c.aggregator.RetryFailed(ctx, handle, batches)
	if err != nil {
		c.logger.Warn("retry pass failed, aggregating original results", map[string]any{
			"error": err.Error(),
		})
	}

	result, err := c.aggregator.Aggregate(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("aggregate results: %w", err)
	}

	name := sink.DocumentName(time.Now())
	location, err := c.sink.Store(ctx, name, result)
	if err != nil {
		return nil, fmt.Errorf("store results: %w", err)
	}

	c.logSummary(result, location, time.Since(start))
	return &Result{Aggregate: result, Location: location, Outcome: outcome}, nil
}

// logCredentials probes every credential once so the run starts with a
// visible quota picture.
func (c *Coordinator) logCredentials(ctx context.Context) {
	statuses := c.pool.Statuses(ctx)
	for _, status := range statuses {
		fields := map[string]any{"credential": status.Credential.Label}
		if status.CheckErr != nil {
			fields["error"] = status.CheckErr.Error()
		} else {
			fields["remaining"] = status.Quota.Remaining
			fields["limit"] = status.Quota.Limit
			fields["reset_at"] = status.Quota.ResetAt.Format(time.RFC3339)
		}
		c.logger.Info("credential quota", fields)
	}
}

// logSummary emits the end-of-run report: totals, the failure breakdown as
// percentages of checked candidates, and the top-ranked record.
func (c *Coordinator) logSummary(result *types.AggregateResult, location string, elapsed time.Duration) {
	c.logger.Info("run complete", map[string]any{
		"checked":    result.CheckedUsers,
		"successful": result.SuccessfulUsers,
		"filtered":   result.FilteredUsers,
		"failed":     result.FailedUsers,
		"projects":   result.TotalProjects,
		"stars":      result.TotalStars,
		"output":     location,
		"elapsed":    elapsed.Round(time.Second).String(),
	})

	if result.FailedUsers > 0 && result.CheckedUsers > 0 {
		breakdown := make(map[string]any, len(types.FailureReasons))
		for _, reason := range types.FailureReasons {
			count := result.FailureCounts[reason]
			if count == 0 {
				continue
			}
			percent := float64(count) / float64(result.CheckedUsers) * 100
			breakdown[string(reason)] = fmt.Sprintf("%d (%.1f%%)", count, percent)
		}
		c.logger.Info("failure breakdown", breakdown)
	}

	if top := result.Top(); top != nil {
		c.logger.Info("top project", map[string]any{
			"name":     top.NameWithOwner,
			"stars":    top.Stars,
			"language": top.Language,
		})
	}
}
