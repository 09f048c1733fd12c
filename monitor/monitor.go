// Package monitor observes a fan-out job until it settles or stops making
// progress.
//
// Two independent timeout policies apply. The idle timeout fires when the
// completed count has not moved for a configured duration; it defaults to
// hours because legitimate rate-limit waits are long. The absolute timeout
// is a wall-clock ceiling on the whole watch. Both mean "stop waiting and
// proceed with whatever completed", never a fatal error.
package monitor

import (
	"context"
	"time"

	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/queue"
)

// StopReason says why a watch ended.
type StopReason string

const (
	// StopCompleted is the clean terminal condition: every task settled.
	StopCompleted StopReason = "completed"
	// StopIdleTimeout means the completed count stalled too long.
	StopIdleTimeout StopReason = "idle_timeout"
	// StopAbsoluteTimeout means the wall-clock ceiling was hit.
	StopAbsoluteTimeout StopReason = "absolute_timeout"
	// StopCanceled means the caller's context ended the watch.
	StopCanceled StopReason = "canceled"
)

// Config configures a watch.
type Config struct {
	// PollInterval is the non-busy wait between handle queries (default 2s).
	PollInterval time.Duration
	// IdleTimeout aborts after this long without progress (default 2h).
	IdleTimeout time.Duration
	// AbsoluteTimeout aborts after this much wall-clock time (default 5h).
	AbsoluteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Hour
	}
	if c.AbsoluteTimeout <= 0 {
		c.AbsoluteTimeout = 5 * time.Hour
	}
	return c
}

// Outcome summarizes a finished watch.
type Outcome struct {
	Reason    StopReason
	Completed int
	Total     int
	Failed    int
	Elapsed   time.Duration
}

// Observer receives progress callbacks during a watch. Used by the live
// TUI; nil observers are skipped.
type Observer interface {
	Progress(completed, total, failed int, elapsed time.Duration)
}

// Monitor polls a job handle and reports progress.
type Monitor struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
	observer  Observer
	now       func() time.Time
}

// New creates a monitor. Collector and observer may be nil.
func New(config Config, logger *log.Logger, collector *metrics.Collector) *Monitor {
	return &Monitor{
		config:    config.withDefaults(),
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}
}

// WithObserver attaches a progress observer.
func (m *Monitor) WithObserver(observer Observer) *Monitor {
	m.observer = observer
	return m
}

// Watch blocks until the job settles, stalls past the idle timeout, hits
// the absolute timeout, or the context is canceled. Progress is reported
// only on deltas, not every poll tick; failed task indices surface exactly
// once each, with the failure payload when retrievable.
func (m *Monitor) Watch(ctx context.Context, handle queue.JobHandle) Outcome {
	total := handle.TotalTasks()
	start := m.now()
	lastProgress := start
	lastCompleted := -1
	seenFailures := make(map[int]struct{})

	m.logger.Info("watching job", map[string]any{
		"job":     handle.JobID(),
		"batches": total,
	})

	for {
		completed, err := handle.CompletedCount(ctx)
		if err != nil {
			m.logger.Warn("completion query failed", map[string]any{"error": err.Error()})
			completed = lastCompleted
			if completed < 0 {
				completed = 0
			}
		}

		elapsed := m.now().Sub(start)
		if completed != lastCompleted {
			lastProgress = m.now()
		}

		failed := m.surfaceFailures(ctx, handle, seenFailures)

		if completed != lastCompleted || failed > 0 {
			percent := 0.0
			if total > 0 {
				percent = float64(completed) / float64(total) * 100
			}
			m.logger.Info("progress", map[string]any{
				"completed": completed,
				"total":     total,
				"percent":   percent,
				"failed":    failed,
				"elapsed":   elapsed.Round(time.Second).String(),
			})
			lastCompleted = completed
		}
		if m.observer != nil {
			m.observer.Progress(completed, total, failed, elapsed)
		}

		if completed >= total {
			m.collector.AddBatchesSettled(int64(completed))
			return Outcome{Reason: StopCompleted, Completed: completed, Total: total, Failed: failed, Elapsed: elapsed}
		}

		idle := m.now().Sub(lastProgress)
		if idle > m.config.IdleTimeout {
			m.logger.Warn("no progress, giving up waiting", map[string]any{
				"idle":      idle.Round(time.Second).String(),
				"completed": completed,
				"total":     total,
			})
			m.collector.AddBatchesSettled(int64(max(completed, 0)))
			return Outcome{Reason: StopIdleTimeout, Completed: completed, Total: total, Failed: failed, Elapsed: elapsed}
		}
		if elapsed > m.config.AbsoluteTimeout {
			m.logger.Warn("absolute timeout, giving up waiting", map[string]any{
				"elapsed":   elapsed.Round(time.Second).String(),
				"completed": completed,
				"total":     total,
			})
			m.collector.AddBatchesSettled(int64(max(completed, 0)))
			return Outcome{Reason: StopAbsoluteTimeout, Completed: completed, Total: total, Failed: failed, Elapsed: elapsed}
		}

		timer := time.NewTimer(m.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Reason: StopCanceled, Completed: max(completed, 0), Total: total, Failed: failed, Elapsed: m.now().Sub(start)}
		case <-timer.C:
		}
	}
}

// surfaceFailures logs newly visible failed tasks once each and returns the
// total failed count observed so far.
func (m *Monitor) surfaceFailures(ctx context.Context, handle queue.JobHandle, seen map[int]struct{}) int {
	states, err := handle.TaskStates(ctx)
	if err != nil {
		return len(seen)
	}

	for _, state := range states {
		if state.Status != queue.TaskFailed {
			continue
		}
		if _, already := seen[state.Index]; already {
			continue
		}
		seen[state.Index] = struct{}{}
		m.collector.AddBatchesFailed(1)
		m.logger.Warn("batch task failed", map[string]any{
			"batch":   state.Index,
			"failure": state.Failure,
		})
	}
	return len(seen)
}
