package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/prospector/log"
)

// DefaultTaskTimeout is the queue-level safety net on one task execution.
// It is configured generously: a batch legitimately spends long stretches
// asleep waiting for quota resets. Application logic never cancels a
// running task; this ceiling exists so a wedged task cannot hold a worker
// forever.
const DefaultTaskTimeout = 45 * time.Minute

// ConsumerConfig configures a worker's consume loop.
type ConsumerConfig struct {
	// KeyPrefix must match the submitting queue's prefix.
	KeyPrefix string
	// TaskTimeout is the per-task execution ceiling (default 45m).
	TaskTimeout time.Duration
	// PopTimeout is the blocking-pop interval; the loop re-checks its
	// context at this cadence (default 5s).
	PopTimeout time.Duration
}

// Consumer is the worker-side consume loop: pop a task, execute it, write
// the structured result back, repeat until the context is canceled.
type Consumer struct {
	config ConsumerConfig
	client *goredis.Client
	runner Runner
	logger *log.Logger
}

// NewConsumer creates a consumer from a Redis URL.
func NewConsumer(url string, cfg ConsumerConfig, runner Runner, logger *log.Logger) (*Consumer, error) {
	if url == "" {
		return nil, errors.New("consumer requires a redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &Consumer{
		config: cfg,
		client: goredis.NewClient(opts),
		runner: runner,
		logger: logger,
	}, nil
}

// Close releases the underlying connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// Run consumes tasks until ctx is canceled. A task already being executed
// runs to completion (or its timeout); cancellation stops only the pop loop.
func (c *Consumer) Run(ctx context.Context) error {
	workKey := c.config.KeyPrefix + ":tasks"
	c.logger.Info("worker consuming", map[string]any{"key": workKey})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := c.client.BLPop(ctx, c.config.PopTimeout, workKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("pop failed, backing off", map[string]any{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		if len(values) < 2 {
			continue
		}

		var envelope Envelope
		if err := msgpack.Unmarshal([]byte(values[1]), &envelope); err != nil {
			// Nothing to key a failure on: the payload is opaque.
			c.logger.Error("discarding undecodable task payload", map[string]any{"error": err.Error()})
			continue
		}

		c.execute(ctx, envelope)
	}
}

func (c *Consumer) execute(ctx context.Context, envelope Envelope) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	result := c.runner.Execute(taskCtx, envelope.Batch)

	field := strconv.Itoa(envelope.Batch.Index)
	resultsKey := c.config.KeyPrefix + ":job:" + envelope.JobID + ":results"
	failuresKey := c.config.KeyPrefix + ":job:" + envelope.JobID + ":failures"
	settledKey := c.config.KeyPrefix + ":job:" + envelope.JobID + ":settled"

	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer writeCancel()

	pipe := c.client.Pipeline()
	if result == nil {
		pipe.HSet(writeCtx, failuresKey, field, "runner returned no result")
	} else if payload, err := msgpack.Marshal(result); err != nil {
		pipe.HSet(writeCtx, failuresKey, field, "encode result: "+err.Error())
	} else {
		pipe.HSet(writeCtx, resultsKey, field, payload)
	}
	pipe.Incr(writeCtx, settledKey)
	pipe.Expire(writeCtx, resultsKey, DefaultJobTTL)
	pipe.Expire(writeCtx, failuresKey, DefaultJobTTL)
	pipe.Expire(writeCtx, settledKey, DefaultJobTTL)

	if _, err := pipe.Exec(writeCtx); err != nil {
		c.logger.Error("failed to record task result", map[string]any{
			"job":   envelope.JobID,
			"batch": envelope.Batch.Index,
			"error": err.Error(),
		})
		return
	}

	c.logger.Info("task settled", map[string]any{
		"job":      envelope.JobID,
		"batch":    envelope.Batch.Index,
		"duration": time.Since(start).Round(time.Second).String(),
	})
}
