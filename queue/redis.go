package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/prospector/types"
)

const (
	// DefaultKeyPrefix namespaces every queue key.
	DefaultKeyPrefix = "prospector"
	// DefaultJobTTL bounds how long job state survives in Redis.
	DefaultJobTTL = 48 * time.Hour
)

// RedisConfig configures the Redis-backed queue.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// KeyPrefix namespaces queue keys (default: prospector).
	KeyPrefix string
	// JobTTL is the expiry applied to per-job state (default 48h).
	JobTTL time.Duration
}

// RedisQueue is the production queue transport. Tasks are RPUSH'd onto one
// shared work list; per-job results and failures live in hashes keyed by
// batch index, and a settled counter supports cheap completion polling.
type RedisQueue struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedisQueue creates a Redis queue from the given config.
// Returns an error if the URL is empty or invalid.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis queue requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis queue: invalid URL: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	return &RedisQueue{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Ping verifies queue connectivity. The coordinator calls this once at
// startup so an unreachable broker fails the run before discovery starts.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis queue unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) workKey() string {
	return q.config.KeyPrefix + ":tasks"
}

func (q *RedisQueue) resultsKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:results", q.config.KeyPrefix, jobID)
}

func (q *RedisQueue) failuresKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:failures", q.config.KeyPrefix, jobID)
}

func (q *RedisQueue) settledKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:settled", q.config.KeyPrefix, jobID)
}

// Submit enqueues one task per batch as a single fan-out job.
func (q *RedisQueue) Submit(ctx context.Context, batches []types.Batch) (JobHandle, error) {
	if len(batches) == 0 {
		return nil, errors.New("submit requires at least one batch")
	}

	// The job takes its identity from the first task's UUID; tasks keep
	// their own IDs.
	jobID := fmt.Sprintf("job-%s", batches[0].TaskID)

	pipe := q.client.Pipeline()
	for _, batch := range batches {
		payload, err := msgpack.Marshal(Envelope{JobID: jobID, Batch: batch})
		if err != nil {
			return nil, fmt.Errorf("encode task %d: %w", batch.Index, err)
		}
		pipe.RPush(ctx, q.workKey(), payload)
	}
	pipe.Set(ctx, q.settledKey(jobID), 0, q.config.JobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	return &redisHandle{queue: q, jobID: jobID, total: len(batches), indexes: batchIndexes(batches)}, nil
}

func batchIndexes(batches []types.Batch) []int {
	indexes := make([]int, len(batches))
	for i, b := range batches {
		indexes[i] = b.Index
	}
	return indexes
}

// redisHandle observes one fan-out job. The handle addresses tasks by their
// position in the submitted job; results are stored under the original
// batch index so retried batches land at the same key.
type redisHandle struct {
	queue   *RedisQueue
	jobID   string
	total   int
	indexes []int
}

func (h *redisHandle) JobID() string {
	return h.jobID
}

func (h *redisHandle) TotalTasks() int {
	return h.total
}

func (h *redisHandle) CompletedCount(ctx context.Context) (int, error) {
	n, err := h.queue.client.Get(ctx, h.queue.settledKey(h.jobID)).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read settled count: %w", err)
	}
	return n, nil
}

func (h *redisHandle) TaskStates(ctx context.Context) ([]TaskState, error) {
	pipe := h.queue.client.Pipeline()
	resultsCmd := pipe.HKeys(ctx, h.queue.resultsKey(h.jobID))
	failuresCmd := pipe.HGetAll(ctx, h.queue.failuresKey(h.jobID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("read task states: %w", err)
	}

	succeeded := make(map[int]struct{})
	for _, field := range resultsCmd.Val() {
		if idx, err := strconv.Atoi(field); err == nil {
			succeeded[idx] = struct{}{}
		}
	}
	failures := make(map[int]string)
	for field, message := range failuresCmd.Val() {
		if idx, err := strconv.Atoi(field); err == nil {
			failures[idx] = message
		}
	}

	states := make([]TaskState, 0, h.total)
	for _, batchIndex := range h.indexes {
		state := TaskState{Index: batchIndex, Status: TaskPending}
		if _, ok := succeeded[batchIndex]; ok {
			state.Status = TaskSucceeded
		} else if message, ok := failures[batchIndex]; ok {
			state.Status = TaskFailed
			state.Failure = message
		}
		states = append(states, state)
	}
	return states, nil
}

func (h *redisHandle) Result(ctx context.Context, index int) (*types.BatchResult, error) {
	if index < 0 || index >= h.total {
		return nil, fmt.Errorf("task position %d out of range [0,%d)", index, h.total)
	}
	batchIndex := h.indexes[index]
	field := strconv.Itoa(batchIndex)

	payload, err := h.queue.client.HGet(ctx, h.queue.resultsKey(h.jobID), field).Bytes()
	if err == nil {
		var result types.BatchResult
		if err := msgpack.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decode result %d: %w", batchIndex, err)
		}
		return &result, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("read result %d: %w", batchIndex, err)
	}

	message, err := h.queue.client.HGet(ctx, h.queue.failuresKey(h.jobID), field).Result()
	if err == nil {
		return nil, &TaskFailedError{Index: batchIndex, Message: message}
	}
	if !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("read failure %d: %w", batchIndex, err)
	}
	return nil, ErrResultPending
}

// Verify interface satisfaction.
var (
	_ Queue     = (*RedisQueue)(nil)
	_ JobHandle = (*redisHandle)(nil)
)
