package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/prospector/cli/config"
	"github.com/justapithecus/prospector/gh"
	"github.com/justapithecus/prospector/iox"
	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/token"
	"github.com/justapithecus/prospector/worker"
)

// WorkCommand returns the worker loop command: consume batch tasks from the
// queue until signaled.
func WorkCommand() *cli.Command {
	return &cli.Command{
		Name:  "work",
		Usage: "Consume and execute batch tasks from the queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "redis-url",
				Usage: "Redis connection URL for the task queue",
				Value: "redis://localhost:6379/0",
			},
			&cli.StringFlag{
				Name:  "key-prefix",
				Usage: "Redis key namespace",
				Value: queue.DefaultKeyPrefix,
			},
			&cli.StringFlag{
				Name:  "tokens-file",
				Usage: "Dotenv file with API tokens",
				Value: config.DefaultTokensFile,
			},
			&cli.IntFlag{
				Name:  "min-repos",
				Usage: "Inclusion policy: minimum repository count",
			},
			&cli.IntFlag{
				Name:  "min-stars",
				Usage: "Inclusion policy: minimum total stars",
			},
			&cli.DurationFlag{
				Name:  "task-timeout",
				Usage: "Per-task execution ceiling",
				Value: queue.DefaultTaskTimeout,
			},
		},
		Action: workAction,
	}
}

func workAction(c *cli.Context) error {
	workerID := uuid.NewString()
	logger := log.NewLogger(workerID, "worker")
	collector := metrics.NewCollector(workerID)

	creds, err := config.LoadCredentials(c.String("tokens-file"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if len(creds) == 0 {
		return cli.Exit("no API tokens configured", exitFailure)
	}

	probe := gh.NewClient(gh.Config{}, nil, logger.Named("quota"), collector)
	pool, err := token.NewPool(creds, probe)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	client := gh.NewClient(gh.Config{}, pool, logger.Named("github"), collector)

	policy := worker.DefaultFilterPolicy()
	if c.IsSet("min-repos") {
		policy.MinRepos = c.Int("min-repos")
	}
	if c.IsSet("min-stars") {
		policy.MinStars = int64(c.Int("min-stars"))
	}
	executor := worker.NewExecutor(client, policy, logger.Named("task"))

	consumer, err := queue.NewConsumer(c.String("redis-url"), queue.ConsumerConfig{
		KeyPrefix:   c.String("key-prefix"),
		TaskTimeout: c.Duration("task-timeout"),
	}, executor, logger.Named("queue"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(consumer)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("signal received, finishing current task", nil)
		cancel()
	}()

	logger.Info("worker ready", map[string]any{
		"credentials": pool.Count(),
		"policy":      map[string]any{"min_repos": policy.MinRepos, "min_stars": policy.MinStars},
	})
	start := time.Now()
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), exitFailure)
	}
	logger.Info("worker stopped", map[string]any{
		"uptime": time.Since(start).Round(time.Second).String(),
	})
	return cli.Exit("", exitSuccess)
}
