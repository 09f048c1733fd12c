package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/prospector/aggregate"
	"github.com/justapithecus/prospector/cli/config"
	"github.com/justapithecus/prospector/cli/render"
	"github.com/justapithecus/prospector/cli/tui"
	"github.com/justapithecus/prospector/coordinator"
	"github.com/justapithecus/prospector/discover"
	"github.com/justapithecus/prospector/gh"
	"github.com/justapithecus/prospector/iox"
	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/monitor"
	"github.com/justapithecus/prospector/queue"
	"github.com/justapithecus/prospector/scheduler"
	"github.com/justapithecus/prospector/sink"
	"github.com/justapithecus/prospector/token"
)

// Exit codes: 0 success, 1 fatal error or interrupt.
const (
	exitSuccess = 0
	exitFailure = 1
)

// CollectCommand returns the collect command, the only command that
// executes a full run.
func CollectCommand() *cli.Command {
	flags := append(discoveryFlags(),
		&cli.IntFlag{
			Name:  "start-user",
			Usage: "Population offset, for resuming a prior sweep",
			Value: 0,
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Candidates per worker task",
			Value: scheduler.DefaultBatchSize,
		},
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
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Worker processes to launch",
			Value: 4,
		},
		&cli.BoolFlag{
			Name:  "no-auto-workers",
			Usage: "Do not launch worker processes (workers run elsewhere)",
		},
		&cli.StringFlag{
			Name:  "worker-bin",
			Usage: "Path to the worker binary",
			Value: "prospector-worker",
		},
		&cli.IntFlag{
			Name:  "min-repos",
			Usage: "Inclusion policy: minimum repository count",
		},
		&cli.IntFlag{
			Name:  "min-stars",
			Usage: "Inclusion policy: minimum total stars",
		},
		&cli.StringFlag{
			Name:  "sink",
			Usage: "Output backend: fs or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory (fs backend)",
			Value: "output",
		},
		&cli.StringFlag{
			Name:  "s3-path",
			Usage: "S3 location as bucket/prefix (s3 backend)",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "Stop waiting after this long without progress",
			Value: 2 * time.Hour,
		},
		&cli.DurationFlag{
			Name:  "absolute-timeout",
			Usage: "Stop waiting after this much wall-clock time",
			Value: 5 * time.Hour,
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show a live progress view",
		},
	)

	return &cli.Command{
		Name:   "collect",
		Usage:  "Run a full collection: discover, fan out, aggregate, store",
		Flags:  flags,
		Action: collectAction,
	}
}

func collectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	runID := uuid.NewString()
	logger := log.NewLogger(runID, "coordinator")
	collector := metrics.NewCollector(runID)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, shutting down", nil)
		cancel()
	}()

	tokensFile := stringSetting(c, "tokens-file", cfg.TokensFile)
	creds, err := config.LoadCredentials(tokensFile)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if len(creds) == 0 {
		return cli.Exit("no API tokens configured: set GITHUB_TOKEN or populate "+tokensFile, exitFailure)
	}

	// The probe client carries no pool: CheckQuota never consults one, and
	// the pool needs a checker before the pooled client can exist.
	probe := gh.NewClient(gh.Config{}, nil, logger.Named("quota"), collector)
	pool, err := token.NewPool(creds, probe)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	client := gh.NewClient(gh.Config{}, pool, logger.Named("github"), collector)

	discovery, err := buildDiscovery(c, cfg, client, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	redisURL := stringSetting(c, "redis-url", cfg.Queue.RedisURL)
	keyPrefix := stringSetting(c, "key-prefix", cfg.Queue.KeyPrefix)
	redisQueue, err := queue.NewRedisQueue(queue.RedisConfig{URL: redisURL, KeyPrefix: keyPrefix})
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(redisQueue)
	if err := redisQueue.Ping(ctx); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	out, err := buildSink(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(out)

	workerCount := intSetting(c, "workers", cfg.Workers.Count)
	if !c.Bool("no-auto-workers") && !cfg.Workers.NoAuto {
		supervisor := newWorkerSupervisor(workerSpec{
			Binary:     c.String("worker-bin"),
			Count:      workerCount,
			RedisURL:   redisURL,
			KeyPrefix:  keyPrefix,
			TokensFile: tokensFile,
			MinRepos:   intSetting(c, "min-repos", cfg.Filter.MinRepos),
			MinStars:   intSetting(c, "min-stars", cfg.Filter.MinStars),
		}, logger.Named("workers"))
		if err := supervisor.Start(ctx); err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
		defer supervisor.Stop()
	}

	mon := monitor.New(monitor.Config{
		IdleTimeout:     durationSetting(c, "idle-timeout", cfg.Timeouts.Idle.Duration),
		AbsoluteTimeout: durationSetting(c, "absolute-timeout", cfg.Timeouts.Absolute.Duration),
	}, logger.Named("monitor"), collector)

	var feed *tui.Feed
	if c.Bool("tui") {
		feed = tui.Start()
		mon = mon.WithObserver(feed)
	}

	coord := coordinator.New(
		coordinator.Config{
			MaxUsers:  intSetting(c, "max-users", cfg.MaxUsers),
			StartUser: intSetting(c, "start-user", cfg.StartUser),
			BatchSize: intSetting(c, "batch-size", cfg.BatchSize),
		},
		pool,
		discovery,
		scheduler.New(redisQueue, logger.Named("scheduler"), collector),
		mon,
		aggregate.New(aggregate.Config{}, redisQueue, logger.Named("aggregate"), collector),
		out,
		logger,
		collector,
	)

	result, err := coord.Run(ctx)
	if feed != nil {
		feed.Stop()
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("collection failed: %v", err), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err := r.Render(CollectSummary{
		CheckedUsers:    result.Aggregate.CheckedUsers,
		SuccessfulUsers: result.Aggregate.SuccessfulUsers,
		FilteredUsers:   result.Aggregate.FilteredUsers,
		FailedUsers:     result.Aggregate.FailedUsers,
		TotalProjects:   result.Aggregate.TotalProjects,
		TotalStars:      result.Aggregate.TotalStars,
		StopReason:      string(result.Outcome.Reason),
		Output:          result.Location,
	}); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return cli.Exit("", exitSuccess)
}

// CollectSummary is the end-of-run summary printed to stdout.
type CollectSummary struct {
	CheckedUsers    int    `json:"checked_users"`
	SuccessfulUsers int    `json:"successful_users"`
	FilteredUsers   int    `json:"filtered_users"`
	FailedUsers     int    `json:"failed_users"`
	TotalProjects   int    `json:"total_projects"`
	TotalStars      int64  `json:"total_stars"`
	StopReason      string `json:"stop_reason"`
	Output          string `json:"output"`
}

// buildDiscovery assembles the discovery stage from flags and config.
func buildDiscovery(c *cli.Context, cfg *config.Config, client *gh.Client, logger *log.Logger, collector *metrics.Collector) (*discover.Discovery, error) {
	var partitions *discover.PartitionTable
	if path := stringSetting(c, "partitions", cfg.Partitions); path != "" {
		loaded, err := discover.LoadPartitionTable(path)
		if err != nil {
			return nil, err
		}
		partitions = loaded
	}

	dataDir := stringSetting(c, "data-dir", cfg.DataDir)
	return discover.New(discover.Config{
		Location:   stringSetting(c, "location", cfg.Location),
		Partitions: partitions,
	}, client, discover.NewSnapshotStore(dataDir), logger.Named("discover"), collector)
}

// buildSink assembles the output sink from flags and config.
func buildSink(ctx context.Context, c *cli.Context, cfg *config.Config) (sink.Sink, error) {
	backend := stringSetting(c, "sink", cfg.Storage.Backend)
	switch backend {
	case "", "fs":
		return sink.NewFSSink(stringSetting(c, "output", cfg.Storage.Output))
	case "s3":
		s3Path := stringSetting(c, "s3-path", cfg.Storage.S3Path)
		if s3Path == "" {
			return nil, fmt.Errorf("s3 backend requires --s3-path (bucket/prefix)")
		}
		bucket, prefix := sink.ParseS3Path(s3Path)
		return sink.NewS3Sink(ctx, sink.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       stringSetting(c, "s3-region", cfg.Storage.Region),
			Endpoint:     stringSetting(c, "s3-endpoint", cfg.Storage.Endpoint),
			UsePathStyle: c.Bool("s3-path-style") || cfg.Storage.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown sink backend %q (must be fs or s3)", backend)
	}
}

// durationSetting resolves one duration between flag and config file.
func durationSetting(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}
