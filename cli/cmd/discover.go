package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/prospector/cli/config"
	"github.com/justapithecus/prospector/cli/render"
	"github.com/justapithecus/prospector/discover"
	"github.com/justapithecus/prospector/gh"
	"github.com/justapithecus/prospector/log"
	"github.com/justapithecus/prospector/metrics"
	"github.com/justapithecus/prospector/token"
	"github.com/justapithecus/prospector/types"
)

// DiscoverCommand returns the discover command: build and persist a
// candidate population snapshot without running collection.
func DiscoverCommand() *cli.Command {
	flags := append(discoveryFlags(),
		&cli.BoolFlag{
			Name:  "fresh",
			Usage: "Ignore cached snapshots and run a full sweep",
		},
	)

	return &cli.Command{
		Name:   "discover",
		Usage:  "Discover the candidate population and save a snapshot",
		Flags:  flags,
		Action: discoverAction,
	}
}

func discoverAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	runID := uuid.NewString()
	logger := log.NewLogger(runID, "discover")
	collector := metrics.NewCollector(runID)

	creds, err := config.LoadCredentials(stringSetting(c, "tokens-file", cfg.TokensFile))
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

	discovery, err := buildDiscovery(c, cfg, client, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	maxUsers := intSetting(c, "max-users", cfg.MaxUsers)
	snapshot, err := discoverRun(c, discovery, maxUsers)
	if err != nil {
		return cli.Exit(fmt.Sprintf("discovery failed: %v", err), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err := r.Render(DiscoverSummary{
		Candidates: snapshot.Count(),
		SubQueries: snapshot.FiltersUsed,
		Strategy:   snapshot.Strategy,
	}); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return cli.Exit("", exitSuccess)
}

// DiscoverSummary is the discovery summary printed to stdout.
type DiscoverSummary struct {
	Candidates int    `json:"candidates"`
	SubQueries int    `json:"sub_queries"`
	Strategy   string `json:"strategy"`
}

func discoverRun(c *cli.Context, discovery *discover.Discovery, maxUsers int) (*types.Snapshot, error) {
	if c.Bool("fresh") {
		return discovery.Discover(c.Context, maxUsers)
	}
	return discovery.LoadOrDiscover(c.Context, maxUsers)
}
