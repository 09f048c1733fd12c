// Package cmd implements the prospector CLI commands.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/prospector/cli/config"
)

// discoveryFlags are shared by collect and discover: everything needed to
// build a candidate population.
func discoveryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to prospector.yaml config file",
		},
		&cli.StringFlag{
			Name:  "location",
			Usage: "Location term for candidate discovery",
			Value: "Seattle",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Directory for population snapshots",
			Value: "data",
		},
		&cli.StringFlag{
			Name:  "partitions",
			Usage: "Path to a YAML partition table (empty: built-in table)",
		},
		&cli.StringFlag{
			Name:  "tokens-file",
			Usage: "Dotenv file with API tokens",
			Value: config.DefaultTokensFile,
		},
		&cli.IntFlag{
			Name:  "max-users",
			Usage: "Candidate population ceiling",
			Value: 1000,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Summary output format: json, table, or yaml",
		},
	}
}

// loadConfig reads the --config file when given, otherwise returns an empty
// config so flag defaults apply.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// stringSetting resolves one string between flag and config file: an
// explicitly set flag wins, then the config value, then the flag default.
func stringSetting(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

// intSetting resolves one int the same way.
func intSetting(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}
