package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/prospector/types"
)

// VersionCommand returns the version command. The coordinator and worker
// binaries share a single version (lockstep versioning).
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(_ *cli.Context) error {
			fmt.Printf("prospector %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
