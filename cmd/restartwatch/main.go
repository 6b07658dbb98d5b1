package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"restartwatch/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

// errUnhealthy makes the probe subcommand exit non-zero without extra output.
var errUnhealthy = errors.New("probe not healthy")

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintln(os.Stderr, "restartwatch:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restartwatch",
		Short: "Restart a container when its HTTP health check keeps failing",
		Long: `restartwatch probes MONITOR_URL every CHECK_INTERVAL and restarts
CONTAINER_NAME after RETRY_COUNT consecutive failed checks, at most
MAX_RESTARTS_PER_HOUR times in any trailing hour.

Configuration is read from the environment and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newProbeCommand())
	return cmd
}
