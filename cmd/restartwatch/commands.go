package main

import (
	"fmt"
	"sort"
	"time"

	"restartwatch/internal/config"
	"restartwatch/internal/monitor"
	"restartwatch/internal/probe"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			summary := cfg.Summary()
			keys := make([]string, 0, len(summary))
			for k := range summary {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "%-22s %s\n", k, summary[k])
			}
			return nil
		},
	}
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run a single health check against MONITOR_URL",
		Long: `Run a single health check with the configured timeouts and success
codes. Exits 1 unless the check is healthy. No container is touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			res := probe.NewHTTP(version).Probe(cmd.Context(), cfg.URL, cfg.ConnectTimeout, cfg.MaxTimeout)
			outcome := monitor.Classify(cfg, res)

			out := cmd.OutOrStdout()
			if res.Err != nil {
				fmt.Fprintf(out, "%s error=%q duration=%s\n", outcome, res.Err, res.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(out, "%s code=%d duration=%s\n", outcome, res.StatusCode, res.Duration.Round(time.Millisecond))
			}
			if outcome != monitor.Healthy {
				return errUnhealthy
			}
			return nil
		},
	}
}
