// Command radarctl is the operator CLI for the radar situational
// awareness core: running the deterministic load harness, exporting
// and replaying traces, inspecting health status, and linting guard
// rule sets.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var telemetryShutdown func(context.Context) error

var rootCmd = &cobra.Command{
	Use:   "radarctl",
	Short: "Operate the radar situational awareness core",
	// PersistentPreRunE runs after cobra parses --telemetry but before
	// any subcommand body, so telemetryEnabled is settled before the
	// first package-level otel.Tracer/otel.Meter call matters.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := setupTelemetry()
		if err != nil {
			return err
		}
		telemetryShutdown = shutdown
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&telemetryEnabled, "telemetry", false, "install a real stdout-exporting OTel tracer/meter provider")
	rootCmd.AddCommand(loadHarnessCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(pluginsCmd)

	runErr := rootCmd.Execute()

	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := telemetryShutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
		}
		cancel()
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
