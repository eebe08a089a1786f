package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/qiki-sim/radarcore/internal/trace"
)

var healthFile string

// healthCmd reconstructs current health status from a recorded event
// trace rather than querying a live process: the health monitor's
// state is entirely derivable from the HEALTH_* event sequence (spec
// §4.8), so the last transition per metric_id is the current level —
// the same "truth is the event log" principle the rest of this system
// follows.
var healthCmd = &cobra.Command{
	Use:   "health-cli",
	Short: "Report current health status from a recorded event trace",
	RunE:  runHealthCLI,
}

func init() {
	healthCmd.Flags().StringVar(&healthFile, "file", "", "JSONL trace file to read HEALTH_* events from (required)")
}

func runHealthCLI(cmd *cobra.Command, args []string) error {
	if healthFile == "" {
		return fmt.Errorf("health-cli: --file is required")
	}
	envelopes, err := trace.ReadEnvelopes(healthFile)
	if err != nil {
		return fmt.Errorf("health-cli: %w", err)
	}

	levels := make(map[string]string)
	var sessionStatus string

	for _, e := range envelopes {
		switch e.EventType {
		case "HEALTH_WARN", "HEALTH_CRIT":
			id, _ := e.Payload["metric_id"].(string)
			level, _ := e.Payload["level"].(string)
			if id != "" {
				levels[id] = level
			}
		case "HEALTH_RECOVERED":
			id, _ := e.Payload["metric_id"].(string)
			if id == "session_staleness" {
				sessionStatus = "OK"
				continue
			}
			if id != "" {
				levels[id] = "OK"
			}
		case "HEALTH_NO_DATA":
			sessionStatus = "NO_DATA"
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(map[string]any{
			"file":           healthFile,
			"metric_levels":  levels,
			"session_status": sessionStatus,
		})
	}

	ids := make([]string, 0, len(levels))
	for id := range levels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%-24s %s\n", id, levels[id])
	}
	if sessionStatus != "" {
		fmt.Printf("%-24s %s\n", "session_staleness", sessionStatus)
	}
	return nil
}
