package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qiki-sim/radarcore/internal/guard"
)

var guardRulesFile string

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Inspect and validate guard rule files",
}

// guardLintCmd statically checks a guard rules YAML file for issues a
// malformed or contradictory rule set would otherwise only surface at
// runtime — a supplemented feature beyond the distilled spec, in the
// same spirit as guard.Watcher's reload-time validation.
var guardLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check a guard rules file for duplicate ids and unreachable predicates",
	RunE:  runGuardLint,
}

func init() {
	guardLintCmd.Flags().StringVar(&guardRulesFile, "file", "", "guard rules YAML file (required)")
	guardCmd.AddCommand(guardLintCmd)
}

type lintFinding struct {
	RuleID string `json:"rule_id"`
	Issue  string `json:"issue"`
}

func runGuardLint(cmd *cobra.Command, args []string) error {
	if guardRulesFile == "" {
		return fmt.Errorf("guard lint: --file is required")
	}
	rules, err := guard.LoadRulesFile(guardRulesFile)
	if err != nil {
		return fmt.Errorf("guard lint: %w", err)
	}

	var findings []lintFinding
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.RuleID] {
			findings = append(findings, lintFinding{r.RuleID, "duplicate rule id"})
		}
		seen[r.RuleID] = true
		if r.MinRangeM != nil && r.MaxRangeM != nil && *r.MinRangeM > *r.MaxRangeM {
			findings = append(findings, lintFinding{r.RuleID, "min_range_m exceeds max_range_m: this rule can never match"})
		}
		if r.MinQuality < 0 || r.MinQuality > 1 {
			findings = append(findings, lintFinding{r.RuleID, "min_quality outside [0,1]"})
		}
		if r.CooldownS < 0 {
			findings = append(findings, lintFinding{r.RuleID, "cooldown_s is negative"})
		}
		if r.MinDurationS < 0 {
			findings = append(findings, lintFinding{r.RuleID, "min_duration_s is negative"})
		}
		if r.Severity == "" {
			findings = append(findings, lintFinding{r.RuleID, "severity is empty"})
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(map[string]any{
			"file":      guardRulesFile,
			"rules":     len(rules),
			"findings":  findings,
			"ok":        len(findings) == 0,
		})
	}

	fmt.Printf("%d rules loaded from %s\n", len(rules), guardRulesFile)
	for _, f := range findings {
		fmt.Printf("  %s: %s\n", f.RuleID, f.Issue)
	}
	if len(findings) == 0 {
		fmt.Println("no issues found")
	}
	return nil
}
