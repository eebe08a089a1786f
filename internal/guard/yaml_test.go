package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/types"
)

const sampleRulesYAML = `
schema_version: 1
rules:
  - id: proximity-alert
    description: target too close
    severity: critical
    fsm_event: PROXIMITY_ALERT
    max_range_m: 100
    min_quality: 0.5
    cooldown_s: 10
    hysteresis_m: 5
  - id: fast-mover
    severity: warning
    fsm_event: FAST_MOVER
    max_radial_velocity_mps: 500
    min_quality: 0.3
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(sampleRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "proximity-alert", rules[0].RuleID)
	require.Equal(t, types.SeverityCritical, rules[0].Severity)
	require.NotNil(t, rules[0].MaxRangeM)
	require.Equal(t, 100.0, *rules[0].MaxRangeM)
	require.Equal(t, "fast-mover", rules[1].RuleID)
}

func TestParseRulesRejectsWrongSchemaVersion(t *testing.T) {
	_, err := ParseRules([]byte("schema_version: 2\nrules: []\n"))
	require.Error(t, err)
}

func TestParseRulesRejectsMissingID(t *testing.T) {
	_, err := ParseRules([]byte("schema_version: 1\nrules:\n  - severity: info\n"))
	require.Error(t, err)
}

func TestParseRulesRejectsInvalidSeverity(t *testing.T) {
	_, err := ParseRules([]byte("schema_version: 1\nrules:\n  - id: x\n    severity: extreme\n"))
	require.Error(t, err)
}
