package renderpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
schema_version: 1
defaults:
  frame_budget_ms: 100
profiles:
  navigation:
    frame_budget_ms: 120
  docking:
    frame_budget_ms: 60
  combat: {}
adaptive:
  enabled: true
  degrade_confirm_frames: 3
  recovery_confirm_frames: 5
  cooldown_ms: 2000
  max_level: 2
bitmap_scales: [1.0, 0.5, 0.25]
`

func TestParsePolicy(t *testing.T) {
	f, err := Parse([]byte(samplePolicyYAML))
	require.NoError(t, err)
	require.Equal(t, 1, f.SchemaVersion)
	require.Equal(t, 100.0, f.Defaults.FrameBudgetMs)
	require.Len(t, f.Profiles, 3)
	require.Equal(t, []float64{1.0, 0.5, 0.25}, f.BitmapScales)
}

func TestParsePolicyRejectsWrongSchemaVersion(t *testing.T) {
	_, err := Parse([]byte("schema_version: 2\nbitmap_scales: [1.0]\n"))
	require.Error(t, err)
}

func TestParsePolicyRejectsEmptyBitmapScales(t *testing.T) {
	_, err := Parse([]byte("schema_version: 1\nbitmap_scales: []\n"))
	require.Error(t, err)
}

func TestAdaptiveConfigLayersProfileOverDefaults(t *testing.T) {
	f, err := Parse([]byte(samplePolicyYAML))
	require.NoError(t, err)

	nav := f.AdaptiveConfig("navigation")
	require.Equal(t, 120.0, nav.FrameBudgetMs)
	require.Equal(t, 3, nav.DegradeConfirmFrames)
	require.Equal(t, 2000, nav.CooldownMs)
	require.Equal(t, 2, nav.MaxLevel)
	require.False(t, nav.Disabled)

	combat := f.AdaptiveConfig("combat")
	require.Equal(t, 100.0, combat.FrameBudgetMs)

	unknown := f.AdaptiveConfig("nonexistent")
	require.Equal(t, 100.0, unknown.FrameBudgetMs)
}

func TestAdaptiveConfigDisabledWhenAdaptiveNotEnabled(t *testing.T) {
	f, err := Parse([]byte("schema_version: 1\nbitmap_scales: [1.0]\n"))
	require.NoError(t, err)
	require.True(t, f.AdaptiveConfig("navigation").Disabled)
}
