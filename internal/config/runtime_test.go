package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// clearRuntimeEnv removes every RuntimeKeys env var so each test starts
// from defaults regardless of the ambient process environment.
func clearRuntimeEnv(t *testing.T) {
	t.Helper()
	for _, k := range RuntimeKeys {
		old, existed := os.LookupEnv(k.EnvVar)
		os.Unsetenv(k.EnvVar)
		if existed {
			t.Cleanup(func() { os.Setenv(k.EnvVar, old) })
		}
	}
}

func TestLoadRuntimeConfigAppliesDefaults(t *testing.T) {
	clearRuntimeEnv(t)

	cfg, err := LoadRuntimeConfig()
	require.NoError(t, err)
	require.True(t, cfg.FusionEnabled)
	require.Equal(t, 2, cfg.FusionConfirmFrames)
	require.Equal(t, "memory", cfg.EventstoreBackend)
	require.False(t, cfg.StrictMode)
	require.False(t, cfg.AllowBiosFallback)
}

func TestLoadRuntimeConfigReadsEnvOverrides(t *testing.T) {
	clearRuntimeEnv(t)
	os.Setenv("RADAR_FUSION_ENABLED", "false")
	os.Setenv("EVENTSTORE_BACKEND", "sqlite")
	os.Setenv("QIKI_SENSOR_MIN_QUALITY", "0.75")
	os.Setenv("QIKI_STRICT_MODE", "true")

	cfg, err := LoadRuntimeConfig()
	require.NoError(t, err)
	require.False(t, cfg.FusionEnabled)
	require.Equal(t, "sqlite", cfg.EventstoreBackend)
	require.Equal(t, 0.75, cfg.SensorMinQuality)
	require.True(t, cfg.StrictMode)
}

func TestLoadRuntimeConfigRejectsInvalidValues(t *testing.T) {
	clearRuntimeEnv(t)
	os.Setenv("EVENTSTORE_BACKEND", "postgres")

	_, err := LoadRuntimeConfig()
	require.Error(t, err)
}

func TestLoadRuntimeConfigRejectsOutOfRangeQuality(t *testing.T) {
	clearRuntimeEnv(t)
	os.Setenv("QIKI_SENSOR_MIN_QUALITY", "1.5")

	_, err := LoadRuntimeConfig()
	require.Error(t, err)
}

func TestLookupRuntimeKeyFindsKnownKey(t *testing.T) {
	k := LookupRuntimeKey("RADAR_FUSION_CONFIRM_FRAMES")
	require.NotNil(t, k)
	require.Equal(t, "2", k.Default)

	require.Nil(t, LookupRuntimeKey("NOT_A_REAL_KEY"))
}
