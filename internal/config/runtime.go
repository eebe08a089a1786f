// Package config collects the radar core's runtime tunables from
// environment variables (spec §6), following the same declarative
// key/env-var/default/validate table the teacher uses for its deploy.*
// namespace (internal/config/deploy.go), generalized from a K8s/Dolt
// deployment surface to this system's fusion, sensor-trust, event
// store, strict-mode, and health-threshold knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RuntimeKey describes one environment-variable-backed setting.
type RuntimeKey struct {
	EnvVar      string
	Description string
	Default     string
	Validate    func(string) error
}

// RuntimeKeys enumerates every environment variable spec §6 names.
var RuntimeKeys = []RuntimeKey{
	{EnvVar: "RADAR_FUSION_ENABLED", Description: "enable cross-source fusion", Default: "true", Validate: validateBool},
	{EnvVar: "RADAR_FUSION_CONFIRM_FRAMES", Description: "frames a cluster must persist before fusing", Default: "2", Validate: validatePositiveInt},
	{EnvVar: "RADAR_FUSION_COOLDOWN_S", Description: "seconds before a dissolved fused id can be reused", Default: "5", Validate: validateNonNegativeFloat},

	{EnvVar: "QIKI_SENSOR_MAX_AGE_S", Description: "max observation age before a sensor is treated as stale", Default: "2", Validate: validateNonNegativeFloat},
	{EnvVar: "QIKI_SENSOR_MIN_QUALITY", Description: "minimum observation quality to trust a sensor frame", Default: "0.3", Validate: validateUnitFloat},

	{EnvVar: "QIKI_DOCKING_CONFIRMATION_COUNT", Description: "consecutive ticks required to confirm docking", Default: "3", Validate: validatePositiveInt},
	{EnvVar: "QIKI_SAFE_EXIT_CONFIRMATION_COUNT", Description: "consecutive ticks required to confirm a safe-mode exit", Default: "3", Validate: validatePositiveInt},

	{EnvVar: "EVENTSTORE_BACKEND", Description: "event store backend", Default: "memory", Validate: validateEventstoreBackend},
	{EnvVar: "EVENTSTORE_DB_PATH", Description: "sqlite backend database path", Default: "radarcore.db"},
	{EnvVar: "EVENTSTORE_BATCH_SIZE", Description: "sqlite writer batch size", Default: "100", Validate: validatePositiveInt},
	{EnvVar: "EVENTSTORE_QUEUE_MAX", Description: "sqlite writer queue capacity before dropping", Default: "10000", Validate: validatePositiveInt},
	{EnvVar: "EVENTSTORE_FLUSH_MS", Description: "sqlite writer flush interval in milliseconds", Default: "250", Validate: validatePositiveInt},
	{EnvVar: "EVENTSTORE_RETENTION_HOURS", Description: "hours of sqlite event history retained", Default: "168", Validate: validatePositiveInt},
	{EnvVar: "EVENTSTORE_MAX_DB_MB", Description: "sqlite database size cap in megabytes", Default: "1024", Validate: validatePositiveInt},

	{EnvVar: "QIKI_STRICT_MODE", Description: "global strict mode (implies strict for policy, plugins, eventstore)", Default: "false", Validate: validateBool},
	{EnvVar: "QIKI_ALLOW_BIOS_FALLBACK", Description: "allow falling back when BIOS is unavailable", Default: "false", Validate: validateBool},
	{EnvVar: "QIKI_ALLOW_ACTUATOR_FALLBACK", Description: "allow falling back when the actuator is unavailable", Default: "false", Validate: validateBool},
	{EnvVar: "QIKI_ALLOW_GRPC_FALLBACK", Description: "allow falling back when the gRPC provider is unavailable", Default: "false", Validate: validateBool},
	{EnvVar: "QIKI_ALLOW_INTERFACE_FALLBACK", Description: "allow falling back when the interface provider is unavailable", Default: "false", Validate: validateBool},
	{EnvVar: "QIKI_ALLOW_BRIDGE_FALLBACK", Description: "allow falling back when the bridge provider is unavailable", Default: "false", Validate: validateBool},

	{EnvVar: "QIKI_HEALTH_SQLITE_QUEUE_WARN", Description: "sqlite queue depth at which health reports WARN", Default: "1000", Validate: validatePositiveInt},
	{EnvVar: "QIKI_HEALTH_SQLITE_QUEUE_CRIT", Description: "sqlite queue depth at which health reports CRIT", Default: "5000", Validate: validatePositiveInt},
	{EnvVar: "QIKI_HEALTH_SESSION_STALE_MS", Description: "gap since the last health sample considered stale", Default: "5000", Validate: validatePositiveInt},

	{EnvVar: "QIKI_LOAD_STRICT", Description: "load harness promotes threshold exceedances to exit code 2", Default: "false", Validate: validateBool},
}

var runtimeKeyMap map[string]*RuntimeKey

func init() {
	runtimeKeyMap = make(map[string]*RuntimeKey, len(RuntimeKeys))
	for i := range RuntimeKeys {
		runtimeKeyMap[RuntimeKeys[i].EnvVar] = &RuntimeKeys[i]
	}
}

// LookupRuntimeKey returns the RuntimeKey definition for an env var name,
// or nil if it isn't one of spec §6's recognized settings.
func LookupRuntimeKey(envVar string) *RuntimeKey {
	return runtimeKeyMap[envVar]
}

// RuntimeConfig is the fully resolved set of environment-driven
// tunables, read once at process startup.
type RuntimeConfig struct {
	FusionEnabled       bool
	FusionConfirmFrames int
	FusionCooldownS     float64

	SensorMaxAgeS    float64
	SensorMinQuality float64

	DockingConfirmationCount  int
	SafeExitConfirmationCount int

	EventstoreBackend        string
	EventstoreDBPath         string
	EventstoreBatchSize      int
	EventstoreQueueMax       int
	EventstoreFlushMs        int
	EventstoreRetentionHours int
	EventstoreMaxDBMB        int

	StrictMode            bool
	AllowBiosFallback     bool
	AllowActuatorFallback bool
	AllowGRPCFallback     bool
	AllowInterfaceFallback bool
	AllowBridgeFallback   bool

	HealthSQLiteQueueWarn int
	HealthSQLiteQueueCrit int
	HealthSessionStaleMs  int

	LoadStrict bool
}

// LoadRuntimeConfig reads every RuntimeKeys entry from the process
// environment, applying its default when unset and rejecting any
// resulting value that fails its Validate func. QIKI_STRICT_MODE, when
// true, additionally forces StrictMode regardless of any more specific
// setting — strict mode is a ceiling, not a default (spec §6).
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	values := make(map[string]string, len(RuntimeKeys))
	for _, k := range RuntimeKeys {
		raw, ok := os.LookupEnv(k.EnvVar)
		if !ok {
			raw = k.Default
		}
		if k.Validate != nil {
			if err := k.Validate(raw); err != nil {
				return nil, fmt.Errorf("config: %s: %w", k.EnvVar, err)
			}
		}
		values[k.EnvVar] = raw
	}

	cfg := &RuntimeConfig{
		FusionEnabled:             mustBool(values["RADAR_FUSION_ENABLED"]),
		FusionConfirmFrames:       mustInt(values["RADAR_FUSION_CONFIRM_FRAMES"]),
		FusionCooldownS:           mustFloat(values["RADAR_FUSION_COOLDOWN_S"]),
		SensorMaxAgeS:             mustFloat(values["QIKI_SENSOR_MAX_AGE_S"]),
		SensorMinQuality:          mustFloat(values["QIKI_SENSOR_MIN_QUALITY"]),
		DockingConfirmationCount:  mustInt(values["QIKI_DOCKING_CONFIRMATION_COUNT"]),
		SafeExitConfirmationCount: mustInt(values["QIKI_SAFE_EXIT_CONFIRMATION_COUNT"]),
		EventstoreBackend:         values["EVENTSTORE_BACKEND"],
		EventstoreDBPath:          values["EVENTSTORE_DB_PATH"],
		EventstoreBatchSize:       mustInt(values["EVENTSTORE_BATCH_SIZE"]),
		EventstoreQueueMax:        mustInt(values["EVENTSTORE_QUEUE_MAX"]),
		EventstoreFlushMs:         mustInt(values["EVENTSTORE_FLUSH_MS"]),
		EventstoreRetentionHours:  mustInt(values["EVENTSTORE_RETENTION_HOURS"]),
		EventstoreMaxDBMB:         mustInt(values["EVENTSTORE_MAX_DB_MB"]),
		StrictMode:                mustBool(values["QIKI_STRICT_MODE"]),
		AllowBiosFallback:         mustBool(values["QIKI_ALLOW_BIOS_FALLBACK"]),
		AllowActuatorFallback:     mustBool(values["QIKI_ALLOW_ACTUATOR_FALLBACK"]),
		AllowGRPCFallback:         mustBool(values["QIKI_ALLOW_GRPC_FALLBACK"]),
		AllowInterfaceFallback:    mustBool(values["QIKI_ALLOW_INTERFACE_FALLBACK"]),
		AllowBridgeFallback:       mustBool(values["QIKI_ALLOW_BRIDGE_FALLBACK"]),
		HealthSQLiteQueueWarn:     mustInt(values["QIKI_HEALTH_SQLITE_QUEUE_WARN"]),
		HealthSQLiteQueueCrit:     mustInt(values["QIKI_HEALTH_SQLITE_QUEUE_CRIT"]),
		HealthSessionStaleMs:      mustInt(values["QIKI_HEALTH_SESSION_STALE_MS"]),
		LoadStrict:                mustBool(values["QIKI_LOAD_STRICT"]),
	}
	return cfg, nil
}

func validateBool(value string) error {
	switch strings.ToLower(value) {
	case "true", "false", "1", "0", "yes", "no":
		return nil
	default:
		return fmt.Errorf("must be true or false, got %q", value)
	}
}

func validatePositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer, got %q", value)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateNonNegativeFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if f < 0 {
		return fmt.Errorf("must be >= 0, got %v", f)
	}
	return nil
}

func validateUnitFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %v", f)
	}
	return nil
}

func validateEventstoreBackend(value string) error {
	switch value {
	case "memory", "sqlite":
		return nil
	default:
		return fmt.Errorf("must be one of: memory, sqlite; got %q", value)
	}
}

func mustBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func mustInt(value string) int {
	n, _ := strconv.Atoi(value)
	return n
}

func mustFloat(value string) float64 {
	f, _ := strconv.ParseFloat(value, 64)
	return f
}
