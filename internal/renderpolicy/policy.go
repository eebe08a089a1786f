// Package renderpolicy parses the render policy YAML v1 file (spec
// §6): schema_version, defaults, per-view profiles, the adaptive
// degrade/recover tuning, and the bitmap scale ladder. Mirrors
// guard.LoadRulesFile/ParseRules's yaml.v3 shape.
package renderpolicy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qiki-sim/radarcore/internal/pipeline"
)

// Profile is one named render profile's defaults override (spec §6
// profiles: {navigation, docking, combat}). Fields are sparse: a
// profile only overrides what it names, falling back to File.Defaults
// for everything else.
type Profile struct {
	FrameBudgetMs *float64 `yaml:"frame_budget_ms,omitempty"`
}

// Adaptive is the degrade/recover hysteresis tuning section (spec §6
// adaptive: {enabled, degrade_confirm_frames, recovery_confirm_frames,
// cooldown_ms, max_level}).
type Adaptive struct {
	Enabled               bool `yaml:"enabled"`
	DegradeConfirmFrames  int  `yaml:"degrade_confirm_frames"`
	RecoveryConfirmFrames int  `yaml:"recovery_confirm_frames"`
	CooldownMs            int  `yaml:"cooldown_ms"`
	MaxLevel              int  `yaml:"max_level"`
}

// fileDefaults is the on-disk shape of the `defaults` section, read
// independently of a selected profile.
type fileDefaults struct {
	FrameBudgetMs float64 `yaml:"frame_budget_ms"`
}

// File is the parsed render policy YAML.
type File struct {
	SchemaVersion int                 `yaml:"schema_version"`
	Defaults      fileDefaults        `yaml:"defaults"`
	Profiles      map[string]Profile  `yaml:"profiles"`
	Adaptive      Adaptive            `yaml:"adaptive"`
	BitmapScales  []float64           `yaml:"bitmap_scales"`
}

// LoadFile reads and parses a render policy YAML file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file
	if err != nil {
		return nil, fmt.Errorf("renderpolicy: reading file: %w", err)
	}
	return Parse(data)
}

// Parse parses render policy YAML bytes (spec §6 invariant:
// schema_version must be 1 and bitmap_scales must be non-empty).
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("renderpolicy: parsing yaml: %w", err)
	}
	if f.SchemaVersion != 1 {
		return nil, fmt.Errorf("renderpolicy: unsupported schema_version %d", f.SchemaVersion)
	}
	if len(f.BitmapScales) == 0 {
		return nil, fmt.Errorf("renderpolicy: bitmap_scales must be non-empty")
	}
	return &f, nil
}

// AdaptiveConfig derives a pipeline.AdaptiveConfig for profileName,
// layering the profile's frame_budget_ms override (if any) over
// File.Defaults and carrying the shared adaptive/bitmap_scales
// sections straight through. An unknown profile name falls back to
// File.Defaults alone, since Non-goals exclude a strict-mode YAML
// operator surface for this file (guard rules and plugin profiles get
// one; render policy does not).
func (f *File) AdaptiveConfig(profileName string) pipeline.AdaptiveConfig {
	frameBudgetMs := f.Defaults.FrameBudgetMs
	if p, ok := f.Profiles[profileName]; ok && p.FrameBudgetMs != nil {
		frameBudgetMs = *p.FrameBudgetMs
	}

	return pipeline.AdaptiveConfig{
		FrameBudgetMs:         frameBudgetMs,
		DegradeConfirmFrames:  f.Adaptive.DegradeConfirmFrames,
		RecoveryConfirmFrames: f.Adaptive.RecoveryConfirmFrames,
		CooldownMs:            f.Adaptive.CooldownMs,
		MaxLevel:              f.Adaptive.MaxLevel,
		BitmapScales:          append([]float64(nil), f.BitmapScales...),
		Disabled:              !f.Adaptive.Enabled,
	}
}
