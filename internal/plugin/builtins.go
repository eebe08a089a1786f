package plugin

import (
	"fmt"

	"github.com/qiki-sim/radarcore/internal/fusion"
	"github.com/qiki-sim/radarcore/internal/pipeline"
	"github.com/qiki-sim/radarcore/internal/renderbackend"
	"github.com/qiki-sim/radarcore/internal/renderpolicy"
	"github.com/qiki-sim/radarcore/internal/situation"
	"github.com/qiki-sim/radarcore/internal/trackstore"
)

// Built-in plugin names: one per Kind, used both as the registry entry
// name and as the non-strict-mode fallback target (spec §4.10: "an
// unresolvable plugin name falls back to a built-in implementation
// rather than failing the run, unless strict mode is set").
const (
	BuiltinTrackStore    = "builtin-trackstore"
	BuiltinFusion        = "builtin-fusion"
	BuiltinRenderPolicy  = "builtin-render-policy"
	BuiltinRenderBackend = "builtin-render-backend"
	BuiltinSituation     = "builtin-situation"
)

// Builtins maps every Kind to its built-in fallback name, the shape
// Manager.Resolve's builtins parameter expects.
func Builtins() map[Kind]string {
	return map[Kind]string{
		KindSensorInput:         BuiltinTrackStore,
		KindFusion:              BuiltinFusion,
		KindRenderPolicy:        BuiltinRenderPolicy,
		KindRenderBackend:       BuiltinRenderBackend,
		KindSituationalAnalysis: BuiltinSituation,
	}
}

// BuiltinRegistry returns the registry of built-in plugins radarctl
// ships, one per Kind. Each factory reads its construction parameters
// out of the profile YAML's params map (spec §6 plugin profile), using
// the existing component's zero value whenever a given param is absent.
func BuiltinRegistry() *Registry {
	reg := NewRegistry()
	entries := []*Entry{
		{
			Name:     BuiltinTrackStore,
			Kind:     KindSensorInput,
			Provides: []string{"source_tracks"},
			Factory: func(ctx Context, params map[string]any) (any, error) {
				return trackstore.New(trackstore.Config{
					MinHitsToConfirm: paramInt(params, "min_hits_to_confirm", 0),
				}, ctx.Events), nil
			},
		},
		{
			Name:     BuiltinFusion,
			Kind:     KindFusion,
			Provides: []string{"fused_tracks"},
			Requires: []string{"source_tracks"},
			Factory: func(ctx Context, params map[string]any) (any, error) {
				return fusion.New(fusion.Config{
					ConfirmFrames: paramInt(params, "confirm_frames", 0),
				}, ctx.Events), nil
			},
		},
		{
			Name:     BuiltinRenderPolicy,
			Kind:     KindRenderPolicy,
			Provides: []string{"adaptive_config"},
			Factory: func(ctx Context, params map[string]any) (any, error) {
				path, _ := params["path"].(string)
				if path == "" {
					return pipeline.AdaptiveConfig{}, nil
				}
				file, err := renderpolicy.LoadFile(path)
				if err != nil {
					return nil, fmt.Errorf("plugin: %s: %w", BuiltinRenderPolicy, err)
				}
				profile, _ := params["profile"].(string)
				return file.AdaptiveConfig(profile), nil
			},
		},
		{
			Name: BuiltinRenderBackend,
			Kind: KindRenderBackend,
			Factory: func(ctx Context, params map[string]any) (any, error) {
				return renderbackend.NewSlogBackend(nil), nil
			},
		},
		{
			Name:     BuiltinSituation,
			Kind:     KindSituationalAnalysis,
			Requires: []string{"fused_tracks"},
			Factory: func(ctx Context, params map[string]any) (any, error) {
				return situation.New(situation.Config{
					WarnDistM: paramFloat(params, "warn_dist_m", 0),
					CritDistM: paramFloat(params, "crit_dist_m", 0),
					HorizonS:  paramFloat(params, "horizon_s", 0),
				}, ctx.Events), nil
			},
		},
	}
	for _, e := range entries {
		must(reg.Register(e))
	}
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func paramInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}
