package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Name: "radar-sim", Kind: KindSensorInput}))
	err := r.Register(&Entry{Name: "radar-sim", Kind: KindSensorInput})
	require.Error(t, err)
}

func TestResolveInstantiatesInDependencyOrder(t *testing.T) {
	var order []string

	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{
		Name:     "builtin-sensor",
		Kind:     KindSensorInput,
		Provides: []string{"tracks"},
		Factory: func(ctx Context, params map[string]any) (any, error) {
			order = append(order, "sensor")
			return "sensor-instance", nil
		},
	}))
	require.NoError(t, r.Register(&Entry{
		Name:     "builtin-fusion",
		Kind:     KindFusion,
		Requires: []string{"tracks"},
		Provides: []string{"fused_tracks"},
		Factory: func(ctx Context, params map[string]any) (any, error) {
			order = append(order, "fusion")
			return "fusion-instance", nil
		},
	}))
	require.NoError(t, r.Register(&Entry{
		Name:     "builtin-render",
		Kind:     KindRenderBackend,
		Requires: []string{"fused_tracks"},
		Factory: func(ctx Context, params map[string]any) (any, error) {
			order = append(order, "render")
			return "render-instance", nil
		},
	}))

	m := NewManager(r, true)
	clk := clock.NewSystem()
	ctx := Context{Clock: clk, Events: eventstore.NewMemoryStore(clk, 10)}

	selection := map[Kind]PluginRef{
		KindSensorInput:   {Name: "builtin-sensor"},
		KindFusion:        {Name: "builtin-fusion"},
		KindRenderBackend: {Name: "builtin-render"},
	}

	results, err := m.Resolve(ctx, selection, nil)
	require.NoError(t, err)
	require.Equal(t, "sensor-instance", results[KindSensorInput].Instance)
	require.Equal(t, "fusion-instance", results[KindFusion].Instance)
	require.Equal(t, "render-instance", results[KindRenderBackend].Instance)

	require.Equal(t, []string{"sensor", "fusion", "render"}, order)
}

func TestResolveDetectsDependencyCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{
		Name: "a", Kind: KindSensorInput, Provides: []string{"b_ready"}, Requires: []string{"a_ready"},
		Factory: func(Context, map[string]any) (any, error) { return nil, nil },
	}))
	require.NoError(t, r.Register(&Entry{
		Name: "b", Kind: KindFusion, Provides: []string{"a_ready"}, Requires: []string{"b_ready"},
		Factory: func(Context, map[string]any) (any, error) { return nil, nil },
	}))

	m := NewManager(r, true)
	clk := clock.NewSystem()
	ctx := Context{Clock: clk, Events: eventstore.NewMemoryStore(clk, 10)}

	selection := map[Kind]PluginRef{
		KindSensorInput: {Name: "a"},
		KindFusion:      {Name: "b"},
	}

	_, err := m.Resolve(ctx, selection, nil)
	require.ErrorIs(t, err, ErrDependencyCycle)
}

func TestResolveStrictModeFailsOnUnknownPlugin(t *testing.T) {
	r := NewRegistry()
	m := NewManager(r, true)
	clk := clock.NewSystem()
	events := eventstore.NewMemoryStore(clk, 10)
	ctx := Context{Clock: clk, Events: events}

	_, err := m.Resolve(ctx, map[Kind]PluginRef{
		KindSensorInput: {Name: "does-not-exist"},
	}, nil)
	require.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestResolveNonStrictFallsBackAndEmitsEvent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{
		Name: "builtin-sensor", Kind: KindSensorInput,
		Factory: func(Context, map[string]any) (any, error) { return "builtin-instance", nil },
	}))

	m := NewManager(r, false)
	clk := clock.NewSystem()
	events := eventstore.NewMemoryStore(clk, 10)
	ctx := Context{Clock: clk, Events: events}

	results, err := m.Resolve(ctx, map[Kind]PluginRef{
		KindSensorInput: {Name: "third-party-sensor"},
	}, map[Kind]string{KindSensorInput: "builtin-sensor"})
	require.NoError(t, err)
	require.True(t, results[KindSensorInput].Fallback)
	require.Equal(t, "builtin-instance", results[KindSensorInput].Instance)

	fallbacks := events.Filter(eventstore.FilterSpec{EventType: "PLUGIN_FALLBACK_USED"})
	require.Len(t, fallbacks, 1)
	require.Equal(t, types.TruthFallback, fallbacks[0].TruthState)
}

func TestParseProfileSelection(t *testing.T) {
	data := []byte(`
schema_version: 1
profiles:
  docking:
    sensor_input:
      name: radar-sim
      params:
        seed: 42
    fusion:
      name: builtin-fusion
`)
	f, err := ParseProfile(data)
	require.NoError(t, err)

	sel, err := f.Selection("docking")
	require.NoError(t, err)
	require.Equal(t, "radar-sim", sel[KindSensorInput].Name)
	require.Equal(t, 42, sel[KindSensorInput].Params["seed"])

	_, err = f.Selection("missing")
	require.Error(t, err)
}

func TestParseProfileRejectsWrongSchemaVersion(t *testing.T) {
	_, err := ParseProfile([]byte("schema_version: 2\nprofiles: {}\n"))
	require.Error(t, err)
}
