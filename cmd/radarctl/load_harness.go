package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/fusion"
	"github.com/qiki-sim/radarcore/internal/guard"
	"github.com/qiki-sim/radarcore/internal/health"
	"github.com/qiki-sim/radarcore/internal/pipeline"
	"github.com/qiki-sim/radarcore/internal/plugin"
	"github.com/qiki-sim/radarcore/internal/renderbackend"
	"github.com/qiki-sim/radarcore/internal/shipfsm"
	"github.com/qiki-sim/radarcore/internal/situation"
	"github.com/qiki-sim/radarcore/internal/trace"
	"github.com/qiki-sim/radarcore/internal/trackstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

var (
	harnessScenario          string
	harnessDurationTicks     int
	harnessTargets           int
	harnessSeed              int64
	harnessFusionEnabled     bool
	harnessSQLitePath        string
	harnessQueueWarnFlag     int
	harnessQueueCritFlag     int
	harnessStrict            bool
	harnessPluginProfilePath string
	harnessPluginProfile     string
	harnessPluginStrict      bool
	harnessTraceOutPath      string
)

// harnessSummary is the JSON summary line load-harness prints on exit,
// consumed by CI and the load-test operator (spec §6/§7).
type harnessSummary struct {
	Scenario       string             `json:"scenario"`
	Ticks          int                `json:"ticks"`
	Targets        int                `json:"targets"`
	Seed           int64              `json:"seed"`
	DroppedEvents  int64              `json:"dropped_events"`
	MaxQueueDepth  int                `json:"max_queue_depth"`
	HealthLevels   map[string]string  `json:"health_levels"`
	ExitCode       int                `json:"exit_code"`
}

var loadHarnessCmd = &cobra.Command{
	Use:   "load-harness",
	Short: "Run a deterministic synthetic scenario through the pipeline",
	RunE:  runLoadHarness,
}

func init() {
	f := loadHarnessCmd.Flags()
	f.StringVar(&harnessScenario, "scenario", "steady-state", "scenario name (steady-state, hostile-approach, sensor-dropout)")
	f.IntVar(&harnessDurationTicks, "duration", 100, "number of simulated ticks to run")
	f.IntVar(&harnessTargets, "targets", 5, "number of synthetic tracked targets")
	f.Int64Var(&harnessSeed, "seed", 1, "PRNG seed for deterministic target synthesis")
	f.BoolVar(&harnessFusionEnabled, "fusion", true, "enable the fusion engine")
	f.StringVar(&harnessSQLitePath, "sqlite", "", "if set, use the SQLite event store at this path instead of memory")
	f.IntVar(&harnessQueueWarnFlag, "queue-warn", 1000, "sqlite queue depth WARN threshold")
	f.IntVar(&harnessQueueCritFlag, "queue-crit", 5000, "sqlite queue depth CRIT threshold")
	f.BoolVar(&harnessStrict, "strict", false, "promote HEALTH_CRIT / dropped events to exit code 2 (no frame-time threshold is checked)")
	f.StringVar(&harnessPluginProfilePath, "plugin-profile", "", "plugin profile YAML file (spec §6); omitted selects all-builtin plugins")
	f.StringVar(&harnessPluginProfile, "profile", "default", "profile name to select from --plugin-profile")
	f.BoolVar(&harnessPluginStrict, "plugin-strict", false, "fail on an unresolvable plugin name instead of falling back to the built-in")
	f.StringVar(&harnessTraceOutPath, "trace-out", "", "if set, export the run's event trace as JSONL to this path on exit")
}

func runLoadHarness(cmd *cobra.Command, args []string) error {
	clk := clock.NewReplay(time.Unix(0, 0))

	var events eventstore.Store
	var sqliteStore *eventstore.SQLiteStore
	sideStore := eventstore.NewMemoryStore(clk, 10000)
	if harnessSQLitePath != "" {
		s, err := eventstore.NewSQLiteStore(clk, eventstore.SQLiteConfig{DBPath: harnessSQLitePath}, sideStore)
		if err != nil {
			return fmt.Errorf("load-harness: opening sqlite store: %w", err)
		}
		sqliteStore = s
		events = s
		defer s.Close()
	} else {
		events = sideStore
	}

	tracks, fuser, adaptiveCfg, backend, sit, err := resolvePlugins(clk, events)
	if err != nil {
		return fmt.Errorf("load-harness: resolving plugins: %w", err)
	}

	table := guard.NewTable()
	cadence := guard.NewCadence(guard.Config{}, table, events)
	fsm := shipfsm.New(shipfsm.Config{}, events)
	hm := health.New(health.Config{
		SQLiteQueueDepth: health.Thresholds{Warn: float64(harnessQueueWarnFlag), Crit: float64(harnessQueueCritFlag)},
	}, events)

	p := pipeline.New(pipeline.Config{FusionEnabled: harnessFusionEnabled, Adaptive: adaptiveCfg}, clk, events, tracks, fuser, table, cadence, fsm, hm, sit)
	p.Backend = backend
	if sqliteStore != nil {
		p.DroppedEvents = sqliteStore.DroppedCount
		p.QueueDepth = sqliteStore.QueueDepth
	}

	gen := newScenarioGenerator(harnessScenario, harnessSeed, harnessTargets)
	maxQueueDepth := 0

	for tick := 0; tick < harnessDurationTicks; tick++ {
		obs := gen.next(clk.Now())
		p.Tick(pipeline.TickInputs{
			Observations: obs,
			FrameMs:      10,
			BiosOK:       true,
			SensorsOK:    true,
			ProviderOK:   true,
		})
		if sqliteStore != nil {
			if d := sqliteStore.QueueDepth(); d > maxQueueDepth {
				maxQueueDepth = d
			}
		}
		clk.Set(clk.Now().Add(100 * time.Millisecond))
	}

	if harnessTraceOutPath != "" {
		if err := exportTraceSync(events, harnessTraceOutPath, clk); err != nil {
			return fmt.Errorf("load-harness: exporting trace: %w", err)
		}
	}

	var dropped int64
	if sqliteStore != nil {
		dropped = sqliteStore.DroppedCount()
	}

	levels := make(map[string]string)
	worstCrit := false
	for id, lvl := range hm.Levels() {
		levels[id] = string(lvl)
		if lvl == types.HealthCrit {
			worstCrit = true
		}
	}

	exitCode := 0
	if harnessStrict && (worstCrit || dropped > 0) {
		exitCode = 2
	}

	summary := harnessSummary{
		Scenario:      harnessScenario,
		Ticks:         harnessDurationTicks,
		Targets:       harnessTargets,
		Seed:          harnessSeed,
		DroppedEvents: dropped,
		MaxQueueDepth: maxQueueDepth,
		HealthLevels:  levels,
		ExitCode:      exitCode,
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// resolvePlugins resolves one plugin per Kind through the plugin
// manager (spec §4.10): --plugin-profile selects a YAML profile file's
// named profile; with no file given, every kind resolves to its
// built-in, which in non-strict mode is also what an unresolvable
// profile entry falls back to.
func resolvePlugins(clk clock.Clock, events eventstore.Store) (*trackstore.Store, *fusion.Engine, pipeline.AdaptiveConfig, renderbackend.Backend, *situation.Monitor, error) {
	builtins := plugin.Builtins()
	selection := map[plugin.Kind]plugin.PluginRef{
		plugin.KindSensorInput:         {Name: builtins[plugin.KindSensorInput]},
		plugin.KindFusion:              {Name: builtins[plugin.KindFusion]},
		plugin.KindRenderPolicy:        {Name: builtins[plugin.KindRenderPolicy]},
		plugin.KindRenderBackend:       {Name: builtins[plugin.KindRenderBackend]},
		plugin.KindSituationalAnalysis: {Name: builtins[plugin.KindSituationalAnalysis]},
	}
	if harnessPluginProfilePath != "" {
		pf, err := plugin.LoadProfileFile(harnessPluginProfilePath)
		if err != nil {
			return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, err
		}
		sel, err := pf.Selection(harnessPluginProfile)
		if err != nil {
			return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, err
		}
		for kind, ref := range sel {
			selection[kind] = ref
		}
	}

	mgr := plugin.NewManager(plugin.BuiltinRegistry(), harnessPluginStrict)
	resolved, err := mgr.Resolve(plugin.Context{Clock: clk, Events: events}, selection, builtins)
	if err != nil {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, err
	}

	tracks, ok := resolved[plugin.KindSensorInput].Instance.(*trackstore.Store)
	if !ok {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, fmt.Errorf("sensor_input plugin %q did not return a *trackstore.Store", resolved[plugin.KindSensorInput].Name)
	}
	fuser, ok := resolved[plugin.KindFusion].Instance.(*fusion.Engine)
	if !ok {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, fmt.Errorf("fusion plugin %q did not return a *fusion.Engine", resolved[plugin.KindFusion].Name)
	}
	adaptiveCfg, ok := resolved[plugin.KindRenderPolicy].Instance.(pipeline.AdaptiveConfig)
	if !ok {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, fmt.Errorf("render_policy plugin %q did not return a pipeline.AdaptiveConfig", resolved[plugin.KindRenderPolicy].Name)
	}
	backend, ok := resolved[plugin.KindRenderBackend].Instance.(renderbackend.Backend)
	if !ok {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, fmt.Errorf("render_backend plugin %q did not return a renderbackend.Backend", resolved[plugin.KindRenderBackend].Name)
	}
	sit, ok := resolved[plugin.KindSituationalAnalysis].Instance.(*situation.Monitor)
	if !ok {
		return nil, nil, pipeline.AdaptiveConfig{}, nil, nil, fmt.Errorf("situational_analysis plugin %q did not return a *situation.Monitor", resolved[plugin.KindSituationalAnalysis].Name)
	}

	return tracks, fuser, adaptiveCfg, backend, sit, nil
}

// exportTraceSync calls trace.ExportAsync and blocks (with a bounded
// timeout) until the resulting TRACE_EXPORT_FINISHED or
// TRACE_EXPORT_FAILED event appears. load-harness exits immediately
// after the run, unlike a long-lived daemon, so the export has to
// finish before the process does.
func exportTraceSync(events eventstore.Store, path string, clk clock.Clock) error {
	before := len(events.Filter(eventstore.FilterSpec{Subsystem: "trace"}))
	trace.ExportAsync(events, path, trace.Filter{}, clk)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		recent := events.Filter(eventstore.FilterSpec{Subsystem: "trace"})
		for _, e := range recent[before:] {
			switch e.EventType {
			case "TRACE_EXPORT_FINISHED":
				return nil
			case "TRACE_EXPORT_FAILED":
				return fmt.Errorf("%v", e.Payload["error"])
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for trace export to finish")
}

// scenarioGenerator produces a deterministic observation stream from a
// seeded PRNG — the same (scenario, seed, targets) always synthesizes
// identical observations, so load-harness runs are reproducible.
type scenarioGenerator struct {
	name    string
	rng     *rand.Rand
	targets []syntheticTarget
}

type syntheticTarget struct {
	sourceID, trackID string
	pos, vel          types.Vec2
}

func newScenarioGenerator(name string, seed int64, targetCount int) *scenarioGenerator {
	rng := rand.New(rand.NewSource(seed))
	g := &scenarioGenerator{name: name, rng: rng}
	for i := 0; i < targetCount; i++ {
		angle := rng.Float64() * 2 * math.Pi
		dist := 200 + rng.Float64()*800
		g.targets = append(g.targets, syntheticTarget{
			sourceID: "radar-a",
			trackID:  fmt.Sprintf("synthetic-%d", i),
			pos:      types.Vec2{X: dist * math.Cos(angle), Y: dist * math.Sin(angle)},
			vel:      types.Vec2{X: (rng.Float64() - 0.5) * 20, Y: (rng.Float64() - 0.5) * 20},
		})
	}
	return g
}

func (g *scenarioGenerator) next(now time.Time) []types.Observation {
	out := make([]types.Observation, 0, len(g.targets))
	for i := range g.targets {
		t := &g.targets[i]
		switch g.name {
		case "hostile-approach":
			t.pos = t.pos.Sub(types.Vec2{X: t.pos.X * 0.02, Y: t.pos.Y * 0.02})
		case "sensor-dropout":
			if g.rng.Float64() < 0.2 {
				continue
			}
			t.pos = t.pos.Add(t.vel)
		default:
			t.pos = t.pos.Add(t.vel)
		}
		out = append(out, types.Observation{
			SourceID:      t.sourceID,
			SourceTrackID: t.trackID,
			TsEvent:       now,
			Pos:           t.pos,
			Vel:           t.vel,
			Quality:       0.9,
		})
	}
	return out
}
