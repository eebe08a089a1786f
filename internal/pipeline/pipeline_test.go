package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/fusion"
	"github.com/qiki-sim/radarcore/internal/guard"
	"github.com/qiki-sim/radarcore/internal/health"
	"github.com/qiki-sim/radarcore/internal/shipfsm"
	"github.com/qiki-sim/radarcore/internal/situation"
	"github.com/qiki-sim/radarcore/internal/trackstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *clock.ReplayClock, eventstore.Store) {
	t.Helper()
	rc := clock.NewReplay(time.Unix(0, 0))
	events := eventstore.NewMemoryStore(rc, 1000)
	tracks := trackstore.New(trackstore.Config{MinHitsToConfirm: 1}, events)
	fuser := fusion.New(fusion.Config{ConfirmFrames: 1}, events)
	table := guard.NewTable()
	cadence := guard.NewCadence(guard.Config{}, table, events)
	fsm := shipfsm.New(shipfsm.Config{}, events)
	hm := health.New(health.Config{}, events)
	sit := situation.New(situation.Config{}, events)

	p := New(cfg, rc, events, tracks, fuser, table, cadence, fsm, hm, sit)
	return p, rc, events
}

func TestTickProducesRenderPlanAndEmitsRenderTick(t *testing.T) {
	p, rc, events := newTestPipeline(t, Config{FusionEnabled: true})

	plan := p.Tick(TickInputs{
		Observations: []types.Observation{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 100, Y: 0}, Quality: 0.9},
		},
		FrameMs: 10,
	})
	require.Equal(t, 1, plan.TargetsCount)
	require.Equal(t, types.TruthOK, plan.TruthState)

	ticks := events.Filter(eventstore.FilterSpec{EventType: "RADAR_RENDER_TICK"})
	require.Len(t, ticks, 1)
	_ = rc
}

func TestTickWithFusionDisabledUsesIdentityFusedTracks(t *testing.T) {
	p, _, _ := newTestPipeline(t, Config{FusionEnabled: false})

	plan := p.Tick(TickInputs{
		Observations: []types.Observation{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 5, Y: 5}, Quality: 0.7},
			{SourceID: "radar-b", SourceTrackID: "t9", Pos: types.Vec2{X: 500, Y: 500}, Quality: 0.7},
		},
		FrameMs: 5,
	})
	require.Equal(t, 2, plan.TargetsCount)
}

func TestAdaptivePolicyDegradesAndRecovers(t *testing.T) {
	p, _, events := newTestPipeline(t, Config{
		Adaptive: AdaptiveConfig{FrameBudgetMs: 50, DegradeConfirmFrames: 2, RecoveryConfirmFrames: 2},
	})

	for i := 0; i < 2; i++ {
		p.Tick(TickInputs{FrameMs: 80})
	}
	degrades := events.Filter(eventstore.FilterSpec{EventType: "POLICY_DEGRADE"})
	require.Len(t, degrades, 1)

	for i := 0; i < 2; i++ {
		p.Tick(TickInputs{FrameMs: 10})
	}
	recovered := events.Filter(eventstore.FilterSpec{EventType: "POLICY_RECOVERED"})
	require.Len(t, recovered, 1)
}

func TestGuardAlertForwardsSafeModeRequestToFSM(t *testing.T) {
	p, _, _ := newTestPipeline(t, Config{FusionEnabled: false})
	require.NoError(t, p.table.Register(&guard.GuardRule{
		RuleID:      "hostile-contact",
		Severity:    types.SeverityCritical,
		FSMEvent:    FSMEventSafeModeRequest,
		MinQuality:  0,
		MaxRangeM:   floatPtr(1000),
		MinDurationS: 0,
		CooldownS:   0,
	}))

	p.Tick(TickInputs{
		Observations: []types.Observation{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 10, Y: 0}, Quality: 0.9},
		},
		FrameMs: 1,
	})

	require.Equal(t, types.ShipSafeMode, p.fsm.State())
}

func floatPtr(f float64) *float64 { return &f }
