package trace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/fusion"
	"github.com/qiki-sim/radarcore/internal/guard"
	"github.com/qiki-sim/radarcore/internal/health"
	"github.com/qiki-sim/radarcore/internal/pipeline"
	"github.com/qiki-sim/radarcore/internal/shipfsm"
	"github.com/qiki-sim/radarcore/internal/situation"
	"github.com/qiki-sim/radarcore/internal/trackstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func newReplayTestPipeline(clk clock.Clock, events eventstore.Store) *pipeline.Pipeline {
	tracks := trackstore.New(trackstore.Config{MinHitsToConfirm: 1}, events)
	fuser := fusion.New(fusion.Config{ConfirmFrames: 1}, events)
	table := guard.NewTable()
	cadence := guard.NewCadence(guard.Config{}, table, events)
	fsm := shipfsm.New(shipfsm.Config{}, events)
	hm := health.New(health.Config{}, events)
	sit := situation.New(situation.Config{WarnDistM: 500, CritDistM: 150, HorizonS: 30}, events)
	return pipeline.New(pipeline.Config{FusionEnabled: true}, clk, events, tracks, fuser, table, cadence, fsm, hm, sit)
}

func TestObservationFromPayloadRoundTrips(t *testing.T) {
	e := types.SystemEvent{
		EventType: "SOURCE_TRACK_UPDATED",
		Ts:        time.Unix(5, 0),
		Payload: map[string]any{
			"source_id": "radar-a", "source_track_id": "t1",
			"pos_x": 10.5, "pos_y": -3.0, "vel_x": 1.0, "vel_y": 2.0,
			"quality": 0.8, "iff": 2, "transponder_on": true, "transponder_md": 7,
		},
	}
	obs, ok := ObservationFromPayload(e)
	require.True(t, ok)
	require.Equal(t, "radar-a", obs.SourceID)
	require.Equal(t, "t1", obs.SourceTrackID)
	require.Equal(t, types.Vec2{X: 10.5, Y: -3.0}, obs.Pos)
	require.Equal(t, types.Vec2{X: 1.0, Y: 2.0}, obs.Vel)
	require.Equal(t, 0.8, obs.Quality)
	require.Equal(t, 2, obs.IFF)
	require.True(t, obs.TransponderOn)
	require.Equal(t, 7, obs.TransponderMd)

	_, ok = ObservationFromPayload(types.SystemEvent{EventType: "FUSED_TRACK_UPDATED"})
	require.False(t, ok)
}

func TestReplayPipelineBatchesByTimestampBeforeAdvancingClock(t *testing.T) {
	rc := clock.NewReplay(time.Unix(0, 0))
	events := []types.SystemEvent{
		{Ts: time.Unix(10, 0), EventType: "SOURCE_TRACK_UPDATED", Payload: map[string]any{"source_track_id": "a"}},
		{Ts: time.Unix(10, 0), EventType: "SOURCE_TRACK_UPDATED", Payload: map[string]any{"source_track_id": "b"}},
		{Ts: time.Unix(12, 0), EventType: "SOURCE_TRACK_UPDATED", Payload: map[string]any{"source_track_id": "c"}},
	}

	var gotTs []time.Time
	var gotCounts []int
	var clockAtTick []time.Time
	ReplayPipeline(rc, events, func(ts time.Time, obs []types.Observation) {
		gotTs = append(gotTs, ts)
		gotCounts = append(gotCounts, len(obs))
		clockAtTick = append(clockAtTick, rc.Now())
	})

	require.Equal(t, []time.Time{time.Unix(10, 0), time.Unix(12, 0)}, gotTs)
	require.Equal(t, []int{2, 1}, gotCounts)
	// rc must read each batch's own timestamp at the moment its tick
	// fires, never a later batch's.
	require.Equal(t, gotTs, clockAtTick)
	require.Equal(t, time.Unix(12, 0), rc.Now())
}

// TestGoldenDeterminismReplayMatchesOriginalFusedAndSituationSequences
// is the end-to-end regression property spec §4.9 names: capture a
// run's trace, replay it through a fresh pipeline and a fresh event
// store, and require the FUSED_TRACK_UPDATED and SITUATION_UPDATED
// sequences to match exactly (trust within 1e-6).
func TestGoldenDeterminismReplayMatchesOriginalFusedAndSituationSequences(t *testing.T) {
	rc := clock.NewReplay(time.Unix(0, 0))
	events := eventstore.NewMemoryStore(rc, 10000)
	p := newReplayTestPipeline(rc, events)

	// t2 closes head-on on t1 on a collision course: converging from
	// tick zero, so both fusion and situation analysis fire.
	ticks := [][]types.Observation{
		{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 0, Y: 0}, Vel: types.Vec2{X: 0, Y: 0}, Quality: 0.9},
			{SourceID: "radar-a", SourceTrackID: "t2", Pos: types.Vec2{X: 1000, Y: 0}, Vel: types.Vec2{X: -100, Y: 0}, Quality: 0.9},
		},
		{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 0, Y: 0}, Vel: types.Vec2{X: 0, Y: 0}, Quality: 0.9},
			{SourceID: "radar-a", SourceTrackID: "t2", Pos: types.Vec2{X: 900, Y: 0}, Vel: types.Vec2{X: -100, Y: 0}, Quality: 0.9},
		},
		{
			{SourceID: "radar-a", SourceTrackID: "t1", Pos: types.Vec2{X: 0, Y: 0}, Vel: types.Vec2{X: 0, Y: 0}, Quality: 0.9},
			{SourceID: "radar-a", SourceTrackID: "t2", Pos: types.Vec2{X: 800, Y: 0}, Vel: types.Vec2{X: -100, Y: 0}, Quality: 0.9},
		},
	}
	for _, obs := range ticks {
		p.Tick(pipeline.TickInputs{Observations: obs, FrameMs: 10, BiosOK: true, SensorsOK: true, ProviderOK: true})
		rc.Set(rc.Now().Add(time.Second))
	}

	path := filepath.Join(t.TempDir(), "capture.jsonl")
	ExportAsync(events, path, Filter{}, rc)
	waitForFile(t, events, "TRACE_EXPORT_FINISHED")

	original, err := ReadEnvelopes(path)
	require.NoError(t, err)

	wantFused := ExtractFusedSequence(original)
	wantSituations := ExtractSituationSequence(original)
	require.NotEmpty(t, wantFused)
	require.NotEmpty(t, wantSituations, "scenario must exercise at least one SITUATION_UPDATED for this test to be meaningful")

	rc2 := clock.NewReplay(original[0].Ts)
	events2 := eventstore.NewMemoryStore(rc2, 10000)
	p2 := newReplayTestPipeline(rc2, events2)

	ReplayPipeline(rc2, original, func(ts time.Time, obs []types.Observation) {
		p2.Tick(pipeline.TickInputs{Observations: obs, FrameMs: 10, BiosOK: true, SensorsOK: true, ProviderOK: true})
	})

	replayed := events2.Query(eventstore.QuerySpec{Order: eventstore.OrderAsc})
	gotFused := ExtractFusedSequence(replayed)
	gotSituations := ExtractSituationSequence(replayed)

	require.Empty(t, DiffFusedSequence(wantFused, gotFused, 1e-6))
	require.True(t, SituationSequencesEqual(wantSituations, gotSituations))
}
