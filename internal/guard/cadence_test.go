package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func rangeTrack(id string, ts time.Time, rangeM float64) *types.FusedTrack {
	return &types.FusedTrack{
		FusedID: id,
		Pos:     types.Vec2{X: rangeM, Y: 0},
		Quality: 1.0,
		TsEvent: ts,
	}
}

// TestGuardCadenceEdgeOnly implements scenario S3: rule max_range_m=70,
// cooldown_s=10, hysteresis_m=5. A track at t=0,1,2,3,4,11s with ranges
// 60,60,74,76,60,60 fires only at t=0 and t=11.
func TestGuardCadenceEdgeOnly(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	table := NewTable()
	maxRange := 70.0
	require.NoError(t, table.Register(&GuardRule{
		RuleID:      "range-guard",
		Severity:    types.SeverityWarning,
		FSMEvent:    "RANGE_EXCEEDED",
		MaxRangeM:   &maxRange,
		CooldownS:   10,
		HysteresisM: 5,
	}))
	cadence := NewCadence(Config{}, table, events)

	samples := []struct {
		ts     float64
		rangeM float64
	}{
		{0, 60}, {1, 60}, {2, 74}, {3, 76}, {4, 60}, {11, 60},
	}

	var totalAlerts int
	for _, s := range samples {
		ts := time.Unix(int64(s.ts), 0)
		track := rangeTrack("trk-1", ts, s.rangeM)
		alerts := cadence.Update(track)
		totalAlerts += len(alerts)
	}

	require.Equal(t, 2, totalAlerts)
	guardEvents := events.Filter(eventstore.FilterSpec{EventType: "GUARD_ALERT"})
	require.Len(t, guardEvents, 2)
}

func TestGuardCadenceTieBreakOrdering(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	table := NewTable()
	require.NoError(t, table.Register(&GuardRule{RuleID: "b-warn", Severity: types.SeverityWarning, MinQuality: 0}))
	require.NoError(t, table.Register(&GuardRule{RuleID: "a-critical", Severity: types.SeverityCritical, MinQuality: 0}))
	require.NoError(t, table.Register(&GuardRule{RuleID: "c-warn", Severity: types.SeverityWarning, MinQuality: 0}))
	cadence := NewCadence(Config{}, table, events)

	track := rangeTrack("trk-2", time.Unix(0, 0), 10)
	alerts := cadence.Update(track)
	require.Len(t, alerts, 3)
	require.Equal(t, "a-critical", alerts[0].RuleID)
	require.Equal(t, "b-warn", alerts[1].RuleID)
	require.Equal(t, "c-warn", alerts[2].RuleID)
}

func TestGuardCadenceCooldownBlocksReentry(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	table := NewTable()
	maxRange := 10.0
	require.NoError(t, table.Register(&GuardRule{
		RuleID: "near", Severity: types.SeverityInfo, MaxRangeM: &maxRange, CooldownS: 5,
	}))
	cadence := NewCadence(Config{}, table, events)

	first := cadence.Update(rangeTrack("trk-3", time.Unix(0, 0), 5))
	require.Len(t, first, 1)

	// clear then re-enter within cooldown: must not re-fire
	cadence.Update(rangeTrack("trk-3", time.Unix(1, 0), 50))
	second := cadence.Update(rangeTrack("trk-3", time.Unix(2, 0), 5))
	require.Empty(t, second)

	// re-enter after cooldown elapses: fires again
	cadence.Update(rangeTrack("trk-3", time.Unix(3, 0), 50))
	third := cadence.Update(rangeTrack("trk-3", time.Unix(10, 0), 5))
	require.Len(t, third, 1)
}
