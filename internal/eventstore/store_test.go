package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/types"
)

func TestMemoryStoreOrdering(t *testing.T) {
	clk := clock.NewReplay(time.Unix(100, 0))
	s := NewMemoryStore(clk, 100)

	idA, err := s.Append("fusion", "FUSED_TRACK_UPDATED", map[string]any{"n": 1}, types.TruthOK, "ok", time.Time{})
	require.NoError(t, err)
	clk.Set(time.Unix(101, 0))
	idB, err := s.Append("fusion", "FUSED_TRACK_UPDATED", map[string]any{"n": 2}, types.TruthOK, "ok", time.Time{})
	require.NoError(t, err)
	require.Less(t, idA, idB)

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, idA, recent[0].EventID)
	require.Equal(t, idB, recent[1].EventID)
}

func TestMemoryStoreRingEviction(t *testing.T) {
	clk := clock.NewSystem()
	s := NewMemoryStore(clk, 3)
	for i := 0; i < 5; i++ {
		_, err := s.Append("x", "T", map[string]any{}, types.TruthOK, "ok", time.Time{})
		require.NoError(t, err)
	}
	all := s.Recent(100)
	require.Len(t, all, 3)
	require.Equal(t, int64(3), all[0].EventID)
	require.Equal(t, int64(5), all[2].EventID)
}

func TestMemoryStoreRejectsEmptyReason(t *testing.T) {
	s := NewMemoryStore(clock.NewSystem(), 10)
	_, err := s.Append("x", "T", map[string]any{}, types.TruthOK, "", time.Time{})
	require.Error(t, err)
}

func TestMemoryStoreFilterAndQuery(t *testing.T) {
	clk := clock.NewReplay(time.Unix(0, 0))
	s := NewMemoryStore(clk, 10)
	_, _ = s.Append("guard", "GUARD_ALERT", map[string]any{}, types.TruthOK, "ok", time.Time{})
	_, _ = s.Append("shipfsm", "FSM_TRANSITION", map[string]any{}, types.TruthNoData, "no data yet", time.Time{})

	guardOnly := s.Filter(FilterSpec{Subsystem: "guard"})
	require.Len(t, guardOnly, 1)
	require.Equal(t, "GUARD_ALERT", guardOnly[0].EventType)

	noData := s.Query(QuerySpec{TruthState: types.TruthNoData})
	require.Len(t, noData, 1)
	require.Equal(t, "FSM_TRANSITION", noData[0].EventType)
}
