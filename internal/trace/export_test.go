package trace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func waitForFile(t *testing.T, events eventstore.Store, eventType string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if len(events.Filter(eventstore.FilterSpec{EventType: eventType})) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", eventType)
}

func TestExportAsyncWritesFilteredEnvelopes(t *testing.T) {
	clk := clock.NewSystem()
	events := eventstore.NewMemoryStore(clk, 100)
	_, _ = events.Append("fusion", "FUSED_TRACK_UPDATED", map[string]any{"n": 1}, types.TruthOK, "ok", time.Time{})
	_, _ = events.Append("guard", "GUARD_ALERT", map[string]any{"n": 2}, types.TruthOK, "ok", time.Time{})

	path := filepath.Join(t.TempDir(), "out.jsonl")
	ExportAsync(events, path, Filter{Subsystems: []string{"fusion"}}, clk)

	waitForFile(t, events, "TRACE_EXPORT_FINISHED")

	envs, err := ReadEnvelopes(path)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, "fusion", envs[0].Subsystem)
}

func TestSamplerIsDeterministic(t *testing.T) {
	s1 := newSampler(map[string]float64{"X": 0.5})
	s2 := newSampler(map[string]float64{"X": 0.5})

	var kept1, kept2 []bool
	for i := 0; i < 10; i++ {
		kept1 = append(kept1, s1.keep("X"))
		kept2 = append(kept2, s2.keep("X"))
	}
	require.Equal(t, kept1, kept2)
	require.Equal(t, []bool{false, true, false, true, false, true, false, true, false, true}, kept1)
}
