package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func TestHealthyFirstSampleEmitsNothing(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	m := New(Config{}, events)
	m.Sample(time.Unix(0, 0), types.HealthSnapshot{FrameMsP95: 10, SessionStaleMs: 0})

	require.Empty(t, events.Recent(100))
}

func TestWarnThenCritThenRecovered(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	m := New(Config{FrameMsP95: Thresholds{Warn: 50, Crit: 100}}, events)

	m.Sample(time.Unix(0, 0), types.HealthSnapshot{FrameMsP95: 10})
	m.Sample(time.Unix(1, 0), types.HealthSnapshot{FrameMsP95: 60})
	m.Sample(time.Unix(2, 0), types.HealthSnapshot{FrameMsP95: 60})
	m.Sample(time.Unix(3, 0), types.HealthSnapshot{FrameMsP95: 120})
	m.Sample(time.Unix(4, 0), types.HealthSnapshot{FrameMsP95: 10})

	warns := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_WARN"})
	require.Len(t, warns, 1)
	crits := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_CRIT"})
	require.Len(t, crits, 1)
	recovered := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_RECOVERED"})
	require.Len(t, recovered, 1)
}

func TestSessionStalenessTransitions(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	m := New(Config{SessionStaleMs: 1000}, events)

	m.Sample(time.Unix(0, 0), types.HealthSnapshot{SessionStaleMs: 0})
	m.Sample(time.Unix(1, 0), types.HealthSnapshot{SessionStaleMs: 2000})
	m.Sample(time.Unix(2, 0), types.HealthSnapshot{SessionStaleMs: 0})

	noData := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_NO_DATA"})
	require.Len(t, noData, 1)
	require.Equal(t, types.TruthNoData, noData[0].TruthState)
	recovered := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_RECOVERED"})
	require.Len(t, recovered, 1)
}

func TestLevelHoldsDoNotReemit(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	m := New(Config{FrameMsP95: Thresholds{Warn: 50, Crit: 100}}, events)

	for i := 0; i < 5; i++ {
		m.Sample(time.Unix(int64(i), 0), types.HealthSnapshot{FrameMsP95: 60})
	}

	warns := events.Filter(eventstore.FilterSpec{EventType: "HEALTH_WARN"})
	require.Len(t, warns, 1)
}
