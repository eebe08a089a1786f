// Package health samples pipeline/store/session metrics once per tick
// and emits level-transition events (spec §4.8).
package health

import (
	"sort"
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Thresholds holds the warn/crit boundary for one metric. A zero Crit
// disables the critical level for that metric.
type Thresholds struct {
	Warn float64
	Crit float64
}

// Config tunes per-metric thresholds and the session staleness window.
type Config struct {
	FrameMsP95        Thresholds
	SQLiteQueueDepth  Thresholds
	DroppedEvents     Thresholds
	FusionConflictRate Thresholds
	SessionStaleMs    int64
}

func (c Config) withDefaults() Config {
	zero := Thresholds{}
	if c.FrameMsP95 == zero {
		c.FrameMsP95 = Thresholds{Warn: 80, Crit: 150}
	}
	if c.SQLiteQueueDepth == zero {
		c.SQLiteQueueDepth = Thresholds{Warn: 500, Crit: 950}
	}
	if c.DroppedEvents == zero {
		c.DroppedEvents = Thresholds{Warn: 1, Crit: 100}
	}
	if c.FusionConflictRate == zero {
		c.FusionConflictRate = Thresholds{Warn: 0.1, Crit: 0.3}
	}
	if c.SessionStaleMs <= 0 {
		c.SessionStaleMs = 5000
	}
	return c
}

// Monitor tracks per-(metric, level) dedup state across ticks (spec
// §4.8). Not safe for concurrent use; the pipeline calls Sample inline
// within its single-threaded tick (spec §5).
type Monitor struct {
	cfg    Config
	events eventstore.Store

	levels map[string]types.HealthLevel

	sessionSeen bool
	sessionWarm bool
}

// New returns a Monitor with no prior level state (every metric starts
// implicitly OK).
func New(cfg Config, events eventstore.Store) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), events: events, levels: make(map[string]types.HealthLevel)}
}

// metricValue pairs a metric id with its sampled value and thresholds,
// so level derivation is uniform across metrics.
type metricValue struct {
	id        string
	value     float64
	thresh    Thresholds
	higherBad bool
}

// Sample evaluates snap against configured thresholds, emitting
// HEALTH_WARN / HEALTH_CRIT / HEALTH_RECOVERED on level transitions and
// HEALTH_NO_DATA / HEALTH_RECOVERED for session staleness.
func (m *Monitor) Sample(now time.Time, snap types.HealthSnapshot) {
	metrics := []metricValue{
		{id: "frame_ms_p95", value: snap.FrameMsP95, thresh: m.cfg.FrameMsP95, higherBad: true},
		{id: "sqlite_queue_depth", value: float64(snap.SQLiteQueueDepth), thresh: m.cfg.SQLiteQueueDepth, higherBad: true},
		{id: "dropped_events", value: float64(snap.DroppedEvents), thresh: m.cfg.DroppedEvents, higherBad: true},
		{id: "fusion_conflict_rate", value: snap.FusionConflictRt, thresh: m.cfg.FusionConflictRate, higherBad: true},
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].id < metrics[j].id })

	for _, mv := range metrics {
		level := levelFor(mv)
		m.transitionLevel(now, mv.id, level, mv.value)
	}

	m.sampleStaleness(now, snap.SessionStaleMs)
}

func levelFor(mv metricValue) types.HealthLevel {
	if mv.thresh.Crit > 0 && mv.value >= mv.thresh.Crit {
		return types.HealthCrit
	}
	if mv.value >= mv.thresh.Warn {
		return types.HealthWarn
	}
	return types.HealthOK
}

func (m *Monitor) transitionLevel(now time.Time, metricID string, level types.HealthLevel, value float64) {
	prev, seen := m.levels[metricID]
	if seen && prev == level {
		return
	}
	m.levels[metricID] = level

	switch level {
	case types.HealthWarn:
		m.emit(now, "HEALTH_WARN", metricID, level, value)
	case types.HealthCrit:
		m.emit(now, "HEALTH_CRIT", metricID, level, value)
	case types.HealthOK:
		if seen {
			m.emit(now, "HEALTH_RECOVERED", metricID, level, value)
		}
	}
}

func (m *Monitor) sampleStaleness(now time.Time, staleMs int64) {
	stale := staleMs >= m.cfg.SessionStaleMs

	if stale {
		if !m.sessionSeen || m.sessionWarm {
			m.emitStaleness(now, "HEALTH_NO_DATA", staleMs)
		}
		m.sessionWarm = false
	} else {
		if m.sessionSeen && !m.sessionWarm {
			m.emitStaleness(now, "HEALTH_RECOVERED", staleMs)
		}
		m.sessionWarm = true
	}
	m.sessionSeen = true
}

func (m *Monitor) emit(now time.Time, eventType, metricID string, level types.HealthLevel, value float64) {
	if m.events == nil {
		return
	}
	_, _ = m.events.Append("health", eventType, map[string]any{
		"metric_id": metricID,
		"level":     level,
		"value":     value,
	}, types.TruthOK, "level_transition", now)
}

// Levels returns a snapshot of each metric's current level, keyed by
// metric id, for status reporting (e.g. cmd/radarctl's health-cli).
func (m *Monitor) Levels() map[string]types.HealthLevel {
	out := make(map[string]types.HealthLevel, len(m.levels))
	for k, v := range m.levels {
		out[k] = v
	}
	return out
}

func (m *Monitor) emitStaleness(now time.Time, eventType string, staleMs int64) {
	if m.events == nil {
		return
	}
	truth := types.TruthOK
	if eventType == "HEALTH_NO_DATA" {
		truth = types.TruthNoData
	}
	_, _ = m.events.Append("health", eventType, map[string]any{
		"metric_id":        "session_staleness",
		"session_stale_ms": staleMs,
	}, truth, "session_staleness_transition", now)
}
