// Package situation derives closest-point-of-approach risk between
// fused tracks and emits level-transition SITUATION_UPDATED events —
// the situational_analysis plugin kind (spec §4.10). It reuses the
// per-(key, level) dedup shape of package health's metric monitor
// rather than guard's edge-triggered min_duration_s/cooldown_s cadence,
// since CPA risk has no meaningful "duration spent matching" concept.
package situation

import (
	"sort"
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Config tunes the CPA risk distance bands and lookahead horizon.
type Config struct {
	WarnDistM float64
	CritDistM float64
	HorizonS  float64
}

func (c Config) withDefaults() Config {
	if c.WarnDistM <= 0 {
		c.WarnDistM = 500
	}
	if c.CritDistM <= 0 {
		c.CritDistM = 150
	}
	if c.HorizonS <= 0 {
		c.HorizonS = 30
	}
	return c
}

// pairKey identifies one unordered track pair, normalized so (a, b)
// and (b, a) land on the same entry.
type pairKey struct{ A, B string }

func newPairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{A: a, B: b}
}

// Monitor tracks per-pair CPA-risk-level dedup state across ticks. Not
// safe for concurrent use; the pipeline calls Update inline within its
// single-threaded tick (spec §5).
type Monitor struct {
	cfg    Config
	events eventstore.Store

	levels map[pairKey]types.HealthLevel
}

// New returns a Monitor with no prior pair state (every pair starts
// implicitly clear).
func New(cfg Config, events eventstore.Store) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), events: events, levels: make(map[pairKey]types.HealthLevel)}
}

// Update evaluates closest-point-of-approach risk across every pair of
// fused tracks, returning any SituationAlerts whose level changed this
// call (edge-triggered), sorted by (track_a, track_b).
func (m *Monitor) Update(now time.Time, fused []*types.FusedTrack) []types.SituationAlert {
	var alerts []types.SituationAlert

	for i := 0; i < len(fused); i++ {
		for j := i + 1; j < len(fused); j++ {
			a, b := fused[i], fused[j]
			key := newPairKey(a.FusedID, b.FusedID)

			tca, dist, converging := closestApproach(a, b, m.cfg.HorizonS)
			level := types.HealthOK
			if converging {
				level = levelForDist(dist, m.cfg)
			}
			if alert, changed := m.transition(now, key, a.FusedID, b.FusedID, level, tca, dist); changed {
				alerts = append(alerts, alert)
			}
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].TrackA != alerts[j].TrackA {
			return alerts[i].TrackA < alerts[j].TrackA
		}
		return alerts[i].TrackB < alerts[j].TrackB
	})
	return alerts
}

func (m *Monitor) transition(now time.Time, key pairKey, trackA, trackB string, level types.HealthLevel, tca, dist float64) (types.SituationAlert, bool) {
	prev, seen := m.levels[key]
	if seen && prev == level {
		return types.SituationAlert{}, false
	}
	if !seen && level == types.HealthOK {
		return types.SituationAlert{}, false
	}
	m.levels[key] = level

	reason := "CPA_CLEAR"
	if level != types.HealthOK {
		reason = "CPA_RISK"
	}

	alert := types.SituationAlert{
		TrackA:     trackA,
		TrackB:     trackB,
		Level:      level,
		Reason:     reason,
		TimeToCPAS: tca,
		DistAtCPAM: dist,
		TsEvent:    now,
	}
	m.emit(now, trackA, trackB, level, reason, tca, dist)
	return alert, true
}

func (m *Monitor) emit(now time.Time, trackA, trackB string, level types.HealthLevel, reason string, tca, dist float64) {
	if m.events == nil {
		return
	}
	_, _ = m.events.Append("SITUATION", "SITUATION_UPDATED", map[string]any{
		"track_a":       trackA,
		"track_b":       trackB,
		"severity":      string(level),
		"time_to_cpa_s": tca,
		"dist_at_cpa_m": dist,
	}, types.TruthOK, reason, now)
}

// GC drops pair state for any fused_id not present in live, so track
// identities that permanently leave the world don't pin memory.
func (m *Monitor) GC(live map[string]bool) {
	for key := range m.levels {
		if !live[key.A] || !live[key.B] {
			delete(m.levels, key)
		}
	}
}

// closestApproach returns the time to closest point of approach
// (seconds, within [0, horizonS]) and the separation at that time for
// two fused tracks' current position/velocity, and whether they are
// converging within the horizon at all. Diverging pairs (closest
// approach already in the past, or beyond the horizon) report
// converging=false since there is no actionable future risk to flag.
func closestApproach(a, b *types.FusedTrack, horizonS float64) (tca, dist float64, converging bool) {
	relPos := b.Pos.Sub(a.Pos)
	relVel := b.Vel.Sub(a.Vel)

	denom := relVel.Dot(relVel)
	if denom < 1e-9 {
		d := relPos.Range()
		return 0, d, d > 0
	}

	raw := -relPos.Dot(relVel) / denom
	if raw < 0 || raw > horizonS {
		return 0, 0, false
	}
	cpaPos := relPos.Add(relVel.Scale(raw))
	return raw, cpaPos.Range(), true
}

func levelForDist(dist float64, cfg Config) types.HealthLevel {
	if dist <= cfg.CritDistM {
		return types.HealthCrit
	}
	if dist <= cfg.WarnDistM {
		return types.HealthWarn
	}
	return types.HealthOK
}
