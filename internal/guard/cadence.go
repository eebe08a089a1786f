package guard

import (
	"sort"
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// cadenceKey identifies one rule/track pairing's matcher state.
type cadenceKey struct {
	RuleID  string
	TrackID string
}

// cadenceState is the small per-(rule_id, track_id) state machine
// described in spec §4.5.
type cadenceState struct {
	firstMatch  time.Time
	lastMatch   time.Time
	lastPublish time.Time
	active      bool
}

// Config tunes cadence timing defaults that aren't carried on the rule
// itself.
type Config struct {
	// MaxMatchGap is the longest gap between consecutive matching
	// frames (in simulation time) that still counts as "continuous"
	// matching for min_duration_s purposes. A larger gap resets
	// first_match_ts.
	MaxMatchGap time.Duration
	// GCTTL is how long an inactive key may sit untouched before
	// Cadence.GC removes it.
	GCTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMatchGap <= 0 {
		c.MaxMatchGap = 2 * time.Second
	}
	if c.GCTTL <= 0 {
		c.GCTTL = 300 * time.Second
	}
	return c
}

// Cadence evaluates the guard table against one track per frame,
// maintaining edge-triggered (rule_id, track_id) state and emitting
// GuardAlerts only on activation (spec §4.5, §3 invariant 4).
type Cadence struct {
	cfg    Config
	table  *Table
	events eventstore.Store

	states map[cadenceKey]*cadenceState
}

// NewCadence returns a Cadence driven by table, publishing through
// events.
func NewCadence(cfg Config, table *Table, events eventstore.Store) *Cadence {
	return &Cadence{
		cfg:    cfg.withDefaults(),
		table:  table,
		events: events,
		states: make(map[cadenceKey]*cadenceState),
	}
}

// Update evaluates every rule in the table against track using track's
// own simulation timestamp (not wall time, per spec §4.5), returning
// any alerts emitted this call in tie-break order: severity descending,
// then rule_id lexicographic.
func (c *Cadence) Update(track *types.FusedTrack) []types.GuardAlert {
	now := track.TsEvent
	var alerts []types.GuardAlert

	for _, rule := range c.table.Rules() {
		key := cadenceKey{RuleID: rule.RuleID, TrackID: track.FusedID}
		st, exists := c.states[key]
		if !exists {
			st = &cadenceState{}
			c.states[key] = st
		}

		match := rule.Matches(track, st.active)

		if !match {
			if st.active {
				st.active = false
				st.firstMatch = time.Time{}
				st.lastMatch = time.Time{}
			}
			continue
		}

		if st.firstMatch.IsZero() {
			st.firstMatch = now
		} else if !st.lastMatch.IsZero() && now.Sub(st.lastMatch) > c.cfg.MaxMatchGap {
			st.firstMatch = now
		}
		st.lastMatch = now

		duration := now.Sub(st.firstMatch).Seconds()
		cooldownElapsed := st.lastPublish.IsZero() || now.Sub(st.lastPublish).Seconds() >= rule.CooldownS

		if !st.active && duration >= rule.MinDurationS && cooldownElapsed {
			st.active = true
			st.lastPublish = now
			alert := c.buildAlert(rule, track)
			alerts = append(alerts, alert)
			c.emitAlert(rule, track)
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
		}
		return alerts[i].RuleID < alerts[j].RuleID
	})
	return alerts
}

func (c *Cadence) buildAlert(rule *GuardRule, track *types.FusedTrack) types.GuardAlert {
	return types.GuardAlert{
		RuleID:        rule.RuleID,
		TrackID:       track.FusedID,
		Severity:      rule.Severity,
		FSMEvent:      rule.FSMEvent,
		TsEpoch:       track.TsEvent,
		RangeM:        track.Pos.Range(),
		Quality:       track.Quality,
		IFF:           track.IFF,
		TransponderOn: track.TransponderOn,
		TransponderMd: track.TransponderMd,
	}
}

func (c *Cadence) emitAlert(rule *GuardRule, track *types.FusedTrack) {
	if c.events == nil {
		return
	}
	_, _ = c.events.Append("guard", "GUARD_ALERT", map[string]any{
		"schema_version": 1,
		"category":       "radar",
		"source":         "guard",
		"subject":        rule.RuleID,
		"ts_epoch":       track.TsEvent,
		"range_m":        track.Pos.Range(),
		"quality":        track.Quality,
		"iff":            track.IFF,
		"transponder_on": track.TransponderOn,
		"transponder_mode": track.TransponderMd,
		"track_id":       track.FusedID,
		"rule_id":        rule.RuleID,
	}, types.TruthOK, "guard_rule_activated", track.TsEvent)
}

// GC removes inactive keys whose last match is older than GCTTL
// relative to now (spec §4.5 periodic garbage collection).
func (c *Cadence) GC(now time.Time) {
	for key, st := range c.states {
		if st.active {
			continue
		}
		if st.lastMatch.IsZero() || now.Sub(st.lastMatch) > c.cfg.GCTTL {
			delete(c.states, key)
		}
	}
}
