// Package guard declaratively evaluates GuardRules against FusedTracks
// with a hysteresis-widened matcher and edge-triggered publish cadence
// (spec §4.5).
package guard

import (
	"github.com/qiki-sim/radarcore/internal/types"
)

// GuardRule is a declarative predicate over a FusedTrack, loaded from
// YAML at startup and reloadable without restarting the pipeline.
type GuardRule struct {
	RuleID      string
	Description string
	Severity    types.Severity
	FSMEvent    string

	IFF                     *int
	MinRangeM               *float64
	MaxRangeM               *float64
	MinQuality              float64
	MaxRadialVelocityMps    *float64
	RequireTransponderOn    bool
	AllowedTransponderModes []int

	MinDurationS float64
	CooldownS    float64
	HysteresisM  float64
}

// Matches evaluates the rule's predicates against track. When active is
// true, the range and radial-velocity bands are widened by
// HysteresisM so a track just outside the strict band does not
// immediately clear — the anti-flap clearance band described in spec
// §4.5.
func (r *GuardRule) Matches(track *types.FusedTrack, active bool) bool {
	widen := 0.0
	if active {
		widen = r.HysteresisM
	}

	rangeM := track.Pos.Range()

	if r.MinRangeM != nil && rangeM < *r.MinRangeM-widen {
		return false
	}
	if r.MaxRangeM != nil && rangeM > *r.MaxRangeM+widen {
		return false
	}
	if track.Quality < r.MinQuality {
		return false
	}
	if r.MaxRadialVelocityMps != nil {
		absVel := track.RadialVel
		if absVel < 0 {
			absVel = -absVel
		}
		if absVel > *r.MaxRadialVelocityMps+widen {
			return false
		}
	}
	if r.IFF != nil && track.IFF != *r.IFF {
		return false
	}
	if r.RequireTransponderOn && !track.TransponderOn {
		return false
	}
	if len(r.AllowedTransponderModes) > 0 && !containsMode(r.AllowedTransponderModes, track.TransponderMd) {
		return false
	}
	return true
}

func containsMode(modes []int, m int) bool {
	for _, v := range modes {
		if v == m {
			return true
		}
	}
	return false
}
