// Package trackstore maintains one SourceTrack per (source_id,
// source_track_id), associating incoming observations and running them
// through the NEW → TRACKED → COASTING → LOST lifecycle (spec §4.3).
package trackstore

import (
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Config tunes the track association and lifecycle thresholds.
type Config struct {
	// StalenessBound is the maximum age since last update for an
	// existing (source_id, source_track_id) to still be associated
	// rather than treated as a new track.
	StalenessBound time.Duration
	MinHitsToConfirm int
	MaxMisses        int
	// SmoothingAlpha is the exponential-blend weight applied to new
	// observations (constant-velocity smoothing, not a Kalman filter —
	// spec Non-goals explicitly exclude kinematic filtering beyond this).
	SmoothingAlpha float64
	// CoastingAttenuation multiplies quality each frame a track coasts
	// without a fresh observation.
	CoastingAttenuation float64
}

func (c Config) withDefaults() Config {
	if c.StalenessBound <= 0 {
		c.StalenessBound = 5 * time.Second
	}
	if c.MinHitsToConfirm <= 0 {
		c.MinHitsToConfirm = 3
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = 5
	}
	if c.SmoothingAlpha <= 0 {
		c.SmoothingAlpha = 0.5
	}
	if c.CoastingAttenuation <= 0 {
		c.CoastingAttenuation = 0.9
	}
	return c
}

// Store is an insertion-ordered map of SourceTrack, one per pipeline
// instance (spec §4.3). It is not safe for concurrent use from multiple
// goroutines — the pipeline is single-threaded cooperative per spec §5.
type Store struct {
	cfg    Config
	events eventstore.Store

	order []types.SourceTrackKey
	byKey map[types.SourceTrackKey]*types.SourceTrack
	touched map[types.SourceTrackKey]bool
}

// New returns an empty Store.
func New(cfg Config, events eventstore.Store) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		events:  events,
		byKey:   make(map[types.SourceTrackKey]*types.SourceTrack),
		touched: make(map[types.SourceTrackKey]bool),
	}
}

// Ingest associates each observation with an existing or new SourceTrack,
// then ages out tracks that weren't touched this frame. Observations
// missing a source_id are dropped with a SENSOR_OBSERVATION_DROPPED event
// (spec §4.3 invariant).
func (s *Store) Ingest(now time.Time, observations []types.Observation) []*types.SourceTrack {
	for k := range s.touched {
		delete(s.touched, k)
	}

	for _, obs := range observations {
		if obs.SourceID == "" {
			s.emitDropped(now, "MISSING_SOURCE_ID")
			continue
		}
		s.associate(now, obs)
	}

	s.ageUntouched(now)

	out := make([]*types.SourceTrack, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

func (s *Store) associate(now time.Time, obs types.Observation) {
	key := types.SourceTrackKey{SourceID: obs.SourceID, SourceTrackID: obs.SourceTrackID}
	track, exists := s.byKey[key]

	if exists && now.Sub(track.LastSeen) <= s.cfg.StalenessBound {
		alpha := s.cfg.SmoothingAlpha
		track.Pos = track.Pos.Scale(1 - alpha).Add(obs.Pos.Scale(alpha))
		track.Vel = track.Vel.Scale(1 - alpha).Add(obs.Vel.Scale(alpha))
		track.Quality = obs.Quality
		track.LastSeen = now
		track.Hits++
		track.MissCount = 0
		track.IFF = obs.IFF
		track.TransponderOn = obs.TransponderOn
		track.TransponderMd = obs.TransponderMd
		if track.Status == types.StatusNew && track.Hits >= s.cfg.MinHitsToConfirm {
			track.Status = types.StatusTracked
		} else if track.Status == types.StatusCoasting {
			track.Status = types.StatusTracked
		}
	} else {
		track = &types.SourceTrack{
			SourceID:      obs.SourceID,
			SourceTrackID: obs.SourceTrackID,
			Pos:           obs.Pos,
			Vel:           obs.Vel,
			Quality:       obs.Quality,
			Hits:          1,
			Status:        types.StatusNew,
			LastSeen:      now,
			IFF:           obs.IFF,
			TransponderOn: obs.TransponderOn,
			TransponderMd: obs.TransponderMd,
		}
		s.byKey[key] = track
		s.order = append(s.order, key)
	}

	s.touched[key] = true
	s.emitUpdated(now, obs)
}

// ageUntouched advances miss/coast/loss bookkeeping for any track not
// refreshed this frame.
func (s *Store) ageUntouched(now time.Time) {
	var survivors []types.SourceTrackKey
	for _, key := range s.order {
		track := s.byKey[key]
		if s.touched[key] {
			survivors = append(survivors, key)
			continue
		}

		track.MissCount++
		if track.Status == types.StatusTracked {
			track.Status = types.StatusCoasting
		}

		if track.MissCount > s.cfg.MaxMisses {
			delete(s.byKey, key)
			s.emitLost(now, track)
			continue
		}

		track.Quality *= s.cfg.CoastingAttenuation
		survivors = append(survivors, key)
	}
	s.order = survivors
}

func (s *Store) emitDropped(now time.Time, reason string) {
	if s.events == nil {
		return
	}
	_, _ = s.events.Append("trackstore", "SENSOR_OBSERVATION_DROPPED",
		map[string]any{"reason": reason}, types.TruthNoData, reason, now)
}

// emitUpdated records the raw observation that drove this association
// as a SOURCE_TRACK_UPDATED event — the *input*, not the post-smoothing
// track state. This is the one event type trace replay re-injects
// (spec §4.9): feeding the same raw observation back through Ingest in
// the same order reproduces the identical smoothing sequence and
// therefore bit-exact downstream fusion/guard/FSM output. Recording
// the already-smoothed state instead would double-smooth on replay.
func (s *Store) emitUpdated(now time.Time, obs types.Observation) {
	if s.events == nil {
		return
	}
	_, _ = s.events.Append("trackstore", "SOURCE_TRACK_UPDATED",
		map[string]any{
			"source_id":       obs.SourceID,
			"source_track_id": obs.SourceTrackID,
			"pos_x":           obs.Pos.X,
			"pos_y":           obs.Pos.Y,
			"vel_x":           obs.Vel.X,
			"vel_y":           obs.Vel.Y,
			"quality":         obs.Quality,
			"iff":             obs.IFF,
			"transponder_on":  obs.TransponderOn,
			"transponder_md":  obs.TransponderMd,
		}, types.TruthOK, "source_track_associated", now)
}

func (s *Store) emitLost(now time.Time, track *types.SourceTrack) {
	if s.events == nil {
		return
	}
	_, _ = s.events.Append("trackstore", "SOURCE_TRACK_LOST",
		map[string]any{
			"source_id":       track.SourceID,
			"source_track_id": track.SourceTrackID,
			"miss_count":      track.MissCount,
		}, types.TruthOK, "max_misses_exceeded", now)
}

// Tracks returns the current insertion-ordered snapshot of live tracks.
func (s *Store) Tracks() []*types.SourceTrack {
	out := make([]*types.SourceTrack, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// Get returns the track for key, if present.
func (s *Store) Get(key types.SourceTrackKey) (*types.SourceTrack, bool) {
	t, ok := s.byKey[key]
	return t, ok
}

