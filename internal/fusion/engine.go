// Package fusion clusters SourceTracks from multiple sensor sources into
// stable cross-source FusedTracks, preserving identity across small
// re-associations and flagging low-support or conflicting clusters
// (spec §4.4).
package fusion

import (
	"sort"
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/idgen"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Config tunes clustering, trust scoring, and anti-flap identity
// preservation (spec §4.4, §6 RADAR_FUSION_* environment variables).
type Config struct {
	GateDistM     float64
	GateVelMps    float64
	MaxAgeS       float64
	MinSupport    int
	ConfirmFrames int
	CooldownS     float64
	ConflictDistM float64
}

func (c Config) withDefaults() Config {
	if c.GateDistM <= 0 {
		c.GateDistM = 50
	}
	if c.GateVelMps <= 0 {
		c.GateVelMps = 10
	}
	if c.MaxAgeS <= 0 {
		c.MaxAgeS = 5
	}
	if c.MinSupport <= 0 {
		c.MinSupport = 2
	}
	if c.ConfirmFrames <= 0 {
		c.ConfirmFrames = 1
	}
	if c.CooldownS <= 0 {
		c.CooldownS = 10
	}
	if c.ConflictDistM <= 0 {
		c.ConflictDistM = 1000
	}
	return c
}

// trackState carries a fused identity's history across frames so that
// small re-associations (>=1 member overlap) keep the same fused_id and
// a total-loss gap shorter than CooldownS still reuses it.
type trackState struct {
	fusedID          string
	members          map[types.SourceTrackKey]bool
	consecutiveHits  int
	published        bool
	lastSupportedTs  time.Time
	hasLastSupported bool
}

// Engine is the deterministic cross-source clustering and trust-scoring
// component. It is not safe for concurrent use; the pipeline drives it
// single-threaded per tick (spec §5).
type Engine struct {
	cfg    Config
	events eventstore.Store
	states []*trackState // order is insignificant; lookup is linear since cardinality is small (tens, not thousands)
}

// New returns an Engine with the given configuration.
func New(cfg Config, events eventstore.Store) *Engine {
	return &Engine{cfg: cfg.withDefaults(), events: events}
}

// Update clusters the given source tracks and returns the FusedTracks
// live this frame (after confirm_frames gating). Clustering, ordering,
// and id assignment are deterministic: identical input + identical
// prior state always produces identical output (spec §4.4).
func (e *Engine) Update(now time.Time, sourceTracks []*types.SourceTrack) []*types.FusedTrack {
	live := make([]*types.SourceTrack, 0, len(sourceTracks))
	for _, t := range sourceTracks {
		if e.cfg.MaxAgeS > 0 && now.Sub(t.LastSeen).Seconds() > e.cfg.MaxAgeS {
			continue
		}
		live = append(live, t)
	}

	clusters := e.buildClusters(live)

	presentKeys := make(map[types.SourceTrackKey]bool)
	var result []*types.FusedTrack

	for _, cluster := range clusters {
		for _, t := range cluster {
			presentKeys[t.Key()] = true
		}

		st := e.matchOrCreateState(cluster)
		fused := e.score(now, cluster)
		fused.FusedID = st.fusedID
		st.members = memberSet(cluster)
		st.consecutiveHits++
		st.lastSupportedTs = now
		st.hasLastSupported = true

		e.emitClusterBuilt(now, fused)

		if st.consecutiveHits >= e.cfg.ConfirmFrames {
			st.published = true
			result = append(result, fused)
			e.emitFusedUpdated(now, fused)
		}
	}

	e.expireUnsupported(now, presentKeys)

	sort.Slice(result, func(i, j int) bool { return result[i].FusedID < result[j].FusedID })
	return result
}

// buildClusters groups tracks whose pairwise position and velocity gates
// both hold, using union-find for transitive grouping. Ordering within
// a cluster is lexicographic over (source_id, source_track_id) and the
// cluster list itself is ordered by each cluster's lexicographically
// smallest member, so output ordering never depends on map iteration.
func (e *Engine) buildClusters(tracks []*types.SourceTrack) [][]*types.SourceTrack {
	sorted := append([]*types.SourceTrack(nil), tracks...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessKey(sorted[i].Key(), sorted[j].Key())
	})

	parent := make([]int, len(sorted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if gated(sorted[i], sorted[j], e.cfg.GateDistM, e.cfg.GateVelMps) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]*types.SourceTrack)
	for i, t := range sorted {
		root := find(i)
		groups[root] = append(groups[root], t)
	}

	clusters := make([][]*types.SourceTrack, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, g)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return lessKey(clusters[i][0].Key(), clusters[j][0].Key())
	})
	return clusters
}

func gated(a, b *types.SourceTrack, gateDist, gateVel float64) bool {
	return a.Pos.Dist(b.Pos) <= gateDist && a.Vel.Dist(b.Vel) <= gateVel
}

func lessKey(a, b types.SourceTrackKey) bool {
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.SourceTrackID < b.SourceTrackID
}

func memberSet(cluster []*types.SourceTrack) map[types.SourceTrackKey]bool {
	set := make(map[types.SourceTrackKey]bool, len(cluster))
	for _, t := range cluster {
		set[t.Key()] = true
	}
	return set
}

// matchOrCreateState finds a prior fused identity overlapping this
// cluster's membership by at least one source-track, preserving the
// same fused_id (anti-flap, spec §3 invariant). Identities still inside
// their cooldown window keep their last member set and take part in the
// same overlap search, so a returning member reuses its old id. If
// nothing overlaps, it mints a new content-derived id via idgen.
func (e *Engine) matchOrCreateState(cluster []*types.SourceTrack) *trackState {
	for _, st := range e.states {
		for _, t := range cluster {
			if st.members[t.Key()] {
				return st
			}
		}
	}

	members := make([]string, 0, len(cluster))
	for _, t := range cluster {
		members = append(members, t.SourceID+":"+t.SourceTrackID)
	}
	st := &trackState{fusedID: idgen.FusedTrackID(members)}
	e.states = append(e.states, st)
	return st
}

// expireUnsupported drops fused identities that have had zero supporting
// members for longer than CooldownS. Identities within the cooldown
// window are kept so a matching new cluster can reuse the id.
func (e *Engine) expireUnsupported(now time.Time, present map[types.SourceTrackKey]bool) {
	var survivors []*trackState
	for _, st := range e.states {
		supported := false
		for k := range st.members {
			if present[k] {
				supported = true
				break
			}
		}
		if supported {
			survivors = append(survivors, st)
			continue
		}
		if st.hasLastSupported && now.Sub(st.lastSupportedTs).Seconds() <= e.cfg.CooldownS {
			survivors = append(survivors, st)
			continue
		}
		// Cooldown expired: identity is dropped. A future matching
		// cluster will mint a fresh content-derived id.
	}
	e.states = survivors
}

// score computes the fused position/velocity centroid and trust for a
// cluster (spec §4.4 fusion step).
func (e *Engine) score(now time.Time, cluster []*types.SourceTrack) *types.FusedTrack {
	support := distinctSources(cluster)

	var posSum, velSum types.Vec2
	var qualitySum, weightSum float64
	for _, t := range cluster {
		w := t.Quality
		if w <= 0 {
			w = 0.01
		}
		posSum = posSum.Add(t.Pos.Scale(w))
		velSum = velSum.Add(t.Vel.Scale(w))
		qualitySum += t.Quality
		weightSum += w
	}
	centroidPos := posSum.Scale(1 / weightSum)
	centroidVel := velSum.Scale(1 / weightSum)
	meanQuality := qualitySum / float64(len(cluster))

	trust := meanQuality * (1 + 0.1*float64(support-1))
	if trust > 1 {
		trust = 1
	}

	var flags []types.FusionFlag
	if support < e.cfg.MinSupport {
		flags = append(flags, types.FlagLowSupport)
		if trust > 0.49 {
			trust = 0.49
		}
	}
	if conflict(cluster, e.cfg.ConflictDistM) {
		flags = append(flags, types.FlagConflict)
		trust *= 0.7
	}

	members := make([]types.SourceTrackKey, 0, len(cluster))
	for _, t := range cluster {
		members = append(members, t.Key())
	}
	sort.Slice(members, func(i, j int) bool { return lessKey(members[i], members[j]) })

	lead := cluster[0]
	for _, t := range cluster {
		if lessKey(t.Key(), lead.Key()) {
			lead = t
		}
	}

	return &types.FusedTrack{
		Members:       members,
		Pos:           centroidPos,
		Vel:           centroidVel,
		Quality:       meanQuality,
		Trust:         trust,
		Support:       support,
		Flags:         flags,
		TsEvent:       now,
		TsIngest:      now,
		IFF:           lead.IFF,
		TransponderOn: lead.TransponderOn,
		TransponderMd: lead.TransponderMd,
		RadialVel:     centroidVel.Range(),
	}
}

func distinctSources(cluster []*types.SourceTrack) int {
	seen := make(map[string]bool, len(cluster))
	for _, t := range cluster {
		seen[t.SourceID] = true
	}
	return len(seen)
}

func conflict(cluster []*types.SourceTrack, conflictDist float64) bool {
	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			if cluster[i].SourceID == cluster[j].SourceID {
				continue
			}
			if cluster[i].Pos.Dist(cluster[j].Pos) > conflictDist {
				return true
			}
		}
	}
	return false
}

func (e *Engine) emitClusterBuilt(now time.Time, fused *types.FusedTrack) {
	if e.events == nil {
		return
	}
	_, _ = e.events.Append("fusion", "FUSION_CLUSTER_BUILT", map[string]any{
		"fused_id": fused.FusedID,
		"support":  fused.Support,
		"members":  len(fused.Members),
	}, types.TruthOK, "cluster_built", now)
}

func (e *Engine) emitFusedUpdated(now time.Time, fused *types.FusedTrack) {
	if e.events == nil {
		return
	}
	_, _ = e.events.Append("fusion", "FUSED_TRACK_UPDATED", map[string]any{
		"fused_id": fused.FusedID,
		"support":  fused.Support,
		"trust":    fused.Trust,
		"flags":    fused.Flags,
	}, types.TruthOK, "fused_track_updated", now)
}
