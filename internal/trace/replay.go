package trace

import (
	"fmt"
	"math"
	"time"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/types"
)

// SourceTrackUpdatedEventType is the one event type replay re-injects
// (spec §4.9): trackstore.emitUpdated records the raw observation that
// drove each association, so feeding it back through the same Ingest
// path reproduces the identical smoothing sequence and, transitively,
// bit-exact fusion/guard/FSM/situation output.
const SourceTrackUpdatedEventType = "SOURCE_TRACK_UPDATED"

// ObservationFromPayload reconstructs the types.Observation a
// SOURCE_TRACK_UPDATED event's payload was built from. ok is false for
// any other event type.
func ObservationFromPayload(e types.SystemEvent) (obs types.Observation, ok bool) {
	if e.EventType != SourceTrackUpdatedEventType {
		return types.Observation{}, false
	}
	p := e.Payload
	return types.Observation{
		SourceID:      stringFromAny(p["source_id"]),
		SourceTrackID: stringFromAny(p["source_track_id"]),
		TsEvent:       e.Ts,
		Pos:           types.Vec2{X: floatFromAny(p["pos_x"]), Y: floatFromAny(p["pos_y"])},
		Vel:           types.Vec2{X: floatFromAny(p["vel_x"]), Y: floatFromAny(p["vel_y"])},
		Quality:       floatFromAny(p["quality"]),
		IFF:           intFromAny(p["iff"]),
		TransponderOn: boolFromAny(p["transponder_on"]),
		TransponderMd: intFromAny(p["transponder_md"]),
	}, true
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func boolFromAny(v any) bool {
	b, _ := v.(bool)
	return b
}

func floatFromAny(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Tick is the subset of a pipeline's per-frame entry point that replay
// drives: the timestamp a batch of re-injected observations shares,
// and the observations themselves.
type Tick func(ts time.Time, observations []types.Observation)

// ReplayPipeline re-injects every SOURCE_TRACK_UPDATED event in events,
// in order, batching consecutive events that share a timestamp into a
// single tick call. rc is advanced to a batch's timestamp immediately
// before that batch is flushed — never before — so tick always
// observes rc.Now() equal to the timestamp its own batch was recorded
// at, not a following batch's.
func ReplayPipeline(rc *clock.ReplayClock, events []types.SystemEvent, tick Tick) {
	var batch []types.Observation
	var batchTs time.Time
	haveBatch := false

	flush := func() {
		if !haveBatch {
			return
		}
		rc.Set(batchTs)
		tick(batchTs, batch)
		batch = nil
		haveBatch = false
	}

	for _, e := range events {
		obs, ok := ObservationFromPayload(e)
		if !ok {
			continue
		}
		if haveBatch && !e.Ts.Equal(batchTs) {
			flush()
		}
		batchTs = e.Ts
		haveBatch = true
		batch = append(batch, obs)
	}
	flush()
}

// FusedPoint is one FUSED_TRACK_UPDATED sample's replay-relevant
// fields (spec §4.9's golden-determinism property: "fused track ids
// and trust values within 1e-6").
type FusedPoint struct {
	FusedID string
	Trust   float64
}

// ExtractFusedSequence pulls the FUSED_TRACK_UPDATED sequence out of a
// captured or replayed trace, in recorded order.
func ExtractFusedSequence(events []types.SystemEvent) []FusedPoint {
	var out []FusedPoint
	for _, e := range events {
		if e.EventType != "FUSED_TRACK_UPDATED" {
			continue
		}
		out = append(out, FusedPoint{
			FusedID: stringFromAny(e.Payload["fused_id"]),
			Trust:   floatFromAny(e.Payload["trust"]),
		})
	}
	return out
}

// DiffFusedSequence reports every index where want and got disagree on
// fused_id, or on trust beyond tol, plus a length mismatch if the
// sequences differ in length (comparing only the shared prefix past
// that point). An empty return means the sequences match.
func DiffFusedSequence(want, got []FusedPoint, tol float64) []string {
	var diffs []string
	if len(want) != len(got) {
		diffs = append(diffs, fmt.Sprintf("length mismatch: want %d, got %d", len(want), len(got)))
	}
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		if want[i].FusedID != got[i].FusedID {
			diffs = append(diffs, fmt.Sprintf("index %d: fused_id %q != %q", i, want[i].FusedID, got[i].FusedID))
			continue
		}
		if math.Abs(want[i].Trust-got[i].Trust) > tol {
			diffs = append(diffs, fmt.Sprintf("index %d (%s): trust %.9f != %.9f", i, want[i].FusedID, want[i].Trust, got[i].Trust))
		}
	}
	return diffs
}

// SituationPoint is one SITUATION_UPDATED sample's replay-relevant
// fields (spec §4.9: "situation event_type and reason sequences match
// exactly").
type SituationPoint struct {
	EventType string
	Reason    string
}

// ExtractSituationSequence pulls the subsystem=SITUATION event
// sequence out of a captured or replayed trace, in recorded order.
func ExtractSituationSequence(events []types.SystemEvent) []SituationPoint {
	var out []SituationPoint
	for _, e := range events {
		if e.Subsystem != "SITUATION" {
			continue
		}
		out = append(out, SituationPoint{EventType: e.EventType, Reason: e.Reason})
	}
	return out
}

// SituationSequencesEqual reports whether want and got are identical,
// element for element.
func SituationSequencesEqual(want, got []SituationPoint) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
