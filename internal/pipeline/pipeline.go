// Package pipeline is the radar frame orchestrator (spec §4.7): per
// tick it drives the Track Store, the optional Fusion Engine, the
// Guard Table/Cadence, one Ship FSM step, a RenderPlan, and the Health
// Monitor, in that fixed order, single-threaded (spec §5).
package pipeline

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/fusion"
	"github.com/qiki-sim/radarcore/internal/guard"
	"github.com/qiki-sim/radarcore/internal/health"
	"github.com/qiki-sim/radarcore/internal/renderbackend"
	"github.com/qiki-sim/radarcore/internal/shipfsm"
	"github.com/qiki-sim/radarcore/internal/situation"
	"github.com/qiki-sim/radarcore/internal/trackstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// pipelineMetrics mirrors eventstore's sqliteTracer/sqliteMetrics
// pattern: registered against the global delegating OTel providers at
// init time, so they start forwarding real samples as soon as
// cmd/radarctl's --telemetry flag wires a real provider.
var pipelineMetrics struct {
	frameMs metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/qiki-sim/radarcore/pipeline")
	pipelineMetrics.frameMs, _ = m.Float64Histogram("radar.pipeline.frame_ms",
		metric.WithDescription("wall-clock frame time reported by the tick caller"),
		metric.WithUnit("ms"),
	)
}

// FSMEventSafeModeRequest is the fsm_event a guard rule names to
// request an immediate SAFE_MODE transition (spec §4.6's "explicit
// safe_mode_request_reason"). The pipeline forwards the first such
// alert's rule_id as the FSM's SafeModeRequestReason.
const FSMEventSafeModeRequest = "SAFE_MODE_REQUESTED"

// AdaptiveConfig tunes the frame-budget degrade/recover hysteresis
// (spec §4.7 invariant). Populated either with defaults or from a
// render policy YAML v1 file's adaptive/bitmap_scales sections (spec
// §6) via renderpolicy.File.AdaptiveConfig.
type AdaptiveConfig struct {
	FrameBudgetMs         float64
	DegradeConfirmFrames  int
	RecoveryConfirmFrames int
	// CooldownMs is the minimum gap, measured on the pipeline's Clock, between consecutive
	// degrade/recover transitions, independent of DegradeConfirmFrames/
	// RecoveryConfirmFrames (render policy §6 adaptive.cooldown_ms).
	CooldownMs int
	// MaxLevel caps the LOD the adaptive policy will select.
	MaxLevel int
	// BitmapScales is indexed by LOD; BitmapScales[lod] is the render
	// plan's bitmap scale at that degrade level.
	BitmapScales []float64
	// Disabled skips degrade/recover evaluation entirely (render policy
	// §6 adaptive.enabled: false).
	Disabled bool
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	if c.FrameBudgetMs <= 0 {
		c.FrameBudgetMs = 100
	}
	if c.DegradeConfirmFrames <= 0 {
		c.DegradeConfirmFrames = 3
	}
	if c.RecoveryConfirmFrames <= 0 {
		c.RecoveryConfirmFrames = 5
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = 1
	}
	if len(c.BitmapScales) == 0 {
		c.BitmapScales = []float64{1.0, 0.5}
	}
	return c
}

// Config wires the pipeline's tunables; everything else (fusion gates,
// guard cadence, FSM hysteresis) is configured on the component passed
// to New.
type Config struct {
	FusionEnabled bool
	Adaptive      AdaptiveConfig
}

// TickInputs is everything one frame needs. FrameMs is measured by the
// caller (wall-clock around the previous Tick call) rather than by the
// pipeline itself, since the pipeline's own Clock may be a ReplayClock
// and frame_ms is a real-time performance metric, not a simulation
// timestamp (spec §4.1: no component derives event timestamps from the
// OS clock, but perf telemetry is not an event timestamp).
type TickInputs struct {
	Observations []types.Observation
	FrameMs      float64

	BiosOK              bool
	SensorsOK           bool
	ProviderOK          bool
	BiosUnavailable     bool
	SensorsStale        bool
	ActuatorUnavailable bool
	MainDriveReceipt    *types.ActuationResult
	Trusted             types.TrustedSensorFrame
}

// Pipeline is one pipeline instance's full component set.
type Pipeline struct {
	clk    clock.Clock
	events eventstore.Store
	cfg    Config

	tracks    *trackstore.Store
	fuser     *fusion.Engine
	table     *guard.Table
	cadence   *guard.Cadence
	fsm       *shipfsm.FSM
	health    *health.Monitor
	situation *situation.Monitor

	// DroppedEvents, if set, reports the Event Store's current dropped-
	// event counter (e.g. SQLiteStore.DroppedCount) for health sampling.
	DroppedEvents func() int64
	// QueueDepth, if set, reports the Event Store's current writer
	// queue depth for health sampling.
	QueueDepth func() int
	// Backend, if set, receives every tick's RenderPlan (render_backend
	// plugin kind, spec §4.10).
	Backend renderbackend.Backend

	frameMsWindow  []float64
	fusionRebuilds int64

	degraded           bool
	degradeHits        int
	recoverHits        int
	lod                int
	lastPolicyChangeAt time.Time

	lastSnapshotAt time.Time
}

// New wires a Pipeline from its already-constructed components. sit
// may be nil, disabling situational analysis entirely (the pipeline
// then emits no SITUATION_* events).
func New(cfg Config, clk clock.Clock, events eventstore.Store, tracks *trackstore.Store, fuser *fusion.Engine, table *guard.Table, cadence *guard.Cadence, fsm *shipfsm.FSM, hm *health.Monitor, sit *situation.Monitor) *Pipeline {
	cfg.Adaptive = cfg.Adaptive.withDefaults()
	return &Pipeline{
		cfg:       cfg,
		clk:       clk,
		events:    events,
		tracks:    tracks,
		fuser:     fuser,
		table:     table,
		cadence:   cadence,
		fsm:       fsm,
		health:    hm,
		situation: sit,
	}
}

// Tick runs one full frame (spec §4.7 steps 1, 3-6; step 2's replay
// branch is driven externally by trace.ReplayPipeline re-injecting
// SOURCE_TRACK_UPDATED events as Observations into in.Observations).
func (p *Pipeline) Tick(in TickInputs) types.RenderPlan {
	now := p.clk.Now()

	sourceTracks := p.tracks.Ingest(now, in.Observations)

	var fused []*types.FusedTrack
	if p.cfg.FusionEnabled && p.fuser != nil {
		fused = p.fuser.Update(now, sourceTracks)
		p.fusionRebuilds++
	} else {
		fused = identityFuse(sourceTracks)
	}

	var alerts []types.GuardAlert
	for _, track := range fused {
		alerts = append(alerts, p.cadence.Update(track)...)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
		}
		return alerts[i].RuleID < alerts[j].RuleID
	})

	if p.situation != nil {
		p.situation.Update(now, fused)
		p.situation.GC(liveFusedIDs(fused))
	}

	fsmIn := shipfsm.Inputs{
		BiosOK:              in.BiosOK,
		SensorsOK:           in.SensorsOK,
		ProviderOK:          in.ProviderOK,
		BiosUnavailable:     in.BiosUnavailable,
		SensorsStale:        in.SensorsStale,
		ActuatorUnavailable: in.ActuatorUnavailable,
		MainDriveReceipt:    in.MainDriveReceipt,
		Trusted:             in.Trusted,
	}
	for _, alert := range alerts {
		if alert.FSMEvent == FSMEventSafeModeRequest {
			fsmIn.SafeModeRequestReason = alert.RuleID
			break
		}
	}
	p.fsm.Step(now, fsmIn)

	plan := p.buildRenderPlan(now, len(fused))

	pipelineMetrics.frameMs.Record(context.Background(), in.FrameMs)

	p.frameMsWindow = append(p.frameMsWindow, in.FrameMs)
	if len(p.frameMsWindow) > 200 {
		p.frameMsWindow = p.frameMsWindow[len(p.frameMsWindow)-200:]
	}
	p.evaluateAdaptivePolicy(now, in.FrameMs)

	p.emitRenderTick(now, plan)

	if p.Backend != nil {
		p.Backend.Emit(plan)
	}

	p.sampleHealth(now, fused)

	return plan
}

// buildRenderPlan derives the per-tick RenderPlan (spec §3 data model,
// §4.7). LOD reflects the current adaptive-degrade level.
func (p *Pipeline) buildRenderPlan(now time.Time, targetsCount int) types.RenderPlan {
	lod := 0
	if p.degraded {
		lod = 1
	}
	if lod > p.cfg.Adaptive.MaxLevel {
		lod = p.cfg.Adaptive.MaxLevel
	}
	scale := 1.0
	if lod < len(p.cfg.Adaptive.BitmapScales) {
		scale = p.cfg.Adaptive.BitmapScales[lod]
	}
	return types.RenderPlan{
		TsEvent:       now,
		TargetsCount:  targetsCount,
		LOD:           lod,
		BitmapScale:   scale,
		FrameBudgetMs: p.cfg.Adaptive.FrameBudgetMs,
		TruthState:    types.TruthOK,
		Reason:        "rendered",
	}
}

// evaluateAdaptivePolicy implements spec §4.7's degrade/recover
// hysteresis: the tick's own frame_ms above budget for
// DegradeConfirmFrames consecutive ticks degrades; frame_ms within
// budget for RecoveryConfirmFrames consecutive ticks recovers.
func (p *Pipeline) evaluateAdaptivePolicy(now time.Time, frameMs float64) {
	if p.cfg.Adaptive.Disabled {
		return
	}

	over := frameMs > p.cfg.Adaptive.FrameBudgetMs

	if over {
		p.degradeHits++
		p.recoverHits = 0
	} else {
		p.recoverHits++
		p.degradeHits = 0
	}

	cooldownElapsed := p.lastPolicyChangeAt.IsZero() ||
		now.Sub(p.lastPolicyChangeAt).Milliseconds() >= int64(p.cfg.Adaptive.CooldownMs)

	if !p.degraded && p.degradeHits >= p.cfg.Adaptive.DegradeConfirmFrames && cooldownElapsed {
		p.degraded = true
		p.lastPolicyChangeAt = now
		_, _ = p.events.Append("pipeline", "POLICY_DEGRADE", map[string]any{
			"frame_ms": frameMs, "frame_budget_ms": p.cfg.Adaptive.FrameBudgetMs,
		}, types.TruthOK, "frame_budget_exceeded", now)
	}
	if p.degraded && p.recoverHits >= p.cfg.Adaptive.RecoveryConfirmFrames && cooldownElapsed {
		p.degraded = false
		p.lastPolicyChangeAt = now
		_, _ = p.events.Append("pipeline", "POLICY_RECOVERED", map[string]any{
			"frame_ms": frameMs,
		}, types.TruthOK, "frame_budget_recovered", now)
	}
}

func (p *Pipeline) emitRenderTick(now time.Time, plan types.RenderPlan) {
	_, _ = p.events.Append("pipeline", "RADAR_RENDER_TICK", map[string]any{
		"targets_count":   plan.TargetsCount,
		"lod":             plan.LOD,
		"frame_budget_ms": plan.FrameBudgetMs,
	}, plan.TruthState, plan.Reason, now)
}

func (p *Pipeline) sampleHealth(now time.Time, fused []*types.FusedTrack) {
	if p.health == nil {
		return
	}
	snap := types.HealthSnapshot{
		TsEvent:          now,
		FrameMsP95:       percentile95(p.frameMsWindow),
		DroppedEvents:    p.droppedEvents(),
		SQLiteQueueDepth: p.queueDepth(),
		FusionConflictRt: conflictRate(fused),
	}
	if !p.lastSnapshotAt.IsZero() {
		snap.SessionStaleMs = now.Sub(p.lastSnapshotAt).Milliseconds()
	}
	p.lastSnapshotAt = now
	p.health.Sample(now, snap)
}

// conflictRate is the fraction of this tick's fused tracks flagged
// CONFLICT, one of the health monitor's sampled metrics (spec §4.8).
func conflictRate(fused []*types.FusedTrack) float64 {
	if len(fused) == 0 {
		return 0
	}
	conflicted := 0
	for _, f := range fused {
		if f.HasFlag(types.FlagConflict) {
			conflicted++
		}
	}
	return float64(conflicted) / float64(len(fused))
}

func (p *Pipeline) droppedEvents() int64 {
	if p.DroppedEvents == nil {
		return 0
	}
	return p.DroppedEvents()
}

func (p *Pipeline) queueDepth() int {
	if p.QueueDepth == nil {
		return 0
	}
	return p.QueueDepth()
}

// percentile95 returns the 95th percentile of samples using a sorted
// copy (samples is small — a few hundred entries — so this runs well
// within the per-tick budget).
func percentile95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * 0.95)
	return sorted[idx]
}

// liveFusedIDs is the set of fused_ids present this tick, passed to
// situation.Monitor.GC so pair state for departed tracks doesn't pin
// memory forever.
func liveFusedIDs(fused []*types.FusedTrack) map[string]bool {
	live := make(map[string]bool, len(fused))
	for _, f := range fused {
		live[f.FusedID] = true
	}
	return live
}

// identityFuse wraps each SourceTrack as its own single-member
// FusedTrack when the Fusion Engine is disabled, so Guard Cadence
// always operates on FusedTrack regardless of configuration.
func identityFuse(tracks []*types.SourceTrack) []*types.FusedTrack {
	out := make([]*types.FusedTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, &types.FusedTrack{
			FusedID:       t.SourceID + ":" + t.SourceTrackID,
			Members:       []types.SourceTrackKey{t.Key()},
			Pos:           t.Pos,
			Vel:           t.Vel,
			Quality:       t.Quality,
			Trust:         t.Quality,
			Support:       1,
			TsEvent:       t.LastSeen,
			IFF:           t.IFF,
			TransponderOn: t.TransponderOn,
			TransponderMd: t.TransponderMd,
			RadialVel:     t.Vel.Range(),
		})
	}
	return out
}
