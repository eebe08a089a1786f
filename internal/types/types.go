// Package types holds the shared domain model described by the data model
// section of the radar core specification: Observation through
// HealthSnapshot. These are plain value types; behavior lives in the
// packages that own each entity's lifecycle (trackstore, fusion, guard,
// shipfsm, eventstore).
package types

import (
	"math"
	"time"
)

// TruthState records whether a payload is validated data, a recorded
// absence, or an explicitly opted-in fallback substitute. Every consumer
// of the core gets one of these three — never a silently imputed value.
type TruthState string

const (
	TruthOK       TruthState = "OK"
	TruthNoData   TruthState = "NO_DATA"
	TruthFallback TruthState = "FALLBACK"
)

// Observation is one raw reading from one sensor source at one time.
// Transient: consumed by the Track Store within the tick it arrives in.
type Observation struct {
	SourceID      string
	SourceTrackID string
	TsEvent       time.Time
	Pos           Vec2
	Vel           Vec2
	Quality       float64
	IFF           int
	TransponderOn bool
	TransponderMd int
}

// Vec2 is a planar position or velocity component pair.
type Vec2 struct {
	X, Y float64
}

// Sub returns a-b.
func (a Vec2) Sub(b Vec2) Vec2 { return Vec2{a.X - b.X, a.Y - b.Y} }

// Add returns a+b.
func (a Vec2) Add(b Vec2) Vec2 { return Vec2{a.X + b.X, a.Y + b.Y} }

// Scale returns a scaled by s.
func (a Vec2) Scale(s float64) Vec2 { return Vec2{a.X * s, a.Y * s} }

// Range returns the Euclidean distance to the origin (i.e. sensor range
// when a is a track position).
func (a Vec2) Range() float64 {
	return math.Hypot(a.X, a.Y)
}

// Dist returns the Euclidean distance between a and b.
func (a Vec2) Dist(b Vec2) float64 {
	return a.Sub(b).Range()
}

// Dot returns the dot product of a and b.
func (a Vec2) Dot(b Vec2) float64 {
	return a.X*b.X + a.Y*b.Y
}

// TrackStatus is the lifecycle state of a SourceTrack.
type TrackStatus string

const (
	StatusNew      TrackStatus = "NEW"
	StatusTracked  TrackStatus = "TRACKED"
	StatusCoasting TrackStatus = "COASTING"
	StatusLost     TrackStatus = "LOST"
)

// SourceTrack is the smoothed lifecycle object for a persistent return
// within a single source. Identity is (SourceID, SourceTrackID); this
// identity is never re-used once assigned.
type SourceTrack struct {
	SourceID      string
	SourceTrackID string
	Pos           Vec2
	Vel           Vec2
	Quality       float64
	Hits          int
	MissCount     int
	Status        TrackStatus
	LastSeen      time.Time
	IFF           int
	TransponderOn bool
	TransponderMd int
}

// Key returns the identity tuple for this track.
func (t *SourceTrack) Key() SourceTrackKey {
	return SourceTrackKey{SourceID: t.SourceID, SourceTrackID: t.SourceTrackID}
}

// SourceTrackKey is the map key identity for a SourceTrack.
type SourceTrackKey struct {
	SourceID      string
	SourceTrackID string
}

// FusionFlag marks a noteworthy condition detected during fusion.
type FusionFlag string

const (
	FlagLowSupport FusionFlag = "LOW_SUPPORT"
	FlagConflict   FusionFlag = "CONFLICT"
)

// FusedTrack is the cross-source consensus object with a stable identity,
// produced by the fusion engine.
type FusedTrack struct {
	FusedID       string
	Members       []SourceTrackKey
	Pos           Vec2
	Vel           Vec2
	Quality       float64
	Trust         float64
	Support       int
	Flags         []FusionFlag
	TsEvent       time.Time
	TsIngest      time.Time
	IFF           int
	TransponderOn bool
	TransponderMd int
	RadialVel     float64
}

// HasFlag reports whether the track carries the given fusion flag.
func (f *FusedTrack) HasFlag(flag FusionFlag) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// Severity orders GuardRule/GuardAlert severities for tie-break sorting:
// critical first, then warning, then info.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns a sortable rank where higher means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// GuardAlert is a concrete evaluation of a rule against a track, emitted
// on edge-trigger entry only.
type GuardAlert struct {
	RuleID        string
	TrackID       string
	Severity      Severity
	FSMEvent      string
	TsEpoch       time.Time
	TsIngestEpoch *time.Time
	RangeM        float64
	Quality       float64
	IFF           int
	TransponderOn bool
	TransponderMd int
}

// ShipState is a node in the ship finite-state machine.
type ShipState string

const (
	ShipStartup            ShipState = "SHIP_STARTUP"
	ShipIdle               ShipState = "SHIP_IDLE"
	ShipFlightCruise       ShipState = "FLIGHT_CRUISE"
	ShipFlightManeuvering  ShipState = "FLIGHT_MANEUVERING"
	ShipDockingApproach    ShipState = "DOCKING_APPROACH"
	ShipDockingEngaged     ShipState = "DOCKING_ENGAGED"
	ShipSafeMode           ShipState = "SAFE_MODE"
)

// TransitionStatus records whether an FSM transition fully completed this
// tick or is still pending on an external condition.
type TransitionStatus string

const (
	TransitionSuccess TransitionStatus = "SUCCESS"
	TransitionPending TransitionStatus = "PENDING"
)

// ActuationStatus is the outcome of an actuator command.
type ActuationStatus string

const (
	ActuationAccepted    ActuationStatus = "ACCEPTED"
	ActuationExecuted    ActuationStatus = "EXECUTED"
	ActuationRejected    ActuationStatus = "REJECTED"
	ActuationTimeout     ActuationStatus = "TIMEOUT"
	ActuationUnavailable ActuationStatus = "UNAVAILABLE"
)

// ActuationResult is the one-shot outcome of an actuator command.
type ActuationResult struct {
	CommandID string
	Status    ActuationStatus
	Reason    string
	TsEvent   time.Time
}

// TrustedSensorFrame is the station-track sensor verdict passed to the
// ship FSM each tick.
type TrustedSensorFrame struct {
	// Present is false when no station track exists at all this tick
	// (a "lost target" rather than merely an untrusted one).
	Present    bool
	Trusted    bool
	Stale      bool
	Quality    float64
	RangeM     float64
	RadialVelM float64
	Reason     string
	TsEvent    time.Time
}

// SystemEvent is an append-only record in the Event Store. Immutable
// after append; every field here is required by the wire envelope in the
// external interfaces section.
type SystemEvent struct {
	SchemaVersion int
	EventID       int64
	Ts            time.Time
	Subsystem     string
	EventType     string
	TruthState    TruthState
	Reason        string
	Payload       map[string]any
	SessionID     string
}

// RenderPlan is the per-tick derived view of the current radar world.
type RenderPlan struct {
	TsEvent      time.Time
	TargetsCount int
	LOD          int
	BitmapScale  float64
	FrameBudgetMs float64
	TruthState   TruthState
	Reason       string
}

// SituationAlert is a closest-point-of-approach risk between two fused
// tracks, emitted on level-transition entry by the situational
// analysis component (spec §4.10 situational_analysis plugin kind).
type SituationAlert struct {
	TrackA     string
	TrackB     string
	Level      HealthLevel
	Reason     string
	TimeToCPAS float64
	DistAtCPAM float64
	TsEvent    time.Time
}

// HealthLevel is the severity level of a HealthSnapshot metric comparison.
type HealthLevel string

const (
	HealthOK   HealthLevel = "OK"
	HealthWarn HealthLevel = "WARN"
	HealthCrit HealthLevel = "CRIT"
)

// HealthSnapshot is the derived status over pipeline+store+session
// sampled once per tick by the health monitor.
type HealthSnapshot struct {
	TsEvent          time.Time
	FrameMsP95       float64
	SQLiteQueueDepth int
	DroppedEvents    int64
	SessionStaleMs   int64
	FusionConflictRt float64
}
