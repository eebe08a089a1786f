// Package shipfsm drives the hierarchical ship finite-state machine
// (spec §4.6): SHIP_STARTUP, SHIP_IDLE, FLIGHT_CRUISE,
// FLIGHT_MANEUVERING, DOCKING_APPROACH, DOCKING_ENGAGED, SAFE_MODE.
package shipfsm

import (
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Config tunes the confirmation-counter hysteresis used by the docking
// and safe-exit transitions.
type Config struct {
	DockingConfirmationCount  int
	SafeExitConfirmationCount int
	DockingRangeM             float64
	DockingMinQuality         float64
}

func (c Config) withDefaults() Config {
	if c.DockingConfirmationCount <= 0 {
		c.DockingConfirmationCount = 3
	}
	if c.SafeExitConfirmationCount <= 0 {
		c.SafeExitConfirmationCount = 3
	}
	if c.DockingRangeM <= 0 {
		c.DockingRangeM = 200
	}
	if c.DockingMinQuality <= 0 {
		c.DockingMinQuality = 0.6
	}
	return c
}

// Inputs is everything the FSM needs for one tick (spec §4.6).
type Inputs struct {
	BiosOK              bool
	SensorsOK           bool
	ProviderOK          bool
	BiosUnavailable     bool
	SensorsStale        bool
	ActuatorUnavailable bool

	MainDriveReceipt *types.ActuationResult
	Trusted          types.TrustedSensorFrame

	// SafeModeRequestReason, if non-empty, is an explicit external
	// request to enter SAFE_MODE this tick (e.g. forwarded from a
	// guard alert whose fsm_event names a safe-mode trigger).
	SafeModeRequestReason string
}

// FSM is one ship's state machine instance. Not safe for concurrent
// use — the pipeline steps it once per tick, single-threaded (spec §5).
type FSM struct {
	cfg    Config
	events eventstore.Store

	state types.ShipState

	dockingConfirmCount  int
	safeExitConfirmCount int
	safeModeHoldReason   string
}

// New returns an FSM starting in SHIP_STARTUP.
func New(cfg Config, events eventstore.Store) *FSM {
	return &FSM{cfg: cfg.withDefaults(), events: events, state: types.ShipStartup}
}

// State returns the current state.
func (f *FSM) State() types.ShipState { return f.state }

// Step advances the FSM by one tick and returns the resulting state.
func (f *FSM) Step(now time.Time, in Inputs) types.ShipState {
	if reason, triggered := safeModeTrigger(in); triggered {
		if f.state != types.ShipSafeMode {
			f.enterSafeMode(now, reason)
		}
		return f.state
	}

	switch f.state {
	case types.ShipStartup:
		f.stepStartup(now, in)
	case types.ShipIdle:
		f.stepIdle(now, in)
	case types.ShipFlightCruise, types.ShipFlightManeuvering:
		f.stepFlight(now, in)
	case types.ShipDockingApproach:
		f.stepDockingApproach(now, in)
	case types.ShipDockingEngaged:
		// No spec-defined exit other than the safe-mode override above.
	case types.ShipSafeMode:
		f.stepSafeMode(now, in)
	}
	return f.state
}

func safeModeTrigger(in Inputs) (string, bool) {
	switch {
	case in.BiosUnavailable:
		return "BIOS_UNAVAILABLE", true
	case in.SensorsStale:
		return "SENSORS_STALE", true
	case in.ActuatorUnavailable:
		return "ACTUATOR_UNAVAILABLE", true
	case in.SafeModeRequestReason != "":
		return in.SafeModeRequestReason, true
	default:
		return "", false
	}
}

func (f *FSM) stepStartup(now time.Time, in Inputs) {
	if in.BiosOK && in.SensorsOK && in.ProviderOK {
		f.transition(now, types.ShipStartup, types.ShipIdle, "STARTUP_CHECKS_PASSED", types.TransitionSuccess, nil)
		f.state = types.ShipIdle
	}
}

func (f *FSM) stepIdle(now time.Time, in Inputs) {
	if in.MainDriveReceipt == nil {
		return
	}
	switch in.MainDriveReceipt.Status {
	case types.ActuationExecuted:
		f.transition(now, types.ShipIdle, types.ShipFlightCruise, "MAIN_DRIVE_EXECUTED", types.TransitionSuccess, nil)
		f.state = types.ShipFlightCruise
	case types.ActuationAccepted:
		f.transition(now, types.ShipIdle, types.ShipIdle, "MAIN_DRIVE_ACCEPTED_PENDING_EXECUTION", types.TransitionPending, nil)
	case types.ActuationTimeout, types.ActuationUnavailable:
		f.enterSafeMode(now, "ACTUATOR_UNAVAILABLE")
	}
}

func (f *FSM) stepFlight(now time.Time, in Inputs) {
	if f.dockingCandidatePresent(in) {
		from := f.state
		f.transition(now, from, types.ShipDockingApproach, "STATION_TRACK_ACQUIRED", types.TransitionSuccess, nil)
		f.state = types.ShipDockingApproach
		f.dockingConfirmCount = 0
	}
}

func (f *FSM) dockingCandidatePresent(in Inputs) bool {
	t := in.Trusted
	return t.Present && t.Trusted && !t.Stale && t.RangeM <= f.cfg.DockingRangeM && t.RadialVelM < 0
}

func (f *FSM) stepDockingApproach(now time.Time, in Inputs) {
	t := in.Trusted

	if !t.Present {
		f.transition(now, types.ShipDockingApproach, types.ShipFlightManeuvering, "DOCKING_TARGET_LOST", types.TransitionSuccess, nil)
		f.state = types.ShipFlightManeuvering
		f.dockingConfirmCount = 0
		return
	}

	valid := t.Trusted && !t.Stale && t.Quality >= f.cfg.DockingMinQuality && t.RangeM <= f.cfg.DockingRangeM
	if !valid {
		f.dockingConfirmCount = 0
		f.emitHeld(now, types.ShipDockingApproach, types.ShipDockingApproach, "DOCKING_SENSOR_VALIDATION_FAILED", t.Reason)
		return
	}

	f.dockingConfirmCount++
	if f.dockingConfirmCount >= f.cfg.DockingConfirmationCount {
		f.transition(now, types.ShipDockingApproach, types.ShipDockingEngaged, "DOCKING_CONFIRMED", types.TransitionSuccess, nil)
		f.state = types.ShipDockingEngaged
		f.dockingConfirmCount = 0
	} else {
		f.emitHeld(now, types.ShipDockingApproach, types.ShipDockingApproach, "DOCKING_CONFIRMATION_PENDING", "awaiting_confirmation_count")
	}
}

func (f *FSM) stepSafeMode(now time.Time, in Inputs) {
	allOK := in.BiosOK && in.SensorsOK && in.ProviderOK && !in.BiosUnavailable && !in.SensorsStale && !in.ActuatorUnavailable
	if !allOK {
		f.safeExitConfirmCount = 0
		reason := f.safeModeHoldReason
		if reason == "" {
			reason = "SAFE_MODE_CONDITIONS_PERSIST"
		}
		f.emitHeld(now, types.ShipSafeMode, types.ShipSafeMode, "SAFE_MODE_EXIT_BLOCKED", reason)
		return
	}

	f.safeExitConfirmCount++
	if f.safeExitConfirmCount >= f.cfg.SafeExitConfirmationCount {
		f.transition(now, types.ShipSafeMode, types.ShipIdle, "SAFE_MODE_EXIT_CONFIRMED", types.TransitionSuccess, nil)
		f.state = types.ShipIdle
		f.safeExitConfirmCount = 0
		f.safeModeHoldReason = ""
	} else {
		f.emitHeld(now, types.ShipSafeMode, types.ShipSafeMode, "SAFE_MODE_EXIT_PENDING", "awaiting_confirmation_count")
	}
}

func (f *FSM) enterSafeMode(now time.Time, reason string) {
	from := f.state
	f.transition(now, from, types.ShipSafeMode, reason, types.TransitionSuccess, nil)
	f.state = types.ShipSafeMode
	f.dockingConfirmCount = 0
	f.safeExitConfirmCount = 0
	f.safeModeHoldReason = reason
}

func (f *FSM) transition(now time.Time, from, to types.ShipState, trigger string, status types.TransitionStatus, context map[string]any) {
	if f.events == nil {
		return
	}
	payload := map[string]any{
		"from_state":    from,
		"to_state":      to,
		"trigger_event": trigger,
		"status":        status,
	}
	for k, v := range context {
		payload[k] = v
	}
	_, _ = f.events.Append("shipfsm", "FSM_TRANSITION", payload, types.TruthOK, trigger, now)
}

// emitHeld records a tick where a pending transition did not advance
// (docking confirmation still accumulating, safe-mode exit still
// blocked) — spec §4.6 requires an FSM_TRANSITION for held ticks too.
func (f *FSM) emitHeld(now time.Time, from, to types.ShipState, trigger, reason string) {
	if f.events == nil {
		return
	}
	_, _ = f.events.Append("shipfsm", "FSM_TRANSITION", map[string]any{
		"from_state":    from,
		"to_state":      to,
		"trigger_event": trigger,
		"status":        types.TransitionPending,
		"hold_reason":   reason,
	}, types.TruthOK, trigger, now)
}
