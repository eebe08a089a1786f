package shipfsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

func TestStartupAdvancesToIdle(t *testing.T) {
	f := New(Config{}, eventstore.NewMemoryStore(clock.NewSystem(), 100))
	require.Equal(t, types.ShipStartup, f.State())
	state := f.Step(time.Unix(0, 0), Inputs{BiosOK: true, SensorsOK: true, ProviderOK: true})
	require.Equal(t, types.ShipIdle, state)
}

func TestIdleWaitsForExecutedReceipt(t *testing.T) {
	f := New(Config{}, eventstore.NewMemoryStore(clock.NewSystem(), 100))
	f.state = types.ShipIdle

	pending := f.Step(time.Unix(0, 0), Inputs{MainDriveReceipt: &types.ActuationResult{Status: types.ActuationAccepted}})
	require.Equal(t, types.ShipIdle, pending)

	executed := f.Step(time.Unix(1, 0), Inputs{MainDriveReceipt: &types.ActuationResult{Status: types.ActuationExecuted}})
	require.Equal(t, types.ShipFlightCruise, executed)
}

func TestIdleTimeoutForcesSafeMode(t *testing.T) {
	f := New(Config{}, eventstore.NewMemoryStore(clock.NewSystem(), 100))
	f.state = types.ShipIdle

	state := f.Step(time.Unix(0, 0), Inputs{MainDriveReceipt: &types.ActuationResult{Status: types.ActuationTimeout}})
	require.Equal(t, types.ShipSafeMode, state)
}

// TestDockingConfirmation implements scenario S4: three consecutive
// ticks with a trusted station track (range=10, vr=0.1, quality=0.95)
// transition DOCKING_APPROACH -> DOCKING_ENGAGED only on the third tick.
func TestDockingConfirmation(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	f := New(Config{DockingConfirmationCount: 3}, events)
	f.state = types.ShipDockingApproach

	frame := types.TrustedSensorFrame{Present: true, Trusted: true, Quality: 0.95, RangeM: 10, RadialVelM: 0.1}

	s1 := f.Step(time.Unix(0, 0), Inputs{Trusted: frame})
	require.Equal(t, types.ShipDockingApproach, s1)
	require.Equal(t, 1, f.dockingConfirmCount)

	s2 := f.Step(time.Unix(1, 0), Inputs{Trusted: frame})
	require.Equal(t, types.ShipDockingApproach, s2)
	require.Equal(t, 2, f.dockingConfirmCount)

	s3 := f.Step(time.Unix(2, 0), Inputs{Trusted: frame})
	require.Equal(t, types.ShipDockingEngaged, s3)

	transitions := events.Filter(eventstore.FilterSpec{EventType: "FSM_TRANSITION"})
	last := transitions[len(transitions)-1]
	require.Equal(t, "DOCKING_CONFIRMED", last.Payload["trigger_event"])
	require.Equal(t, types.TransitionSuccess, last.Payload["status"])
}

func TestDockingSingleInvalidTickResetsConfirmCount(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	f := New(Config{DockingConfirmationCount: 3}, events)
	f.state = types.ShipDockingApproach

	good := types.TrustedSensorFrame{Present: true, Trusted: true, Quality: 0.95, RangeM: 10}
	bad := types.TrustedSensorFrame{Present: true, Trusted: false, Quality: 0.1, RangeM: 10, Reason: "LOW_CONFIDENCE"}

	f.Step(time.Unix(0, 0), Inputs{Trusted: good})
	require.Equal(t, 1, f.dockingConfirmCount)
	f.Step(time.Unix(1, 0), Inputs{Trusted: bad})
	require.Equal(t, 0, f.dockingConfirmCount)
}

func TestDockingLostTargetReturnsToManeuvering(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	f := New(Config{}, events)
	f.state = types.ShipDockingApproach

	state := f.Step(time.Unix(0, 0), Inputs{Trusted: types.TrustedSensorFrame{Present: false}})
	require.Equal(t, types.ShipFlightManeuvering, state)
}

// TestSafeModeHysteresis implements scenario S5: enter SAFE_MODE, two
// all-ok ticks partially confirm exit, a failing tick resets the
// counter, then three more all-ok ticks confirm exit to IDLE.
func TestSafeModeHysteresis(t *testing.T) {
	events := eventstore.NewMemoryStore(clock.NewSystem(), 100)
	f := New(Config{SafeExitConfirmationCount: 3}, events)
	f.state = types.ShipFlightCruise

	entered := f.Step(time.Unix(0, 0), Inputs{SafeModeRequestReason: "SENSORS_UNAVAILABLE"})
	require.Equal(t, types.ShipSafeMode, entered)

	allOK := Inputs{BiosOK: true, SensorsOK: true, ProviderOK: true}
	notOK := Inputs{BiosOK: true, SensorsOK: true, ProviderOK: false}

	s1 := f.Step(time.Unix(1, 0), allOK)
	require.Equal(t, types.ShipSafeMode, s1)
	require.Equal(t, 1, f.safeExitConfirmCount)

	s2 := f.Step(time.Unix(2, 0), allOK)
	require.Equal(t, types.ShipSafeMode, s2)
	require.Equal(t, 2, f.safeExitConfirmCount)

	s3 := f.Step(time.Unix(3, 0), notOK)
	require.Equal(t, types.ShipSafeMode, s3)
	require.Equal(t, 0, f.safeExitConfirmCount)

	s4 := f.Step(time.Unix(4, 0), allOK)
	require.Equal(t, 1, f.safeExitConfirmCount)
	s5 := f.Step(time.Unix(5, 0), allOK)
	require.Equal(t, types.ShipSafeMode, s5)
	require.Equal(t, 2, f.safeExitConfirmCount)

	s6 := f.Step(time.Unix(6, 0), allOK)
	require.Equal(t, types.ShipIdle, s6)

	transitions := events.Filter(eventstore.FilterSpec{EventType: "FSM_TRANSITION"})
	last := transitions[len(transitions)-1]
	require.Equal(t, "SAFE_MODE_EXIT_CONFIRMED", last.Payload["trigger_event"])
}
