package eventstore

import (
	"fmt"
	"time"

	"github.com/qiki-sim/radarcore/internal/types"
)

// SchemaVersion is the only accepted wire schema version (§6).
const SchemaVersion = 1

// Envelope is the wire-frozen JSON shape for one line of a JSONL trace,
// and the shape every query result is returned in.
type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	Ts            float64        `json:"ts"`
	Subsystem     string         `json:"subsystem"`
	EventType     string         `json:"event_type"`
	TruthState    string         `json:"truth_state"`
	Reason        string         `json:"reason"`
	Payload       map[string]any `json:"payload"`
	SessionID     string         `json:"session_id"`
}

// ToEnvelope converts an in-memory SystemEvent to its wire envelope.
func ToEnvelope(e types.SystemEvent) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		Ts:            float64(e.Ts.UnixNano()) / 1e9,
		Subsystem:     e.Subsystem,
		EventType:     e.EventType,
		TruthState:    string(e.TruthState),
		Reason:        e.Reason,
		Payload:       e.Payload,
		SessionID:     e.SessionID,
	}
}

// FromEnvelope converts a wire envelope back to an in-memory SystemEvent
// (used by replay to re-inject recorded events).
func FromEnvelope(env Envelope) types.SystemEvent {
	sec := int64(env.Ts)
	nsec := int64((env.Ts - float64(sec)) * 1e9)
	return types.SystemEvent{
		SchemaVersion: env.SchemaVersion,
		Ts:            time.Unix(sec, nsec).UTC(),
		Subsystem:     env.Subsystem,
		EventType:     env.EventType,
		TruthState:    types.TruthState(env.TruthState),
		Reason:        env.Reason,
		Payload:       env.Payload,
		SessionID:     env.SessionID,
	}
}

// Validate checks an envelope against the §6 schema invariants: all eight
// keys required, schema_version must be exactly 1, reason non-empty, and
// truth_state must be a recognized value.
func (env Envelope) Validate() error {
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema_version %d != %d", ErrInvalidEnvelope, env.SchemaVersion, SchemaVersion)
	}
	if env.Subsystem == "" {
		return fmt.Errorf("%w: missing subsystem", ErrInvalidEnvelope)
	}
	if env.EventType == "" {
		return fmt.Errorf("%w: missing event_type", ErrInvalidEnvelope)
	}
	if env.Reason == "" {
		return fmt.Errorf("%w: missing reason", ErrInvalidEnvelope)
	}
	switch types.TruthState(env.TruthState) {
	case types.TruthOK, types.TruthNoData, types.TruthFallback:
	default:
		return fmt.Errorf("%w: unknown truth_state %q", ErrInvalidEnvelope, env.TruthState)
	}
	if env.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidEnvelope)
	}
	return nil
}
