package eventstore

import "errors"

// Sentinel errors for event store conditions (spec §7 error kinds).
var (
	// ErrQueueFull indicates the SQLite writer's bounded queue was full
	// and the event was dropped. The producer is never blocked; strict
	// mode callers may choose to treat this as fatal.
	ErrQueueFull = errors.New("eventstore: queue full, event dropped")

	// ErrClosed indicates an operation was attempted after Close.
	ErrClosed = errors.New("eventstore: store closed")

	// ErrInvalidEnvelope indicates a SystemEvent failed §6 envelope
	// validation (missing reason, unsupported schema_version, etc).
	ErrInvalidEnvelope = errors.New("eventstore: invalid envelope")
)
