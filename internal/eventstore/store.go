// Package eventstore is the single chronological record of the radar
// core's decisions (spec §4.2). It is written-through by every other
// component and is the sole trace of truth used by export, replay, and
// health.
package eventstore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Order controls the direction a Query returns results in.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// FilterSpec narrows a Filter call to events matching all set fields.
// Zero-value fields are unconstrained.
type FilterSpec struct {
	Subsystem  string
	EventType  string
	TruthState types.TruthState
}

// QuerySpec narrows a Query call over a time range and optional type/
// subsystem sets.
type QuerySpec struct {
	From       time.Time
	To         time.Time
	Types      []string
	Subsystems []string
	TruthState types.TruthState
	Limit      int
	Order      Order
}

// Store is the append-only event record every core component writes
// through and every consumer (export, replay, health) reads from.
type Store interface {
	// Append assigns a monotonic event_id and records the event.
	// ts defaults to the store's Clock if the zero time is given.
	Append(subsystem, eventType string, payload map[string]any, truth types.TruthState, reason string, ts time.Time) (int64, error)

	// Filter returns events matching spec in chronological order.
	Filter(spec FilterSpec) []types.SystemEvent

	// Query returns events in [from, to] matching the given type/subsystem
	// sets, bounded by limit (0 = unbounded), in the requested order.
	Query(spec QuerySpec) []types.SystemEvent

	// Recent returns the last n events in chronological order.
	Recent(n int) []types.SystemEvent

	// Close flushes any queued events synchronously before returning.
	Close() error
}

// MemoryStore is a ring buffer of bounded capacity. It is the backend
// used for the in-process side-channel that's always live (even when a
// SQLite backend is also configured) so that write failures elsewhere
// still have somewhere to land (spec §4.2 failure semantics).
type MemoryStore struct {
	clk       clock.Clock
	mu        sync.Mutex
	events    []types.SystemEvent
	maxlen    int
	nextID    atomic.Int64
	sessionID string
}

// NewMemoryStore returns a MemoryStore retaining at most maxlen events,
// evicting the oldest on overflow. Every event it appends is stamped
// with a session_id minted once at construction time, so events from
// concurrent pipeline runs sharing a trace file are distinguishable.
func NewMemoryStore(clk clock.Clock, maxlen int) *MemoryStore {
	if maxlen <= 0 {
		maxlen = 10000
	}
	return &MemoryStore{clk: clk, maxlen: maxlen, sessionID: uuid.NewString()}
}

// Append implements Store.
func (m *MemoryStore) Append(subsystem, eventType string, payload map[string]any, truth types.TruthState, reason string, ts time.Time) (int64, error) {
	if reason == "" {
		return 0, fmt.Errorf("eventstore: %s/%s: %w", subsystem, eventType, ErrInvalidEnvelope)
	}
	if ts.IsZero() {
		ts = m.clk.Now()
	}
	id := m.nextID.Add(1)
	evt := types.SystemEvent{
		SchemaVersion: SchemaVersion,
		EventID:       id,
		Ts:            ts,
		Subsystem:     subsystem,
		EventType:     eventType,
		TruthState:    truth,
		Reason:        reason,
		Payload:       payload,
		SessionID:     m.sessionID,
	}

	m.mu.Lock()
	m.events = append(m.events, evt)
	if len(m.events) > m.maxlen {
		drop := len(m.events) - m.maxlen
		m.events = m.events[drop:]
	}
	m.mu.Unlock()

	return id, nil
}

// Filter implements Store.
func (m *MemoryStore) Filter(spec FilterSpec) []types.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.SystemEvent, 0, len(m.events))
	for _, e := range m.events {
		if spec.Subsystem != "" && e.Subsystem != spec.Subsystem {
			continue
		}
		if spec.EventType != "" && e.EventType != spec.EventType {
			continue
		}
		if spec.TruthState != "" && e.TruthState != spec.TruthState {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Query implements Store.
func (m *MemoryStore) Query(spec QuerySpec) []types.SystemEvent {
	m.mu.Lock()
	snapshot := append([]types.SystemEvent(nil), m.events...)
	m.mu.Unlock()

	typeSet := toSet(spec.Types)
	subSet := toSet(spec.Subsystems)

	out := make([]types.SystemEvent, 0, len(snapshot))
	for _, e := range snapshot {
		if !spec.From.IsZero() && e.Ts.Before(spec.From) {
			continue
		}
		if !spec.To.IsZero() && e.Ts.After(spec.To) {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.EventType] {
			continue
		}
		if len(subSet) > 0 && !subSet[e.Subsystem] {
			continue
		}
		if spec.TruthState != "" && e.TruthState != spec.TruthState {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if spec.Order == OrderDesc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})

	if spec.Limit > 0 && len(out) > spec.Limit {
		out = out[:spec.Limit]
	}
	return out
}

// Recent implements Store.
func (m *MemoryStore) Recent(n int) []types.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]types.SystemEvent, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

// Close implements Store. MemoryStore holds no background resources.
func (m *MemoryStore) Close() error { return nil }

// less orders events by (ts, event_id) — event_id breaks ties
// deterministically per spec §5.
func less(a, b types.SystemEvent) bool {
	if !a.Ts.Equal(b.Ts) {
		return a.Ts.Before(b.Ts)
	}
	return a.EventID < b.EventID
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
