// Package trace exports filtered event traces to JSONL and replays
// them back through a pipeline with a deterministic ReplayClock (spec
// §4.9). Reading is line-oriented, the same bufio.Scanner-over-JSONL
// shape the teacher's own JSONL reader uses for its event log.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/qiki-sim/radarcore/internal/eventstore"
	"github.com/qiki-sim/radarcore/internal/types"
)

// Filter narrows an export to a time window, event types, subsystems,
// truth states, and a per-event-type sample rate in (0,1].
// Zero-value fields are unconstrained.
type Filter struct {
	From        time.Time
	To          time.Time
	Types       []string
	Subsystems  []string
	TruthStates []types.TruthState
	// SampleRate maps event_type to a deterministic keep-fraction. An
	// event type absent from the map is always kept.
	SampleRate map[string]float64
}

func (f Filter) matches(e types.SystemEvent) bool {
	if !f.From.IsZero() && e.Ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Ts.After(f.To) {
		return false
	}
	if len(f.Types) > 0 && !containsStr(f.Types, e.EventType) {
		return false
	}
	if len(f.Subsystems) > 0 && !containsStr(f.Subsystems, e.Subsystem) {
		return false
	}
	if len(f.TruthStates) > 0 && !containsTruth(f.TruthStates, e.TruthState) {
		return false
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsTruth(list []types.TruthState, v types.TruthState) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// sampler deterministically keeps a fraction of events per type using
// an accumulator, so repeated exports of the same trace keep exactly
// the same events — required for the replay determinism contract.
type sampler struct {
	rates map[string]float64
	acc   map[string]float64
}

func newSampler(rates map[string]float64) *sampler {
	return &sampler{rates: rates, acc: make(map[string]float64)}
}

func (s *sampler) keep(eventType string) bool {
	rate, configured := s.rates[eventType]
	if !configured || rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	s.acc[eventType] += rate
	if s.acc[eventType] >= 1 {
		s.acc[eventType] -= 1
		return true
	}
	return false
}

// ExportAsync writes events matching filter to path as JSONL in a
// background goroutine, recording TRACE_EXPORT_STARTED synchronously
// before returning and TRACE_EXPORT_FINISHED / TRACE_EXPORT_FAILED on
// completion (spec §4.9).
func ExportAsync(events eventstore.Store, path string, filter Filter, clk interface{ Now() time.Time }) {
	now := clk.Now()
	_, _ = events.Append("trace", "TRACE_EXPORT_STARTED", map[string]any{"path": path}, types.TruthOK, "export_started", now)

	go func() {
		n, err := writeFiltered(events, path, filter)
		finishedAt := clk.Now()
		if err != nil {
			_, _ = events.Append("trace", "TRACE_EXPORT_FAILED", map[string]any{
				"path": path, "error": err.Error(),
			}, types.TruthNoData, "export_failed", finishedAt)
			return
		}
		_, _ = events.Append("trace", "TRACE_EXPORT_FINISHED", map[string]any{
			"path": path, "events_written": n,
		}, types.TruthOK, "export_finished", finishedAt)
	}()
}

func writeFiltered(events eventstore.Store, path string, filter Filter) (int, error) {
	snapshot := events.Query(eventstore.QuerySpec{Order: eventstore.OrderAsc})

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("trace: creating export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	sample := newSampler(filter.SampleRate)

	written := 0
	for _, e := range snapshot {
		if !filter.matches(e) {
			continue
		}
		if !sample.keep(e.EventType) {
			continue
		}
		if err := enc.Encode(eventstore.ToEnvelope(e)); err != nil {
			return written, fmt.Errorf("trace: encoding envelope: %w", err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("trace: flushing export file: %w", err)
	}
	return written, nil
}

// ReadEnvelopes parses a JSONL trace file into SystemEvents, in file
// order (export always writes chronologically, so replay does not
// need to re-sort).
func ReadEnvelopes(path string) ([]types.SystemEvent, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator-supplied trace file
	if err != nil {
		return nil, fmt.Errorf("trace: opening %s: %w", path, err)
	}
	defer f.Close()

	var out []types.SystemEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env eventstore.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("trace: parsing envelope: %w", err)
		}
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("trace: invalid envelope: %w", err)
		}
		out = append(out, eventstore.FromEnvelope(env))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: scanning %s: %w", path, err)
	}
	return out, nil
}
