// Package plugin is the typed plugin registry and dependency-ordered
// instantiator described by spec §4.10: sensor_input, fusion,
// render_policy, render_backend, and situational_analysis
// implementations are swapped in via a YAML profile rather than
// hard-wired into the pipeline.
package plugin

import (
	"fmt"
	"sync"

	"github.com/qiki-sim/radarcore/internal/clock"
	"github.com/qiki-sim/radarcore/internal/eventstore"
)

// Kind is one of the five plugin categories the pipeline resolves one
// instance of per profile.
type Kind string

const (
	KindSensorInput         Kind = "sensor_input"
	KindFusion              Kind = "fusion"
	KindRenderPolicy        Kind = "render_policy"
	KindRenderBackend       Kind = "render_backend"
	KindSituationalAnalysis Kind = "situational_analysis"
)

// Context is the shared, read-only environment passed to every
// plugin's factory. A plugin owns no state beyond what it allocates in
// its own factory call; the Event Store ring and the clock are the
// only resources it shares with the rest of the pipeline (spec §5).
type Context struct {
	Clock        clock.Clock
	Events       eventstore.Store
	Config       map[string]any
	Capabilities map[string]bool
}

// Factory builds one plugin instance. The returned value is kind-
// specific (a fusion plugin returns something satisfying a fusion
// interface, etc.) and is opaque to the registry itself.
type Factory func(ctx Context, params map[string]any) (any, error)

// Entry describes one registered plugin: its declared capabilities
// (Provides) and the capabilities it needs present before it can be
// instantiated (Requires), used to topologically order construction.
type Entry struct {
	Name     string
	Kind     Kind
	Provides []string
	Requires []string
	Factory  Factory
}

// Registry holds registered plugin entries, keyed by name, in
// registration order. Mirrors the teacher's gate.Registry shape
// (ordered slice + byID map under a RWMutex, duplicate-name rejection)
// generalized from hook-type buckets to plugin-kind buckets.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Entry
	byKind map[Kind][]*Entry
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Entry),
		byKind: make(map[Kind][]*Entry),
	}
}

// Register adds e to the registry. Returns an error if a plugin with
// the same name is already registered (spec §4.10: "duplicate names
// are rejected").
func (r *Registry) Register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[e.Name]; exists {
		return fmt.Errorf("plugin: duplicate plugin name %q", e.Name)
	}
	r.byName[e.Name] = e
	r.byKind[e.Kind] = append(r.byKind[e.Kind], e)
	r.order = append(r.order, e.Name)
	return nil
}

// Get returns the registered entry named name, or nil if absent.
func (r *Registry) Get(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// OfKind returns every registered entry of the given kind, in
// registration order.
func (r *Registry) OfKind(kind Kind) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.byKind[kind]))
	copy(out, r.byKind[kind])
	return out
}

// Names returns every registered plugin name, in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
