package plugin

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/qiki-sim/radarcore/internal/types"
)

// ErrDependencyCycle is returned when a profile's selected plugins
// cannot be topologically ordered by Requires/Provides.
var ErrDependencyCycle = fmt.Errorf("plugin: dependency cycle")

// ErrUnknownPlugin is returned (strict mode only, or when no built-in
// fallback exists) when a profile names a plugin that was never
// registered.
var ErrUnknownPlugin = fmt.Errorf("plugin: unknown plugin")

// Manager resolves a named profile against the registry, falls back to
// built-ins for unknown plugins in non-strict mode, orders the
// selection by dependency, and instantiates each via its factory.
type Manager struct {
	registry *Registry
	strict   bool
}

// NewManager returns a Manager over reg. In strict mode, an unknown
// plugin name in a profile is a fatal error rather than a fallback
// (spec §4.10, §7).
func NewManager(reg *Registry, strict bool) *Manager {
	return &Manager{registry: reg, strict: strict}
}

// PluginRef is one profile entry: the plugin name plus its
// construction params (spec §6 plugin profile YAML).
type PluginRef struct {
	Name   string
	Params map[string]any
}

// Resolved is one kind's outcome: either the requested plugin or, in
// non-strict mode, the built-in fallback that replaced it.
type Resolved struct {
	Kind     Kind
	Name     string
	Instance any
	Fallback bool
}

// Resolve selects one plugin per kind present in selection, orders the
// selected entries by Requires/Provides using Kahn's algorithm, and
// instantiates each via its factory against ctx.
//
// builtins supplies the fallback plugin name for each kind; it is
// consulted when a profile names a plugin the registry doesn't have.
// In strict mode that case is fatal (ErrUnknownPlugin); otherwise the
// built-in is substituted and a PLUGIN_FALLBACK_USED event is recorded
// on ctx.Events.
func (m *Manager) Resolve(ctx Context, selection map[Kind]PluginRef, builtins map[Kind]string) (map[Kind]*Resolved, error) {
	entries := make(map[Kind]*Entry, len(selection))
	results := make(map[Kind]*Resolved, len(selection))

	for kind, ref := range selection {
		entry := m.registry.Get(ref.Name)
		fallback := false
		name := ref.Name
		if entry == nil {
			if m.strict {
				return nil, fmt.Errorf("%w: %q (kind %s)", ErrUnknownPlugin, ref.Name, kind)
			}
			builtinName, ok := builtins[kind]
			if !ok {
				return nil, fmt.Errorf("%w: %q (kind %s), and no built-in fallback is registered", ErrUnknownPlugin, ref.Name, kind)
			}
			entry = m.registry.Get(builtinName)
			if entry == nil {
				return nil, fmt.Errorf("%w: built-in fallback %q for kind %s is not registered", ErrUnknownPlugin, builtinName, kind)
			}
			fallback = true
			name = builtinName
			_, _ = ctx.Events.Append("plugin", "PLUGIN_FALLBACK_USED", map[string]any{
				"kind":        string(kind),
				"requested":   ref.Name,
				"substituted": builtinName,
			}, types.TruthFallback, "unknown_plugin_non_strict", ctx.Clock.Now())
		}
		entries[kind] = entry
		results[kind] = &Resolved{Kind: kind, Name: name, Fallback: fallback}
	}

	ordered, err := topoOrder(entries)
	if err != nil {
		return nil, err
	}

	// Entries with no unmet dependency among the selection instantiate
	// concurrently within each layer; errgroup collects the first error.
	for _, layer := range ordered {
		var g errgroup.Group
		for _, kind := range layer {
			g.Go(func() error {
				entry := entries[kind]
				instance, err := entry.Factory(ctx, selection[kind].Params)
				if err != nil {
					return fmt.Errorf("plugin: instantiating %q (kind %s): %w", entry.Name, kind, err)
				}
				results[kind].Instance = instance
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// topoOrder groups entries into instantiation layers by Kahn's
// algorithm: layer 0 has no unmet Requires among the selected entries,
// layer 1 depends only on layer 0, and so on. Returns ErrDependencyCycle
// if any entries remain unplaceable once no further layer can be formed.
//
// Standard library only (no third-party graph library appears anywhere
// in the pack); this is the one piece of the plugin package left as
// plain algorithmic code.
func topoOrder(entries map[Kind]*Entry) ([][]Kind, error) {
	providedBy := make(map[string][]Kind)
	for kind, e := range entries {
		for _, capability := range e.Provides {
			providedBy[capability] = append(providedBy[capability], kind)
		}
	}

	dependsOn := make(map[Kind]map[Kind]bool)
	for kind, e := range entries {
		deps := make(map[Kind]bool)
		for _, req := range e.Requires {
			for _, providerKind := range providedBy[req] {
				if providerKind != kind {
					deps[providerKind] = true
				}
			}
		}
		dependsOn[kind] = deps
	}

	remaining := make(map[Kind]bool, len(entries))
	for kind := range entries {
		remaining[kind] = true
	}

	var layers [][]Kind
	for len(remaining) > 0 {
		var layer []Kind
		for kind := range remaining {
			ready := true
			for dep := range dependsOn[kind] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, kind)
			}
		}
		if len(layer) == 0 {
			return nil, ErrDependencyCycle
		}
		for _, kind := range layer {
			delete(remaining, kind)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
