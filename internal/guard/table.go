package guard

import (
	"fmt"
	"sync"
)

// Table holds the ordered list of GuardRules currently in effect.
// Ordering is registration order, mirrored in a byID index for O(1)
// lookup and duplicate-id rejection — the same registry shape the
// teacher uses for its hook-event gates.
type Table struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*GuardRule
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{byID: make(map[string]*GuardRule)}
}

// Register adds a rule to the table. Returns an error if a rule with
// the same RuleID is already registered.
func (t *Table) Register(r *GuardRule) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[r.RuleID]; exists {
		return fmt.Errorf("guard: rule %q already registered", r.RuleID)
	}
	t.byID[r.RuleID] = r
	t.order = append(t.order, r.RuleID)
	return nil
}

// Replace atomically swaps the table's rule set, used for hot-reload.
// Existing cadence state for surviving rule_ids is left untouched by
// the caller (Cadence keys on rule_id, not on rule identity).
func (t *Table) Replace(rules []*GuardRule) error {
	byID := make(map[string]*GuardRule, len(rules))
	order := make([]string, 0, len(rules))
	for _, r := range rules {
		if _, exists := byID[r.RuleID]; exists {
			return fmt.Errorf("guard: rule %q already registered", r.RuleID)
		}
		byID[r.RuleID] = r
		order = append(order, r.RuleID)
	}

	t.mu.Lock()
	t.byID = byID
	t.order = order
	t.mu.Unlock()
	return nil
}

// Rules returns the current rule set in registration order.
func (t *Table) Rules() []*GuardRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*GuardRule, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Get returns the rule with the given id, if any.
func (t *Table) Get(ruleID string) (*GuardRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[ruleID]
	return r, ok
}

// Count returns the number of registered rules.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
