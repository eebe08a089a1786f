package guard

import (
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/qiki-sim/radarcore/internal/types"
)

// ruleFile is the on-disk shape of the guard rules YAML (spec §6).
type ruleFile struct {
	SchemaVersion int        `yaml:"schema_version"`
	Rules         []ruleYAML `yaml:"rules"`
}

type ruleYAML struct {
	ID                      string   `yaml:"id"`
	Description             string   `yaml:"description"`
	Severity                string   `yaml:"severity"`
	FSMEvent                string   `yaml:"fsm_event"`
	IFF                     *int     `yaml:"iff,omitempty"`
	MinRangeM               *float64 `yaml:"min_range_m,omitempty"`
	MaxRangeM               *float64 `yaml:"max_range_m,omitempty"`
	MinQuality              float64  `yaml:"min_quality"`
	MaxRadialVelocityMps    *float64 `yaml:"max_radial_velocity_mps,omitempty"`
	RequireTransponderOn    bool     `yaml:"require_transponder_on,omitempty"`
	AllowedTransponderModes []int    `yaml:"allowed_transponder_modes,omitempty"`
	MinDurationS            float64  `yaml:"min_duration_s,omitempty"`
	CooldownS               float64  `yaml:"cooldown_s,omitempty"`
	HysteresisM             float64  `yaml:"hysteresis_m,omitempty"`
}

// LoadRulesFile parses a guard rules YAML file into GuardRules.
// schema_version must be 1.
func LoadRulesFile(path string) ([]*GuardRule, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by operator config
	if err != nil {
		return nil, fmt.Errorf("guard: reading rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules parses guard rules YAML content into GuardRules.
func ParseRules(data []byte) ([]*GuardRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("guard: parsing rules yaml: %w", err)
	}
	if f.SchemaVersion != 1 {
		return nil, fmt.Errorf("guard: unsupported schema_version %d", f.SchemaVersion)
	}

	out := make([]*GuardRule, 0, len(f.Rules))
	for _, y := range f.Rules {
		if y.ID == "" {
			return nil, fmt.Errorf("guard: rule missing id")
		}
		sev := types.Severity(y.Severity)
		switch sev {
		case types.SeverityInfo, types.SeverityWarning, types.SeverityCritical:
		default:
			return nil, fmt.Errorf("guard: rule %s has invalid severity %q", y.ID, y.Severity)
		}
		out = append(out, &GuardRule{
			RuleID:                  y.ID,
			Description:             y.Description,
			Severity:                sev,
			FSMEvent:                y.FSMEvent,
			IFF:                     y.IFF,
			MinRangeM:               y.MinRangeM,
			MaxRangeM:               y.MaxRangeM,
			MinQuality:              y.MinQuality,
			MaxRadialVelocityMps:    y.MaxRadialVelocityMps,
			RequireTransponderOn:    y.RequireTransponderOn,
			AllowedTransponderModes: y.AllowedTransponderModes,
			MinDurationS:            y.MinDurationS,
			CooldownS:               y.CooldownS,
			HysteresisM:             y.HysteresisM,
		})
	}
	return out, nil
}

// Watcher hot-reloads a Table whenever its backing rules file changes
// on disk (a supplemented feature beyond the distilled spec — rule
// edits take effect without a pipeline restart).
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchRulesFile starts watching path for writes and reloading table on
// each change. Parse errors are logged and leave the previous rule set
// in place rather than applying a broken reload.
func WatchRulesFile(path string, table *Table) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("guard: creating rules watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("guard: watching %s: %w", path, err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	go w.loop(path, table)
	return w, nil
}

func (w *Watcher) loop(path string, table *Table) {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRulesFile(path)
			if err != nil {
				log.Printf("guard: reload of %s failed, keeping previous rules: %v", path, err)
				continue
			}
			if err := table.Replace(rules); err != nil {
				log.Printf("guard: applying reloaded rules from %s failed: %v", path, err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("guard: rules watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
