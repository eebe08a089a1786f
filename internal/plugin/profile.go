package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileFile is the parsed plugin profile YAML (spec §6: "schema_version:1,
// profiles: {<name>: {<kind>: {name: <plugin_name>, params?: {...}}}}").
type ProfileFile struct {
	SchemaVersion int                           `yaml:"schema_version"`
	Profiles      map[string]map[Kind]pluginRef `yaml:"profiles"`
}

type pluginRef struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// LoadProfileFile reads and parses a plugin profile YAML file at path.
func LoadProfileFile(path string) (*ProfileFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file
	if err != nil {
		return nil, fmt.Errorf("plugin: reading profile file: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses plugin profile YAML bytes.
func ParseProfile(data []byte) (*ProfileFile, error) {
	var f ProfileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("plugin: parsing profile yaml: %w", err)
	}
	if f.SchemaVersion != 1 {
		return nil, fmt.Errorf("plugin: unsupported schema_version %d", f.SchemaVersion)
	}
	return &f, nil
}

// Selection returns the per-kind plugin selection for the named
// profile, or an error if the profile is not defined.
func (f *ProfileFile) Selection(profileName string) (map[Kind]PluginRef, error) {
	kinds, ok := f.Profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("plugin: profile %q not defined", profileName)
	}
	out := make(map[Kind]PluginRef, len(kinds))
	for kind, ref := range kinds {
		out[kind] = PluginRef{Name: ref.Name, Params: ref.Params}
	}
	return out, nil
}
