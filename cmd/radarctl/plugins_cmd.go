package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qiki-sim/radarcore/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect the built-in plugin registry",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every built-in plugin by kind",
	RunE:  runPluginsList,
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
}

type pluginListEntry struct {
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Provides []string `json:"provides,omitempty"`
	Requires []string `json:"requires,omitempty"`
	Builtin  bool     `json:"is_builtin_fallback"`
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	reg := plugin.BuiltinRegistry()
	builtins := plugin.Builtins()

	var entries []pluginListEntry
	for _, name := range reg.Names() {
		e := reg.Get(name)
		entries = append(entries, pluginListEntry{
			Kind:     string(e.Kind),
			Name:     e.Name,
			Provides: e.Provides,
			Requires: e.Requires,
			Builtin:  builtins[e.Kind] == e.Name,
		})
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("%-22s %-24s requires=%v provides=%v\n", e.Kind, e.Name, e.Requires, e.Provides)
	}
	return nil
}
