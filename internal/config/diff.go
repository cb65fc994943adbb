package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// GraphChanged is tracked separately because graph topology is not
// hot-reloadable: changing nodes or edges requires tearing down and
// rebuilding the running [github.com/shipclojure/simulflow-go/pkg/graph.Graph],
// which means restarting in-flight sessions. Of the other fields, only the
// log level is applied to a running process; LLM provider and MCP server
// changes are reported here but take effect only after a process restart.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	LLMChanged        bool
	MCPServersChanged bool
	GraphChanged      bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.LLM, new.LLM) {
		d.LLMChanged = true
	}

	if !reflect.DeepEqual(old.MCP, new.MCP) {
		d.MCPServersChanged = true
	}

	if !reflect.DeepEqual(old.Graph, new.Graph) {
		d.GraphChanged = true
	}

	return d
}
