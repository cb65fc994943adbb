// Package config provides the configuration schema, loader, and provider
// registry for the simulflow dataflow runtime.
package config

import "github.com/shipclojure/simulflow-go/internal/mcp"

// Config is the root configuration structure for a simulflow deployment.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig  `yaml:"server"`
	LLM    ProviderEntry `yaml:"llm"`
	MCP    MCPConfig     `yaml:"mcp"`
	Graph  GraphConfig   `yaml:"graph"`
}

// ServerConfig holds network and logging settings for the simulflow server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ProviderEntry is the configuration block for the LLM backend. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anyllm").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to,
// plus the set of in-process built-in tools to register alongside them.
type MCPConfig struct {
	Servers []MCPServerConfig  `yaml:"servers"`
	Builtin BuiltinToolsConfig `yaml:"builtin_tools"`
}

// BuiltinToolsConfig toggles the in-process tool packages the MCP host
// registers under the "__builtin__" pseudo server at startup, bypassing MCP
// protocol overhead entirely.
type BuiltinToolsConfig struct {
	// DiceRoller enables the "roll"/"roll_table" tools.
	DiceRoller bool `yaml:"dice_roller"`

	// FileIO enables the sandboxed file read/write tools, rooted at
	// FileIOBaseDir. Ignored (tools not registered) if BaseDir is empty.
	FileIO        bool   `yaml:"file_io"`
	FileIOBaseDir string `yaml:"file_io_base_dir"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is [mcp.TransportStdio]. Ignored otherwise.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is
	// [mcp.TransportStreamableHTTP]. Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// GraphConfig describes the dataflow topology: the set of processor nodes
// and the edges connecting their ports. It is translated into a
// [github.com/shipclojure/simulflow-go/pkg/graph.Graph] at startup.
type GraphConfig struct {
	Nodes []NodeConfig `yaml:"nodes"`
	Edges []EdgeConfig `yaml:"edges"`
}

// NodeConfig describes a single processor instance in the graph.
type NodeConfig struct {
	// ID is the node's unique identifier within the graph. Referenced by
	// [EdgeConfig] endpoints as "id.port".
	ID string `yaml:"id"`

	// Type selects the processor implementation. Must be one of the names
	// registered in [ValidNodeTypes], e.g. "llm", "context_aggregator",
	// "sentence_assembler", "twilio_in", "twilio_out".
	Type string `yaml:"type"`

	// Args holds node-specific configuration passed to the processor's
	// Init call (system prompt, temperature, debounce window, etc).
	Args map[string]any `yaml:"args"`
}

// EdgeConfig connects one node's output port to another node's input port.
// Endpoints use dot notation: "node_id.port_name".
type EdgeConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}
