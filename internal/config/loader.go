package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/shipclojure/simulflow-go/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anyllm", "mock"}

// ValidNodeTypes lists the processor implementations a [NodeConfig.Type] may
// select. Used by [Validate] to warn about unrecognised node types before
// graph construction fails with a less specific error.
var ValidNodeTypes = []string{
	"activity_monitor",
	"assistant_assembler",
	"audio_splitter",
	"context_aggregator",
	"llm",
	"mute_filter",
	"realtime_pacer",
	"sentence_assembler",
	"tool_executor",
	"twilio_in",
	"twilio_out",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// Validate only checks referential structure (node IDs exist, edge endpoints
// parse, no duplicates). Port-level validation — whether a named port is
// actually declared by a node's processor — happens later when the graph
// is built via [github.com/shipclojure/simulflow-go/pkg/graph.NewGraph],
// since only the processor registry knows each node type's port set.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// LLM provider
	validateProviderName(cfg.LLM.Name)
	if cfg.LLM.Name == "" && len(cfg.Graph.Nodes) > 0 {
		for _, n := range cfg.Graph.Nodes {
			if n.Type == "llm" {
				errs = append(errs, errors.New("graph declares an \"llm\" node but llm.name is not configured"))
				break
			}
		}
	}

	// Graph nodes
	nodeIDsSeen := make(map[string]int, len(cfg.Graph.Nodes))
	for i, n := range cfg.Graph.Nodes {
		prefix := fmt.Sprintf("graph.nodes[%d]", i)
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := nodeIDsSeen[n.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of graph.nodes[%d]", prefix, n.ID, prev))
		} else {
			nodeIDsSeen[n.ID] = i
		}
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		} else if !slices.Contains(ValidNodeTypes, n.Type) {
			slog.Warn("unknown node type — may be a typo or custom processor",
				"node", n.ID, "type", n.Type, "known", ValidNodeTypes)
		}
	}

	// Graph edges
	for i, e := range cfg.Graph.Edges {
		prefix := fmt.Sprintf("graph.edges[%d]", i)
		fromID, _, err := splitEndpoint(e.From)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.from %q: %w", prefix, e.From, err))
		} else if _, ok := nodeIDsSeen[fromID]; !ok {
			errs = append(errs, fmt.Errorf("%s.from references unknown node %q", prefix, fromID))
		}
		toID, _, err := splitEndpoint(e.To)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.to %q: %w", prefix, e.To, err))
		} else if _, ok := nodeIDsSeen[toID]; !ok {
			errs = append(errs, fmt.Errorf("%s.to references unknown node %q", prefix, toID))
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// splitEndpoint parses a dot-notation edge endpoint "node_id.port" into its
// node ID and port components.
func splitEndpoint(endpoint string) (nodeID, port string, err error) {
	idx := strings.LastIndex(endpoint, ".")
	if idx <= 0 || idx == len(endpoint)-1 {
		return "", "", fmt.Errorf("must be in \"node_id.port\" form")
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
