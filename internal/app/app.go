// Package app wires simulflow's subsystems — LLM provider, MCP tool host,
// and the graph processor registry — into a running server.
//
// App owns the wiring that is shared across every call: the configured LLM
// provider, the MCP host, and the node-type-to-processor registry used to
// build a fresh dataflow graph per call. [SessionManager] owns the per-call
// lifecycle: one [pkg/graph.Engine] instance per active call, attached to a
// transport connection.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shipclojure/simulflow-go/internal/config"
	"github.com/shipclojure/simulflow-go/internal/mcp"
	"github.com/shipclojure/simulflow-go/internal/mcp/mcphost"
	"github.com/shipclojure/simulflow-go/internal/mcp/tools/diceroller"
	"github.com/shipclojure/simulflow-go/internal/mcp/tools/fileio"
	"github.com/shipclojure/simulflow-go/internal/observe"
	"github.com/shipclojure/simulflow-go/internal/processors/activitymonitor"
	"github.com/shipclojure/simulflow-go/internal/processors/assistantassembler"
	"github.com/shipclojure/simulflow-go/internal/processors/audiosplitter"
	"github.com/shipclojure/simulflow-go/internal/processors/contextaggregator"
	"github.com/shipclojure/simulflow-go/internal/processors/llmproc"
	"github.com/shipclojure/simulflow-go/internal/processors/mutefilter"
	"github.com/shipclojure/simulflow-go/internal/processors/realtimepacer"
	"github.com/shipclojure/simulflow-go/internal/processors/sentenceassembler"
	"github.com/shipclojure/simulflow-go/internal/processors/toolexecutor"
	"github.com/shipclojure/simulflow-go/internal/resilience"
	"github.com/shipclojure/simulflow-go/pkg/graph"
	"github.com/shipclojure/simulflow-go/pkg/processor"
	"github.com/shipclojure/simulflow-go/pkg/provider/llm"
	"github.com/shipclojure/simulflow-go/pkg/provider/llm/anyllm"
	"github.com/shipclojure/simulflow-go/pkg/provider/llm/mock"
	"github.com/shipclojure/simulflow-go/pkg/provider/llm/openai"
	"github.com/shipclojure/simulflow-go/pkg/transport/twilio"
)

// App owns the wiring shared by every call: the LLM provider, the MCP tool
// host, and the graph node registry. Use [SessionManager] to start and stop
// per-call graph instances against this wiring.
type App struct {
	cfg      *config.Config
	llm      llm.Provider
	mcpHost  mcp.Host
	metrics  *observe.Metrics
	registry map[string]func() processor.Processor

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLLMProvider injects an LLM provider instead of constructing one from
// cfg.LLM via the builtin registry.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithMCPHost injects an MCP host to use in place of a new mcphost.Host. The
// servers in cfg.MCP are still registered on it, it is calibrated, and
// Shutdown closes it; built-in tools are registered only on an *mcphost.Host.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics injects a [observe.Metrics] instance instead of using
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires an App from cfg: it resolves the LLM provider (wrapping it in a
// [resilience.LLMFallback] for circuit-breaker protection), connects and
// calibrates the configured MCP servers, and builds the processor-type
// registry used by BuildGraph. Use Option functions to inject test doubles
// for either subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: defaultRegistry(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.llm == nil {
		if err := a.initLLM(); err != nil {
			return nil, fmt.Errorf("app: init llm: %w", err)
		}
	}

	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	return a, nil
}

func (a *App) initLLM() error {
	if a.cfg.LLM.Name == "" {
		return nil // no provider configured; a graph without an "llm" node is still valid
	}

	reg := config.NewRegistry()
	registerBuiltinLLMProviders(reg)

	primary, err := reg.CreateLLM(a.cfg.LLM)
	if err != nil {
		return err
	}

	a.llm = resilience.NewLLMFallback(primary, a.cfg.LLM.Name, resilience.FallbackConfig{})
	return nil
}

// registerBuiltinLLMProviders registers the core LLM provider constructors
// under their config-facing names.
func registerBuiltinLLMProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.New(e.APIKey, e.Model)
	})
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		return &mock.Provider{}, nil
	})
}

func (a *App) initMCP(ctx context.Context) error {
	h := a.mcpHost
	if h == nil {
		h = mcphost.New()
	}
	a.closers = append(a.closers, h.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := h.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if concrete, ok := h.(*mcphost.Host); ok {
		if err := registerBuiltinTools(concrete, a.cfg.MCP.Builtin); err != nil {
			return fmt.Errorf("register builtin tools: %w", err)
		}
	}

	if err := h.Calibrate(ctx); err != nil {
		slog.Warn("MCP calibration failed, using declared latencies", "err", err)
	}

	a.mcpHost = h
	return nil
}

// registerBuiltinTools registers the in-process tool packages enabled by
// cfg onto h.
func registerBuiltinTools(h *mcphost.Host, cfg config.BuiltinToolsConfig) error {
	if cfg.DiceRoller {
		for _, t := range diceroller.Tools() {
			if err := h.RegisterBuiltin(mcphost.BuiltinTool{
				Definition:  t.Definition,
				Handler:     t.Handler,
				DeclaredP50: t.DeclaredP50,
				DeclaredMax: t.DeclaredMax,
			}); err != nil {
				return err
			}
		}
	}
	if cfg.FileIO && cfg.FileIOBaseDir != "" {
		for _, t := range fileio.NewTools(cfg.FileIOBaseDir) {
			if err := h.RegisterBuiltin(mcphost.BuiltinTool{
				Definition:  t.Definition,
				Handler:     t.Handler,
				DeclaredP50: t.DeclaredP50,
				DeclaredMax: t.DeclaredMax,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// defaultRegistry maps a [config.NodeConfig.Type] string to the zero-arg
// constructor of the processor it selects.
func defaultRegistry() map[string]func() processor.Processor {
	return map[string]func() processor.Processor{
		"activity_monitor":    func() processor.Processor { return activitymonitor.New() },
		"assistant_assembler": func() processor.Processor { return assistantassembler.New() },
		"audio_splitter":      func() processor.Processor { return audiosplitter.New() },
		"context_aggregator":  func() processor.Processor { return contextaggregator.New() },
		"llm":                 func() processor.Processor { return llmproc.New() },
		"mute_filter":         func() processor.Processor { return mutefilter.New() },
		"realtime_pacer":      func() processor.Processor { return realtimepacer.New() },
		"sentence_assembler":  func() processor.Processor { return sentenceassembler.New() },
		"tool_executor":       func() processor.Processor { return toolexecutor.New() },
		"twilio_in":           func() processor.Processor { return twilio.NewIn() },
		"twilio_out":          func() processor.Processor { return twilio.NewOut() },
	}
}

// RegisterNodeType adds or overrides a node type in the registry. Call
// before BuildGraph/SessionManager.Start to extend the graph with custom processors.
func (a *App) RegisterNodeType(typeName string, ctor func() processor.Processor) {
	a.registry[typeName] = ctor
}

// BuildGraph constructs a fresh, unstarted [graph.Graph] from cfg.Graph.
// Every "llm" node is given the wired LLM provider via its Args["Provider"]
// and every "tool_executor" node is given the wired MCP host via its
// Args["Host"], unless the node config already sets one explicitly. Call
// once per call session — a Graph's processors carry per-call state and
// cannot be shared.
func (a *App) BuildGraph() (*graph.Graph, error) {
	nodes := make(map[string]graph.NodeSpec, len(a.cfg.Graph.Nodes))
	for _, n := range a.cfg.Graph.Nodes {
		ctor, ok := a.registry[n.Type]
		if !ok {
			return nil, fmt.Errorf("app: node %q: unregistered processor type %q", n.ID, n.Type)
		}

		args := n.Args
		switch n.Type {
		case "llm":
			if _, set := args["Provider"]; !set {
				if a.llm == nil {
					return nil, fmt.Errorf("app: node %q: type \"llm\" requires llm.name to be configured", n.ID)
				}
				args = withArg(args, "Provider", a.llm)
			}
		case "tool_executor":
			if _, set := args["Host"]; !set {
				if a.mcpHost == nil {
					return nil, fmt.Errorf("app: node %q: type \"tool_executor\" requires an MCP host", n.ID)
				}
				args = withArg(args, "Host", a.mcpHost)
			}
		}

		nodes[n.ID] = graph.NodeSpec{Processor: ctor(), Args: args}
	}

	edges := make([]graph.Edge, 0, len(a.cfg.Graph.Edges))
	for _, e := range a.cfg.Graph.Edges {
		from, err := parseEndpoint(e.From)
		if err != nil {
			return nil, fmt.Errorf("app: edge from %q: %w", e.From, err)
		}
		to, err := parseEndpoint(e.To)
		if err != nil {
			return nil, fmt.Errorf("app: edge to %q: %w", e.To, err)
		}
		edges = append(edges, graph.Edge{From: from, To: to})
	}

	return graph.NewGraph(nodes, edges)
}

// withArg returns a copy of args with key set to value, leaving the
// original map untouched.
func withArg(args map[string]any, key string, value any) map[string]any {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	merged[key] = value
	return merged
}

func parseEndpoint(s string) (graph.Endpoint, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return graph.Endpoint{}, fmt.Errorf("must be in \"node_id.port\" form")
	}
	return graph.Endpoint{Node: s[:idx], Port: s[idx+1:]}, nil
}

// twilioNodeIDs returns the IDs of the configured twilio_in/twilio_out
// nodes, if any. Empty strings mean no node of that type is configured.
func (a *App) twilioNodeIDs() (inID, outID string) {
	for _, n := range a.cfg.Graph.Nodes {
		switch n.Type {
		case "twilio_in":
			inID = n.ID
		case "twilio_out":
			outID = n.ID
		}
	}
	return inID, outID
}

// MCPHost returns the wired MCP host. May be nil if none was configured or
// injected.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// LLMProvider returns the wired LLM provider. May be nil if llm.name is not
// configured.
func (a *App) LLMProvider() llm.Provider { return a.llm }

// Metrics returns the wired metrics instance.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Shutdown releases shared subsystems (the MCP host's server connections).
// It does not stop any active call sessions — callers should stop those via
// [SessionManager] first.
func (a *App) Shutdown() error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}
