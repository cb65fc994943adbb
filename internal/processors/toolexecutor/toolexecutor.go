// Package toolexecutor implements the node that turns a
// llm.tool.call.request frame into an actual tool invocation: it looks up
// the named tool's definition on the configured MCP host, dispatches
// [mcp.Host.ExecuteTool] on a bounded worker pool, enforces the tool's
// declared MaxDurationMs as a hard timeout, and emits the outcome as a
// llm.tool.call.result frame.
//
// ExecuteTool performs network or subprocess I/O and may block for the
// tool's full declared latency, so — like the realtime pacer's pacing
// sleep — this work cannot run inline in Transform. Transform only
// dispatches a goroutine per incoming request (bounded by a semaphore) and
// relays whatever lands on the private "result" port back out.
package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shipclojure/simulflow-go/internal/mcp"
	"github.com/shipclojure/simulflow-go/internal/observe"
	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Config is the recognized init schema.
type Config struct {
	// Host is the MCP tool host used to look up definitions and execute
	// calls.
	Host mcp.Host

	// MaxConcurrent bounds how many tool calls this node runs at once.
	// Defaults to 4.
	MaxConcurrent int64

	// DefaultTimeoutMs is the timeout applied to a tool call when the
	// tool's own definition declares no MaxDurationMs. Defaults to 4000
	// (the BudgetDeep ceiling).
	DefaultTimeoutMs int
}

const (
	defaultMaxConcurrent = 4
	defaultTimeoutMs     = 4000
)

type data struct {
	cfg  Config
	sem  *semaphore.Weighted
	stop chan struct{}

	result *channel.Channel
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the tool executor processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "Host mcp.Host, MaxConcurrent int64, DefaultTimeoutMs int",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	v, ok := args["Host"]
	if !ok {
		return processor.State{}, fmt.Errorf("toolexecutor: init: Host is required")
	}
	h, ok := v.(mcp.Host)
	if !ok {
		return processor.State{}, fmt.Errorf("toolexecutor: init: Host must implement mcp.Host")
	}

	cfg := Config{Host: h, MaxConcurrent: defaultMaxConcurrent, DefaultTimeoutMs: defaultTimeoutMs}
	if v, ok := args["MaxConcurrent"]; ok {
		n, ok := v.(int64)
		if !ok || n <= 0 {
			return processor.State{}, fmt.Errorf("toolexecutor: init: MaxConcurrent must be a positive int64")
		}
		cfg.MaxConcurrent = n
	}
	if v, ok := args["DefaultTimeoutMs"]; ok {
		n, ok := v.(int)
		if !ok || n <= 0 {
			return processor.State{}, fmt.Errorf("toolexecutor: init: DefaultTimeoutMs must be a positive int")
		}
		cfg.DefaultTimeoutMs = n
	}

	d := &data{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		stop:   make(chan struct{}),
		result: channel.NewData(),
	}

	return processor.State{
		Data:    d,
		InPorts: map[string]*channel.Channel{"result": d.result},
	}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*data)
		close(d.stop)
		d.result.Close()
	}
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	if port == "result" {
		return st, processor.Outputs{}.Add("out", f), nil
	}

	if f.Type != frame.LLMToolCallRequest {
		return st, nil, nil
	}
	p, ok := frame.AsToolCallRequest(f)
	if !ok {
		return st, nil, nil
	}

	go d.run(p.ToolCall)
	return st, nil, nil
}

// run acquires a worker slot, executes call against the MCP host with its
// declared MaxDurationMs as a hard timeout, and puts the resulting
// llm.tool.call.result frame onto the private "result" port.
func (d *data) run(call llmcontext.ToolCall) {
	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	timeout := time.Duration(d.timeoutFor(call.Name)) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m := observe.DefaultMetrics()
	start := time.Now()
	result, execErr := d.cfg.Host.ExecuteTool(ctx, call.Name, call.Arguments)
	m.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

	payload := frame.ToolCallResultPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		RunLLM:     true,
	}
	switch {
	case execErr != nil:
		payload.Err = execErr
		m.RecordToolCall(ctx, call.Name, "error")
	case result.IsError:
		payload.Err = fmt.Errorf("tool %q: %s", call.Name, result.Content)
		m.RecordToolCall(ctx, call.Name, "error")
	default:
		payload.Result = result.Content
		m.RecordToolCall(ctx, call.Name, "ok")
	}

	select {
	case <-d.stop:
		return
	default:
		d.result.Put(frame.New(frame.LLMToolCallResult, payload))
	}
}

// timeoutFor returns the declared MaxDurationMs for name, or the node's
// DefaultTimeoutMs if the tool is unknown or declares none.
func (d *data) timeoutFor(name string) int {
	for _, def := range d.cfg.Host.AvailableTools(mcp.BudgetDeep) {
		if def.Name == name && def.MaxDurationMs > 0 {
			return def.MaxDurationMs
		}
	}
	return d.cfg.DefaultTimeoutMs
}
