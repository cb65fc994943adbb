package toolexecutor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shipclojure/simulflow-go/internal/mcp"
	mcpmock "github.com/shipclojure/simulflow-go/internal/mcp/mock"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// blockingHost is a minimal [mcp.Host] stub for the one case
// mcpmock.Host can't express: a call that actually respects ctx
// cancellation, needed to exercise the per-tool timeout.
type blockingHost struct {
	defs []llmcontext.ToolDefinition
}

func (h *blockingHost) RegisterServer(context.Context, mcp.ServerConfig) error { return nil }
func (h *blockingHost) AvailableTools(mcp.BudgetTier) []llmcontext.ToolDefinition {
	return h.defs
}
func (h *blockingHost) ExecuteTool(ctx context.Context, _, _ string) (*mcp.ToolResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (h *blockingHost) Calibrate(context.Context) error { return nil }
func (h *blockingHost) Close() error                    { return nil }

func waitResult(t *testing.T, st processor.State) frame.ToolCallResultPayload {
	t.Helper()
	select {
	case f := <-st.InPorts["result"].Raw():
		p, ok := frame.AsToolCallResult(f)
		if !ok {
			t.Fatalf("expected a tool call result frame, got %+v", f)
		}
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tool call result")
		return frame.ToolCallResultPayload{}
	}
}

func initState(t *testing.T, host mcp.Host) processor.State {
	t.Helper()
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"Host": host})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { p.Transition(context.Background(), st, processor.EventStop) })
	return st
}

func TestExecuteToolSucceeds(t *testing.T) {
	host := &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: `{"total":7}`}}
	p := New()
	st := initState(t, host)

	call := llmcontext.ToolCall{ID: "call_1", Name: "roll", Arguments: `{"expression":"2d6"}`}
	_, out, err := p.Transform(st, "in", frame.New(frame.LLMToolCallRequest, frame.ToolCallRequestPayload{ToolCall: call}))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no synchronous output, got %v", out)
	}

	result := waitResult(t, st)
	if result.ToolCallID != "call_1" || result.ToolName != "roll" || result.Result != `{"total":7}` || result.Err != nil || !result.RunLLM {
		t.Fatalf("unexpected result: %+v", result)
	}
	if host.CallCount("ExecuteTool") != 1 {
		t.Fatalf("expected one ExecuteTool call, got %d", host.CallCount("ExecuteTool"))
	}
}

func TestExecuteToolTransportErrorPropagates(t *testing.T) {
	host := &mcpmock.Host{ExecuteToolErr: errors.New("mcp: connection reset")}
	p := New()
	st := initState(t, host)

	call := llmcontext.ToolCall{ID: "call_2", Name: "roll", Arguments: "{}"}
	p.Transform(st, "in", frame.New(frame.LLMToolCallRequest, frame.ToolCallRequestPayload{ToolCall: call}))

	result := waitResult(t, st)
	if result.Err == nil {
		t.Fatal("expected a non-nil error")
	}
}

func TestExecuteToolApplicationErrorIsWrapped(t *testing.T) {
	host := &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "bad expression", IsError: true}}
	p := New()
	st := initState(t, host)

	call := llmcontext.ToolCall{ID: "call_3", Name: "roll", Arguments: "{}"}
	p.Transform(st, "in", frame.New(frame.LLMToolCallRequest, frame.ToolCallRequestPayload{ToolCall: call}))

	result := waitResult(t, st)
	if result.Err == nil || result.Result != "" {
		t.Fatalf("expected an error result with no Result text, got %+v", result)
	}
}

func TestResultPortRelaysToOut(t *testing.T) {
	p := New()
	st := initState(t, &mcpmock.Host{})

	f := frame.New(frame.LLMToolCallResult, frame.ToolCallResultPayload{ToolCallID: "x"})
	_, out, err := p.Transform(st, "result", f)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out["out"]) != 1 {
		t.Fatalf("expected relay onto out, got %v", out)
	}
}

func TestTimeoutUsesDeclaredMaxDuration(t *testing.T) {
	host := &blockingHost{defs: []llmcontext.ToolDefinition{{Name: "slow", MaxDurationMs: 10}}}
	p := New()
	st := initState(t, host)

	call := llmcontext.ToolCall{ID: "call_4", Name: "slow", Arguments: "{}"}
	p.Transform(st, "in", frame.New(frame.LLMToolCallRequest, frame.ToolCallRequestPayload{ToolCall: call}))

	result := waitResult(t, st)
	if result.Err == nil {
		t.Fatal("expected the declared MaxDurationMs timeout to fire")
	}
}

func TestMissingHostIsRejected(t *testing.T) {
	p := New()
	if _, err := p.Init(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error when Host is not supplied")
	}
}

func TestNonRequestFramesAreIgnored(t *testing.T) {
	p := New()
	st := initState(t, &mcpmock.Host{})

	_, out, err := p.Transform(st, "in", frame.New(frame.SystemConfigChange, frame.ConfigChangePayload{}))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no output for an unrelated frame type, got %v", out)
	}
}
