// Package assistantassembler implements the assistant-side dialog state
// machine: it reassembles a streaming LLM response back into
// either a single assistant text message or a single assistant tool-call
// request, then emits an llm.context.messages.append frame with routing
// properties for the context aggregator.
package assistantassembler

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Config is the recognized init schema.
type Config struct {
	Debug bool
}

type data struct {
	cfg Config

	contentAggregation strings.Builder
	functionName       string
	functionArguments  strings.Builder
	toolCallID         string
}

func (d *data) reset() {
	d.contentAggregation.Reset()
	d.functionName = ""
	d.functionArguments.Reset()
	d.toolCallID = ""
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the assistant context assembler processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "Debug bool",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	cfg := Config{}
	if v, ok := args["Debug"]; ok {
		if b, ok := v.(bool); ok {
			cfg.Debug = b
		}
	}
	return processor.State{Data: &data{cfg: cfg}}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, _ processor.Event) (processor.State, error) {
	return st, nil
}

func (Processor) Transform(st processor.State, _ string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	switch f.Type {
	case frame.LLMFullResponseStart:
		d.reset()
		return st, nil, nil

	case frame.LLMTextChunk:
		p, _ := frame.AsTextChunk(f)
		d.contentAggregation.WriteString(p.Text)
		return st, nil, nil

	case frame.LLMToolCallChunk:
		p, _ := frame.AsToolCallChunk(f)
		if p.ID != "" {
			d.toolCallID = p.ID
			d.functionName = p.Name
		}
		d.functionArguments.WriteString(p.Arguments)
		return st, nil, nil

	case frame.LLMFullResponseEnd:
		return finish(st, d)

	default:
		return st, nil, nil
	}
}

func finish(st processor.State, d *data) (processor.State, processor.Outputs, error) {
	defer d.reset()

	if d.toolCallID != "" {
		args := normalizeToolArguments(d.functionArguments.String())
		msg := llmcontext.Message{
			Role: "assistant",
			ToolCalls: []llmcontext.ToolCall{
				{ID: d.toolCallID, Name: d.functionName, Arguments: args},
			},
		}
		payload := frame.MessagesAppendPayload{
			Messages: []llmcontext.Message{msg},
			ToolCall: true,
			RunLLM:   false,
		}
		out := processor.Outputs{}.Add("out", frame.New(frame.LLMContextMessagesAppend, payload))
		return st, out, nil
	}

	if d.contentAggregation.Len() > 0 {
		msg := llmcontext.Message{
			Role:  "assistant",
			Parts: []llmcontext.ContentPart{{Type: "text", Text: d.contentAggregation.String()}},
		}
		payload := frame.MessagesAppendPayload{
			Messages: []llmcontext.Message{msg},
			ToolCall: false,
			RunLLM:   false,
		}
		out := processor.Outputs{}.Add("out", frame.New(frame.LLMContextMessagesAppend, payload))
		return st, out, nil
	}

	return st, nil, nil
}

// normalizeToolArguments guards against arguments fragments that arrived
// truncated across chunk boundaries: rather than fully unmarshal, it does a
// cheap validity peek with gjson and, on failure, rebuilds a minimal valid
// object carrying the raw text for the tool handler to inspect.
func normalizeToolArguments(raw string) string {
	if raw == "" {
		return "{}"
	}
	if gjson.Valid(raw) {
		return raw
	}
	fixed, err := sjson.Set("{}", "_raw", raw)
	if err != nil {
		return "{}"
	}
	return fixed
}
