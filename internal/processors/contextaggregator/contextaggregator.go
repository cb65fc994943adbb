// Package contextaggregator implements the user-side dialog state machine:
// it turns speech-start/stop markers and interim or
// final transcriptions into a single appended user message on the LLM
// context, then emits the updated context to drive the LLM.
package contextaggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Config is the recognized init schema.
type Config struct {
	// InitialContext seeds the aggregator's LLM context.
	InitialContext llmcontext.Context

	// Debug enables verbose per-frame logging. Currently unused by
	// Transform but kept for parity with the other processor config
	// structs, which uniformly carry a Debug field.
	Debug bool
}

type data struct {
	cfg Config

	aggregating        bool
	aggregation        strings.Builder
	seenStartFrame     bool
	seenEndFrame       bool
	seenInterimResults bool

	ctx llmcontext.Context
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the context aggregator processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out", "tool-write"},
		},
		Params: "InitialContext llmcontext.Context, Debug bool",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	cfg := Config{}
	if v, ok := args["InitialContext"]; ok {
		c, ok := v.(llmcontext.Context)
		if !ok {
			return processor.State{}, fmt.Errorf("contextaggregator: init: InitialContext must be llmcontext.Context")
		}
		cfg.InitialContext = c
	}
	if v, ok := args["Debug"]; ok {
		b, ok := v.(bool)
		if !ok {
			return processor.State{}, fmt.Errorf("contextaggregator: init: Debug must be bool")
		}
		cfg.Debug = b
	}

	d := &data{cfg: cfg, ctx: cfg.InitialContext}
	return processor.State{Data: d}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, _ processor.Event) (processor.State, error) {
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	switch f.Type {
	case frame.UserSpeechStart:
		onSpeechStart(d)
		return st, nil, nil

	case frame.Transcription:
		p, _ := frame.AsTranscription(f)
		return handleFinalTranscription(st, d, p.Text)

	case frame.TranscriptionInterim:
		if d.aggregating {
			d.seenInterimResults = true
		}
		return st, nil, nil

	case frame.UserSpeechStop:
		return handleSpeechStop(st, d)

	case frame.LLMToolCallResult:
		return handleToolCallResult(st, d, f)

	case frame.SystemConfigChange:
		p, _ := frame.AsConfigChange(f)
		if p.Context != nil {
			d.ctx = *p.Context
		}
		return st, nil, nil

	case frame.LLMContextMessagesAppend:
		return handleMessagesAppend(st, d, f)

	case frame.SpeakFrame:
		p, _ := frame.AsSpeak(f)
		d.ctx = d.ctx.AppendMessage(llmcontext.Message{Role: "assistant", Content: p.Text})
		return st, nil, nil

	default:
		return st, nil, nil
	}
}

func onSpeechStart(d *data) {
	if d.aggregating {
		// Repeat S while aggregating: ignore (idempotent).
		return
	}
	d.aggregating = true
	d.seenStartFrame = true
	d.aggregation.Reset()
	// E-before-S race: a stale seen-end-frame from a previous turn must
	// not finalize this new one prematurely.
	d.seenEndFrame = false
	d.seenInterimResults = false
}

func handleFinalTranscription(st processor.State, d *data, text string) (processor.State, processor.Outputs, error) {
	if !d.aggregating {
		// Out-of-order T with no prior S: drop.
		return st, nil, nil
	}
	if d.aggregation.Len() > 0 && text != "" {
		d.aggregation.WriteString(" ")
	}
	d.aggregation.WriteString(text)

	if d.seenEndFrame {
		return finalize(st, d)
	}
	return st, nil, nil
}

func handleSpeechStop(st processor.State, d *data) (processor.State, processor.Outputs, error) {
	if d.aggregation.Len() > 0 && !d.seenInterimResults {
		return finalize(st, d)
	}
	d.seenEndFrame = true
	return st, nil, nil
}

// finalize appends the accumulated aggregation as a user message and emits
// the updated context on "out". Empty aggregations never produce an append
//.
func finalize(st processor.State, d *data) (processor.State, processor.Outputs, error) {
	text := d.aggregation.String()
	d.aggregating = false
	d.seenStartFrame = false
	d.seenEndFrame = false
	d.seenInterimResults = false
	d.aggregation.Reset()

	if text == "" {
		return st, nil, nil
	}

	d.ctx = d.ctx.AppendMessage(llmcontext.Message{Role: "user", Content: text})
	out := processor.Outputs{}.Add("out", frame.New(frame.LLMContext, frame.LLMContextPayload{Context: d.ctx}))
	return st, out, nil
}

// handleToolCallResult appends the tool result to the context as a "tool"
// message, emitting on "out" only if RunLLM is set. It appends only the
// result; the originating assistant tool-call request is not added here.
func handleToolCallResult(st processor.State, d *data, f frame.Frame) (processor.State, processor.Outputs, error) {
	p, ok := frame.AsToolCallResult(f)
	if !ok {
		return st, nil, nil
	}

	result := p.Result
	if p.Err != nil {
		result = fmt.Sprintf("error: %v", p.Err)
	}
	d.ctx = d.ctx.AppendMessage(llmcontext.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: p.ToolCallID,
	})

	if !p.RunLLM {
		return st, nil, nil
	}
	out := processor.Outputs{}.Add("out", frame.New(frame.LLMContext, frame.LLMContextPayload{Context: d.ctx}))
	return st, out, nil
}

// handleMessagesAppend applies an externally-constructed append (e.g. from
// the assistant assembler) and routes it to "out" and/or "tool-write"
// according to its RunLLM/ToolCall properties. When ToolCall is set, one
// llm.tool.call.request frame is emitted per tool call found in the
// appended assistant message(s), so the tool executor node downstream
// dispatches each call independently.
func handleMessagesAppend(st processor.State, d *data, f frame.Frame) (processor.State, processor.Outputs, error) {
	p, ok := frame.AsMessagesAppend(f)
	if !ok {
		return st, nil, nil
	}

	d.ctx = d.ctx.AppendMessages(p.Messages)

	var out processor.Outputs
	if p.RunLLM {
		out = out.Add("out", frame.New(frame.LLMContext, frame.LLMContextPayload{Context: d.ctx}))
	}
	if p.ToolCall {
		for _, m := range p.Messages {
			for _, tc := range m.ToolCalls {
				out = out.Add("tool-write", frame.New(frame.LLMToolCallRequest, frame.ToolCallRequestPayload{ToolCall: tc}))
			}
		}
	}
	return st, out, nil
}
