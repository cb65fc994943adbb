// Package llmproc implements the streaming LLM processor: it turns an
// incoming llm.context frame into a streaming chat-completion
// request against a configured provider, fans the resulting deltas out as
// llm.text.chunk/llm.tool.call.chunk frames framed by
// llm.full.response.start/end, and supports mid-stream cancellation via
// control.interrupt.start.
package llmproc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shipclojure/simulflow-go/internal/observe"
	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
	"github.com/shipclojure/simulflow-go/pkg/provider/llm"
)

// Config is the recognized init schema.
type Config struct {
	// Provider is the backend the processor issues streaming completions
	// against (an openai.Provider, anyllm.Provider, or mock.Provider).
	Provider llm.Provider

	Temperature float64
	MaxTokens   int
}

type data struct {
	cfg    Config
	stream *channel.Channel

	mu      sync.Mutex
	busy    bool
	cancel  context.CancelFunc
	pending []llmcontext.Context
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the LLM processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "Provider llm.Provider, Temperature float64, MaxTokens int",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	v, ok := args["Provider"]
	if !ok {
		return processor.State{}, fmt.Errorf("llmproc: init: Provider is required")
	}
	p, ok := v.(llm.Provider)
	if !ok {
		return processor.State{}, fmt.Errorf("llmproc: init: Provider must implement llm.Provider")
	}
	cfg := Config{Provider: p}

	if v, ok := args["Temperature"]; ok {
		f, ok := v.(float64)
		if !ok {
			return processor.State{}, fmt.Errorf("llmproc: init: Temperature must be float64")
		}
		cfg.Temperature = f
	}
	if v, ok := args["MaxTokens"]; ok {
		n, ok := v.(int)
		if !ok {
			return processor.State{}, fmt.Errorf("llmproc: init: MaxTokens must be int")
		}
		cfg.MaxTokens = n
	}

	d := &data{cfg: cfg, stream: channel.NewData()}
	return processor.State{
		Data:    d,
		InPorts: map[string]*channel.Channel{"stream": d.stream},
	}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*data)
		d.mu.Lock()
		if d.cancel != nil {
			d.cancel()
		}
		d.mu.Unlock()
		d.stream.Close()
	}
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	if port == "stream" {
		return st, processor.Outputs{}.Add("out", f), nil
	}

	switch f.Type {
	case frame.LLMContext:
		p, ok := frame.AsLLMContext(f)
		if !ok {
			return st, nil, nil
		}
		d.mu.Lock()
		busy := d.busy
		if busy {
			d.pending = append(d.pending, p.Context)
		}
		d.mu.Unlock()
		if !busy {
			d.start(p.Context)
		}
		return st, nil, nil

	case frame.ControlInterruptStart:
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return st, nil, nil

	default:
		return st, nil, nil
	}
}

// start launches a background goroutine that drives one streaming
// completion request to completion, marking the processor busy for the
// duration. Only one such goroutine runs at a time per processor instance
//.
func (d *data) start(ctx llmcontext.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.busy = true
	d.cancel = cancel
	d.mu.Unlock()
	go d.runStream(runCtx, ctx)
}

func (d *data) runStream(runCtx context.Context, llmCtx llmcontext.Context) {
	defer d.finishRequest()

	m := observe.DefaultMetrics()
	start := time.Now()

	req := llm.CompletionRequest{
		Messages:    llmCtx.Messages,
		Tools:       llmCtx.Tools,
		Temperature: d.cfg.Temperature,
		MaxTokens:   d.cfg.MaxTokens,
	}

	chunks, err := d.cfg.Provider.StreamCompletion(runCtx, req)
	if err != nil {
		m.RecordProviderError(runCtx, "llm", "stream_completion")
		m.RecordProviderRequest(runCtx, "llm", "stream_completion", "error")
		return
	}
	defer func() {
		m.LLMDuration.Record(runCtx, time.Since(start).Seconds())
		m.RecordProviderRequest(runCtx, "llm", "stream_completion", "ok")
	}()

	d.stream.Put(frame.New(frame.LLMFullResponseStart, nil))

	for c := range chunks {
		if runCtx.Err() != nil {
			return
		}
		switch {
		case c.FinishReason == "error":
			continue
		case c.ToolCallID != "" || c.ToolCallName != "" || c.ToolCallArgsFragment != "":
			d.stream.Put(frame.New(frame.LLMToolCallChunk, frame.ToolCallChunkPayload{
				ID:        c.ToolCallID,
				Name:      c.ToolCallName,
				Arguments: c.ToolCallArgsFragment,
			}))
		case c.Text != "":
			d.stream.Put(frame.New(frame.LLMTextChunk, frame.TextChunkPayload{Text: c.Text}))
		}
	}

	if runCtx.Err() != nil {
		// Cancelled via control.interrupt.start: no synthetic end frame
		//; downstream observes the interrupt through the
		// mute/activity pipeline instead.
		return
	}
	d.stream.Put(frame.New(frame.LLMFullResponseEnd, nil))
}

// finishRequest clears busy state and, if a context queued up while this
// request was in flight, starts the next one directly by calling start.
func (d *data) finishRequest() {
	d.mu.Lock()
	d.busy = false
	d.cancel = nil
	var next *llmcontext.Context
	if len(d.pending) > 0 {
		n := d.pending[0]
		d.pending = d.pending[1:]
		next = &n
	}
	d.mu.Unlock()

	if next != nil {
		d.start(*next)
	}
}
