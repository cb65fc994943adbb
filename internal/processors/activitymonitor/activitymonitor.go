// Package activitymonitor implements the inactivity watchdog: it resets a
// timer on every non-system inbound frame and,
// after InactivityWindow passes without traffic, emits a synthetic
// "still there?" prompt onto the context aggregator's append port.
package activitymonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/llmcontext"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

const defaultInactivityWindow = 5000 * time.Millisecond

// Config is the recognized init schema.
type Config struct {
	InactivityWindow time.Duration
	PromptText       string
}

type data struct {
	cfg Config

	reset chan struct{}
	fired *channel.Channel
	stop  chan struct{}
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the activity monitor processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "InactivityWindow time.Duration (default 5s), PromptText string",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	cfg := Config{InactivityWindow: defaultInactivityWindow, PromptText: "Are you still there?"}
	if v, ok := args["InactivityWindow"]; ok {
		d, ok := v.(time.Duration)
		if !ok || d <= 0 {
			return processor.State{}, fmt.Errorf("activitymonitor: init: InactivityWindow must be a positive time.Duration")
		}
		cfg.InactivityWindow = d
	}
	if v, ok := args["PromptText"]; ok {
		s, ok := v.(string)
		if !ok {
			return processor.State{}, fmt.Errorf("activitymonitor: init: PromptText must be string")
		}
		cfg.PromptText = s
	}

	d := &data{
		cfg:   cfg,
		reset: make(chan struct{}, 1),
		fired: channel.NewData(),
		stop:  make(chan struct{}),
	}
	go d.run()

	return processor.State{
		Data:    d,
		InPorts: map[string]*channel.Channel{"fired": d.fired},
	}, nil
}

func (d *data) run() {
	timer := time.NewTimer(d.cfg.InactivityWindow)
	defer timer.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-d.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.cfg.InactivityWindow)
		case <-timer.C:
			d.fired.Put(frame.New(frame.LLMContextMessagesAppend, frame.MessagesAppendPayload{
				Messages: []llmcontext.Message{{Role: "user", Content: d.cfg.PromptText}},
				RunLLM:   true,
			}))
			timer.Reset(d.cfg.InactivityWindow)
		}
	}
}

func (Processor) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*data)
		close(d.stop)
		d.fired.Close()
	}
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	if port == "fired" {
		return st, processor.Outputs{}.Add("out", f), nil
	}

	if !f.System {
		select {
		case d.reset <- struct{}{}:
		default:
		}
	}
	return st, nil, nil
}
