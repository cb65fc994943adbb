// Package mutefilter implements the barge-in policy engine: a set of
// independent latch-based strategies that mute/unmute the input path in
// response to bot speech, first-speech, and tool-call lifecycle frames.
package mutefilter

import (
	"context"
	"fmt"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Strategy names a barge-in policy.
type Strategy string

const (
	StrategyBotSpeech   Strategy = "bot-speech"
	StrategyFirstSpeech Strategy = "first-speech"
	StrategyToolCall    Strategy = "tool-call"
)

// Config is the recognized init schema.
type Config struct {
	Strategies []Strategy
}

type data struct {
	cfg Config

	muted              bool
	firstSpeechStarted bool
	firstSpeechEnded   bool

	// latches tracks, per active strategy, whether it currently wants the
	// input muted. The filter stays muted while any latch is set and
	// unmutes only once every latch has cleared, so multiple strategies
	// may coexist.
	latches map[Strategy]bool
}

func has(strategies []Strategy, s Strategy) bool {
	for _, v := range strategies {
		if v == s {
			return true
		}
	}
	return false
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the mute filter processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out", "sys-out"},
		},
		Params: "Strategies []Strategy",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	cfg := Config{}
	if v, ok := args["Strategies"]; ok {
		ss, ok := v.([]Strategy)
		if !ok {
			return processor.State{}, fmt.Errorf("mutefilter: init: Strategies must be []Strategy")
		}
		for _, s := range ss {
			switch s {
			case StrategyBotSpeech, StrategyFirstSpeech, StrategyToolCall:
			default:
				return processor.State{}, fmt.Errorf("mutefilter: init: unknown strategy %q", s)
			}
		}
		cfg.Strategies = ss
	}

	return processor.State{Data: &data{cfg: cfg, latches: map[Strategy]bool{}}}, nil
}

func (Processor) Transition(_ context.Context, st processor.State, _ processor.Event) (processor.State, error) {
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	var control *frame.Frame

	switch f.Type {
	case frame.BotSpeechStart:
		if has(d.cfg.Strategies, StrategyBotSpeech) {
			control = applyLatch(d, StrategyBotSpeech, true)
		} else if has(d.cfg.Strategies, StrategyFirstSpeech) && !d.firstSpeechStarted {
			d.firstSpeechStarted = true
			control = applyLatch(d, StrategyFirstSpeech, true)
		}

	case frame.BotSpeechStop:
		if has(d.cfg.Strategies, StrategyBotSpeech) {
			control = applyLatch(d, StrategyBotSpeech, false)
		}
		if has(d.cfg.Strategies, StrategyFirstSpeech) && d.firstSpeechStarted && !d.firstSpeechEnded {
			d.firstSpeechEnded = true
			if c := applyLatch(d, StrategyFirstSpeech, false); c != nil {
				control = c
			}
		}

	case frame.LLMToolCallRequest:
		if has(d.cfg.Strategies, StrategyToolCall) {
			control = applyLatch(d, StrategyToolCall, true)
		}

	case frame.LLMToolCallResult:
		if has(d.cfg.Strategies, StrategyToolCall) {
			control = applyLatch(d, StrategyToolCall, false)
		}
	}

	out := passthrough(port, f)
	if control != nil {
		out = out.Add("sys-out", *control)
	}
	return st, out, nil
}

// applyLatch sets strategy's latch to want and recomputes the aggregate
// mute state. It returns the mute.input.start/stop frame to emit on
// sys-out, or nil if the aggregate didn't cross a 0↔1 boundary: mute once
// on any triggering edge, unmute once when all latches clear.
func applyLatch(d *data, strategy Strategy, want bool) *frame.Frame {
	wasMuted := d.muted
	d.latches[strategy] = want

	anyLatched := false
	for _, v := range d.latches {
		if v {
			anyLatched = true
			break
		}
	}
	d.muted = anyLatched

	if d.muted && !wasMuted {
		f := frame.New(frame.MuteInputStart, nil)
		return &f
	}
	if !d.muted && wasMuted {
		f := frame.New(frame.MuteInputStop, nil)
		return &f
	}
	return nil
}

func passthrough(port string, f frame.Frame) processor.Outputs {
	if port == "sys-in" {
		return processor.Outputs{}.Add("sys-out", f)
	}
	return processor.Outputs{}.Add("out", f)
}
