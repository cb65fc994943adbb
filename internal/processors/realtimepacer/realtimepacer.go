// Package realtimepacer implements the wall-clock-aligned audio output
// stage: it emits audio frames at a fixed cadence so
// downstream transports observe interruptions the same way a live phone
// call would, instead of bursting buffered audio all at once.
//
// The pacing sleep is background-worker work, not something Transform may
// perform: Transform only routes frames, installs the
// serializer on a config change, and reacts to barge-in. The actual
// sleep/deliver loop runs in a goroutine started during Init that owns two
// private channels — "audio-write" (Transform enqueues outbound audio onto
// it) and "paced" (the worker enqueues the rate-limited result onto it,
// which the runtime polls like any other inbound port and Transform simply
// relays to "out").
package realtimepacer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Config is the recognized init schema.
type Config struct {
	DurationMs        int
	SupportsInterrupt bool
}

const defaultDurationMs = 20

// clock is overridable in tests that need deterministic pacing.
var clock = time.Now

type data struct {
	cfg             Config
	sendingInterval time.Duration

	audioWrite *channel.Channel
	paced      *channel.Channel

	serializer atomic.Pointer[func(frame.AudioPayload) any]

	interrupt chan struct{}
	stop      chan struct{}
}

// Processor implements processor.Processor.
type Processor struct{}

// New constructs the realtime pacer processor.
func New() Processor { return Processor{} }

func (Processor) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{"out"},
		},
		Params: "DurationMs int (default 20), SupportsInterrupt bool",
	}
}

func (Processor) Init(_ context.Context, args map[string]any) (processor.State, error) {
	cfg := Config{DurationMs: defaultDurationMs}
	if v, ok := args["DurationMs"]; ok {
		n, ok := v.(int)
		if !ok || n <= 0 {
			return processor.State{}, fmt.Errorf("realtimepacer: init: DurationMs must be a positive int")
		}
		cfg.DurationMs = n
	}
	if v, ok := args["SupportsInterrupt"]; ok {
		b, ok := v.(bool)
		if !ok {
			return processor.State{}, fmt.Errorf("realtimepacer: init: SupportsInterrupt must be bool")
		}
		cfg.SupportsInterrupt = b
	}

	d := &data{
		cfg:             cfg,
		sendingInterval: time.Duration(cfg.DurationMs) * time.Millisecond / 2,
		audioWrite:      channel.NewData(),
		paced:           channel.NewData(),
		interrupt:       make(chan struct{}, 1),
		stop:            make(chan struct{}),
	}

	go d.run()

	return processor.State{
		Data:     d,
		InPorts:  map[string]*channel.Channel{"paced": d.paced},
		OutPorts: map[string]*channel.Channel{"audio-write": d.audioWrite},
	}, nil
}

// run is the background pacing loop.
func (d *data) run() {
	nextSend := clock()
	for {
		select {
		case <-d.stop:
			return

		case <-d.interrupt:
			drainNonBlocking(d.audioWrite)
			nextSend = clock()

		case f, ok := <-d.audioWrite.Raw():
			if !ok {
				return
			}

			now := clock()
			if nextSend.After(now) {
				time.Sleep(nextSend.Sub(now))
			}

			out := f
			if serPtr := d.serializer.Load(); serPtr != nil {
				if p, ok := frame.AsAudio(f); ok {
					out = frame.New(f.Type, (*serPtr)(p))
				}
			}

			d.paced.Put(out)
			nextSend = clock().Add(d.sendingInterval)
		}
	}
}

func drainNonBlocking(ch *channel.Channel) {
	for {
		select {
		case <-ch.Raw():
		default:
			return
		}
	}
}

func (Processor) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*data)
		close(d.stop)
		d.audioWrite.Close()
		d.paced.Close()
	}
	return st, nil
}

func (Processor) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	d := st.Data.(*data)

	switch {
	case port == "paced":
		return st, processor.Outputs{}.Add("out", f), nil

	case f.Type == frame.SystemConfigChange:
		p, _ := frame.AsConfigChange(f)
		if p.Serializer != nil {
			ser := p.Serializer
			d.serializer.Store(&ser)
		}
		return st, nil, nil

	case f.Type == frame.ControlInterruptStart:
		if d.cfg.SupportsInterrupt {
			select {
			case d.interrupt <- struct{}{}:
			default:
			}
		}
		return st, nil, nil

	case f.Type == frame.AudioOutputRaw:
		return st, processor.Outputs{}.Add("audio-write", f), nil

	default:
		return st, nil, nil
	}
}
