// Package processor defines the four-callable processor contract that every
// node in a simulflow graph implements.
//
// A Processor is a purely functional transform: Transform never performs
// I/O itself. Blocking work (websocket readers, keep-alive loops, the
// realtime pacer's sleep loop) runs in background workers started during
// Init and communicates back into Transform through private channels
// declared on State.InPorts, polled by the runtime exactly like external
// inputs.
package processor

import (
	"context"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
)

// Event is a lifecycle signal delivered to Transition.
type Event string

const (
	EventStart  Event = "start"
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventStop   Event = "stop"
)

// Ports describes the named input/output ports a processor declares.
type Ports struct {
	Ins  []string
	Outs []string
}

// Description is the declarative port set and parameter documentation
// returned by Describe.
type Description struct {
	Ports  Ports
	Params string
}

// State is private, processor-owned data. Only the owning processor's loop
// mutates it. InPorts/OutPorts hold any private sub-channels a
// processor allocates during Init for background-worker communication
// — e.g. a `ws-read` channel fed by a websocket reader
// goroutine, or the realtime pacer's `audio-write` channel.
type State struct {
	// Data is the processor's own state payload, typically a pointer to
	// a processor-specific struct it type-asserts back out.
	Data any

	// InPorts are private inbound channels the runtime polls alongside
	// externally-wired ports, keyed by port name.
	InPorts map[string]*channel.Channel

	// OutPorts are private outbound channels a processor may declare so
	// background workers can emit frames that flow back through the
	// runtime's normal dispatch path.
	OutPorts map[string]*channel.Channel
}

// Outputs maps an out-port name to the ordered frames Transform wants
// emitted on it during this step.
type Outputs map[string][]frame.Frame

// Add appends frames to the named port's output queue, creating the entry
// if necessary. It returns the receiver for chaining.
func (o Outputs) Add(port string, frames ...frame.Frame) Outputs {
	if o == nil {
		o = Outputs{}
	}
	o[port] = append(o[port], frames...)
	return o
}

// Processor is the four-callable contract every graph node implements
//.
type Processor interface {
	// Describe returns the processor's declarative port set and
	// parameter documentation. The graph engine calls this during
	// topology validation.
	Describe() Description

	// Init validates args against the processor's expected schema and
	// constructs initial State. It may allocate private sub-channels
	// for background I/O and start the corresponding worker goroutines,
	// which must respect ctx cancellation. Init returning an error is a
	// Configuration error and fails graph creation.
	Init(ctx context.Context, args map[string]any) (State, error)

	// Transition handles a lifecycle Event. On EventStop it must close
	// all private channels it opened in Init and release external
	// resources.
	Transition(ctx context.Context, st State, ev Event) (State, error)

	// Transform is the pure per-frame step: given the current state, the
	// port a frame arrived on, and the frame itself, it returns the next
	// state and any frames to emit. Transform must not block on I/O.
	Transform(st State, port string, f frame.Frame) (State, Outputs, error)
}
