package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
)

// Runtime owns one processor's loop: it selects an inbound frame with
// system-channel priority, invokes Transform, swaps state, and dispatches
// outputs onto the channels wired to each out-port.
//
// A Runtime is created once per graph node by the graph engine; it is not
// intended to be reused across nodes.
type Runtime struct {
	name      string
	proc      Processor
	logger    *slog.Logger
	errorCh   *channel.Channel
	reportCh  *channel.Channel

	// sysIn and in are the external system/data inbound edges wired to
	// this node by the graph engine, keyed by port name.
	sysIn map[string]*channel.Channel
	in    map[string]*channel.Channel

	// out fans frames out to every connected target channel for a given
	// out-port name (an edge may fan out to several targets).
	out map[string][]*channel.Channel

	state State

	mu      sync.RWMutex
	running bool
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithErrorChannel wires the runtime's error reports to ch (a drop-oldest
// observability channel).
func WithErrorChannel(ch *channel.Channel) Option {
	return func(r *Runtime) { r.errorCh = ch }
}

// WithReportChannel wires the runtime's informational reports to ch.
func WithReportChannel(ch *channel.Channel) Option {
	return func(r *Runtime) { r.reportCh = ch }
}

// New constructs a Runtime for proc, named name for logging.
func New(name string, proc Processor, opts ...Option) *Runtime {
	r := &Runtime{
		name:   name,
		proc:   proc,
		logger: slog.Default(),
		sysIn:  map[string]*channel.Channel{},
		in:     map[string]*channel.Channel{},
		out:    map[string][]*channel.Channel{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WireSysIn attaches an external system-priority inbound edge to port.
func (r *Runtime) WireSysIn(port string, ch *channel.Channel) {
	r.sysIn[port] = ch
}

// WireIn attaches an external data inbound edge to port.
func (r *Runtime) WireIn(port string, ch *channel.Channel) {
	r.in[port] = ch
}

// WireOut attaches target as one of (possibly several) fan-out
// destinations for port.
func (r *Runtime) WireOut(port string, target *channel.Channel) {
	r.out[port] = append(r.out[port], target)
}

// Init runs the processor's Init callable and stores the resulting state.
func (r *Runtime) Init(ctx context.Context, args map[string]any) error {
	st, err := r.proc.Init(ctx, args)
	if err != nil {
		return fmt.Errorf("processor %s: init: %w", r.name, err)
	}
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	return nil
}

// Transition runs the processor's Transition callable for ev.
func (r *Runtime) Transition(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.proc.Transition(ctx, r.state, ev)
	if err != nil {
		r.reportError(fmt.Errorf("processor %s: transition %s: %w", r.name, ev, err))
		return err
	}
	r.state = st
	return nil
}

// State returns a snapshot of the processor's current state. Intended for
// tests and debugging; callers must not mutate the returned value's Data
// concurrently with the running loop.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Run drives the processor's loop until ctx is cancelled or every inbound
// channel (external and private) is closed. A channel is no longer read once
// it reports closed, so frames still buffered in it at that point are not
// delivered. Run is intended to be launched in its own goroutine by the
// graph engine.
//
// Run never lets a single faulty frame kill the processor: if Transform
// returns an error or panics, the runtime logs it, reports it on the error
// channel, preserves the prior state, and continues.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	done := ctx.Done()

	for {
		sources := r.sources()
		if len(sources) == 0 {
			return
		}

		f, port, ok := channel.Select(done, sources...)
		if !ok {
			return
		}

		if !frame.IsKnown(f.Type) {
			r.reportError(fmt.Errorf("processor %s: refusing unknown frame type %q on port %s", r.name, f.Type, port))
			continue
		}

		r.step(port, f)
	}
}

// sources assembles the priority-ordered channel list for one Select call:
// every private+external system-priority port first, then every
// private+external data port, so sys-in always wins a simultaneous race
// over in.
func (r *Runtime) sources() []channel.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []channel.Source
	for port, ch := range r.sysIn {
		if !ch.Closed() {
			out = append(out, channel.Source{Port: port, Ch: ch})
		}
	}
	for port, ch := range r.in {
		if !ch.Closed() {
			out = append(out, channel.Source{Port: port, Ch: ch})
		}
	}
	for port, ch := range r.state.InPorts {
		if !ch.Closed() {
			out = append(out, channel.Source{Port: port, Ch: ch})
		}
	}
	return out
}

// step invokes Transform for a single frame, isolating panics and errors so
// that one faulty frame never kills the loop.
func (r *Runtime) step(port string, f frame.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.reportError(fmt.Errorf("processor %s: panic in transform on port %s: %v", r.name, port, rec))
		}
	}()

	r.mu.Lock()
	prevState := r.state
	nextState, outputs, err := r.proc.Transform(prevState, port, f)
	if err != nil {
		r.mu.Unlock()
		r.reportError(fmt.Errorf("processor %s: transform on port %s: %w", r.name, port, err))
		return
	}
	r.state = nextState
	r.mu.Unlock()

	r.dispatch(outputs)
}

// dispatch fans outputs out onto every wired target channel. A port present
// in the processor's own State.OutPorts (a private channel a background
// worker reads from directly, e.g. the realtime pacer's audio-write queue)
// is preferred over externally wired targets for that port name, since such
// a port is never wired by the graph engine in the first place.
func (r *Runtime) dispatch(outputs Outputs) {
	if len(outputs) == 0 {
		return
	}
	r.mu.RLock()
	targets := r.out
	privateOut := r.state.OutPorts
	r.mu.RUnlock()

	for port, frames := range outputs {
		if priv, ok := privateOut[port]; ok {
			for _, f := range frames {
				priv.Put(f)
			}
			continue
		}
		dests := targets[port]
		for _, f := range frames {
			for _, dest := range dests {
				dest.Put(f)
			}
		}
	}
}

// reportError logs err and drops it on the error channel (drop-oldest;
// never blocks).
func (r *Runtime) reportError(err error) {
	r.logger.Error("processor error", "processor", r.name, "err", err)
	if r.errorCh != nil {
		r.errorCh.Put(frame.New(frame.SystemError, frame.ErrorPayload{Source: r.name, Err: err}))
	}
}

// Report logs an informational message. Out-of-band report frames that
// need to flow onto reportCh are constructed by callers (e.g. the graph
// engine's lifecycle notifications) since the closed frame-type
// enumeration has no generic "report" tag of its own.
func (r *Runtime) Report(msg string, args ...any) {
	r.logger.Info(msg, args...)
}

// ErrorChannel returns the channel this runtime reports errors on, or nil.
func (r *Runtime) ErrorChannel() *channel.Channel {
	return r.errorCh
}

// ReportChannel returns the channel this runtime reports informational
// messages on, or nil.
func (r *Runtime) ReportChannel() *channel.Channel {
	return r.reportCh
}

// Running reports whether Run's loop is currently active.
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}
