package twilio

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// In is the transport-in processor: it has no declared in-port
// of its own besides sys-in, and instead sources audio.input.raw and
// system.config.change frames from an attached Session's ReadLoop.
type In struct{}

// NewIn constructs the transport-in processor.
func NewIn() In { return In{} }

type inData struct {
	network *channel.Channel
	attach  chan *Session
	stop    chan struct{}
}

func (In) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in"},
			Outs: []string{"out"},
		},
		Params: "(none; attach a live Session via AttachIn after Init)",
	}
}

func (In) Init(_ context.Context, _ map[string]any) (processor.State, error) {
	d := &inData{
		network: channel.NewData(),
		attach:  make(chan *Session),
		stop:    make(chan struct{}),
	}
	go d.run()
	return processor.State{
		Data:    d,
		InPorts: map[string]*channel.Channel{"network": d.network},
	}, nil
}

func (d *inData) run() {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stop
		cancel()
	}()
	for {
		select {
		case <-d.stop:
			return
		case sess := <-d.attach:
			sess.Run(runCtx)
		}
	}
}

func (In) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*inData)
		close(d.stop)
		d.network.Close()
	}
	return st, nil
}

func (In) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	if port == "network" {
		return st, processor.Outputs{}.Add("out", f), nil
	}
	return st, nil, nil
}

// AttachIn wraps conn in a Session wired to feed this In node's background
// reader, and returns the Session so the caller can also pass it to
// AttachOut for the matching transport-out node (a Twilio media stream is
// one bidirectional connection: reads and writes share a conn). Call this
// from the HTTP handler that accepts the inbound Twilio websocket
// connection.
func AttachIn(st processor.State, conn *websocket.Conn) (*Session, error) {
	d, ok := st.Data.(*inData)
	if !ok {
		return nil, fmt.Errorf("twilio: AttachIn: state does not belong to an In processor")
	}
	sess := NewSession(conn, d.network)
	select {
	case d.attach <- sess:
		return sess, nil
	case <-d.stop:
		return nil, fmt.Errorf("twilio: AttachIn: node already stopped")
	}
}

// Out is the transport-out processor: it relays whatever
// arrives on "in" (already serialized into wire-ready form by the
// realtime pacer's installed Serializer) onto an attached Session.
type Out struct{}

// NewOut constructs the transport-out processor.
func NewOut() Out { return Out{} }

type outData struct {
	write  *channel.Channel
	attach chan *Session
	stop   chan struct{}
}

func (Out) Describe() processor.Description {
	return processor.Description{
		Ports: processor.Ports{
			Ins:  []string{"sys-in", "in"},
			Outs: []string{},
		},
		Params: "(none; attach a live Session via AttachOut after Init)",
	}
}

func (Out) Init(_ context.Context, _ map[string]any) (processor.State, error) {
	d := &outData{
		write:  channel.NewData(),
		attach: make(chan *Session),
		stop:   make(chan struct{}),
	}
	go d.run()
	return processor.State{
		Data:     d,
		OutPorts: map[string]*channel.Channel{"write": d.write},
	}, nil
}

func (d *outData) run() {
	var active *Session
	for {
		select {
		case <-d.stop:
			return
		case sess := <-d.attach:
			active = sess
		case f, ok := <-d.write.Raw():
			if !ok {
				return
			}
			if active != nil {
				_ = active.WriteRaw(context.Background(), f.Data)
			}
		}
	}
}

func (Out) Transition(_ context.Context, st processor.State, ev processor.Event) (processor.State, error) {
	if ev == processor.EventStop {
		d := st.Data.(*outData)
		close(d.stop)
		d.write.Close()
	}
	return st, nil
}

func (Out) Transform(st processor.State, port string, f frame.Frame) (processor.State, processor.Outputs, error) {
	if port == "in" {
		return st, processor.Outputs{}.Add("write", f), nil
	}
	return st, nil, nil
}

// AttachOut hands a freshly accepted Session to an already-initialized Out
// node's background writer.
func AttachOut(st processor.State, sess *Session) error {
	d, ok := st.Data.(*outData)
	if !ok {
		return fmt.Errorf("twilio: AttachOut: state does not belong to an Out processor")
	}
	select {
	case d.attach <- sess:
		return nil
	case <-d.stop:
		return fmt.Errorf("twilio: AttachOut: node already stopped")
	}
}
