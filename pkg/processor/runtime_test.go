package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shipclojure/simulflow-go/pkg/channel"
	"github.com/shipclojure/simulflow-go/pkg/frame"
)

// countingProcessor relays every frame it sees from "in" to "out",
// incrementing a counter in its state. It returns an error whenever it
// receives a frame carrying TranscriptionPayload{Text: "boom"}, to exercise
// the runtime's error-isolation contract.
type countingProcessor struct{}

type countingState struct {
	count int
}

func (countingProcessor) Describe() Description {
	return Description{Ports: Ports{Ins: []string{"in"}, Outs: []string{"out"}}}
}

func (countingProcessor) Init(_ context.Context, _ map[string]any) (State, error) {
	return State{Data: &countingState{}}, nil
}

func (countingProcessor) Transition(_ context.Context, st State, _ Event) (State, error) {
	return st, nil
}

func (countingProcessor) Transform(st State, port string, f frame.Frame) (State, Outputs, error) {
	if p, ok := frame.AsTranscription(f); ok && p.Text == "boom" {
		return st, nil, errors.New("simulated failure")
	}

	cs := st.Data.(*countingState)
	next := &countingState{count: cs.count + 1}
	st.Data = next

	return st, Outputs{"out": []frame.Frame{f}}, nil
}

func TestRuntimeRelaysFramesAndCounts(t *testing.T) {
	in := channel.New(4, channel.PolicyBlock)
	out := channel.New(4, channel.PolicyBlock)

	rt := New("counter", countingProcessor{})
	if err := rt.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	rt.WireIn("in", in)
	rt.WireOut("out", out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	in.Put(frame.New(frame.Transcription, frame.TranscriptionPayload{Text: "hello"}))

	select {
	case f := <-out.Raw():
		if p, _ := frame.AsTranscription(f); p.Text != "hello" {
			t.Fatalf("unexpected relayed frame: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for relayed frame")
	}

	deadline := time.After(time.Second)
	for {
		if rt.State().Data.(*countingState).count == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state update")
		default:
		}
	}
}

func TestRuntimeSurvivesTransformError(t *testing.T) {
	in := channel.New(4, channel.PolicyBlock)
	out := channel.New(4, channel.PolicyBlock)
	errCh := channel.New(4, channel.PolicyDropOldest)

	rt := New("counter", countingProcessor{}, WithErrorChannel(errCh))
	if err := rt.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	rt.WireIn("in", in)
	rt.WireOut("out", out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	in.Put(frame.New(frame.Transcription, frame.TranscriptionPayload{Text: "boom"}))
	in.Put(frame.New(frame.Transcription, frame.TranscriptionPayload{Text: "after"}))

	select {
	case f := <-out.Raw():
		if p, _ := frame.AsTranscription(f); p.Text != "after" {
			t.Fatalf("expected the processor to keep running after an error, got %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out: processor appears to have died after a transform error")
	}

	select {
	case ef := <-errCh.Raw():
		if _, ok := frame.AsError(ef); !ok {
			t.Fatalf("expected an error frame, got %+v", ef)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an error report on the error channel")
	}
}

func TestRuntimeStopsWhenContextCancelled(t *testing.T) {
	in := channel.New(4, channel.PolicyBlock)
	rt := New("counter", countingProcessor{})
	if err := rt.Init(context.Background(), nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	rt.WireIn("in", in)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(doneCh)
	}()

	cancel()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after context cancellation")
	}
}
