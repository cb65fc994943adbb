package realtimepacer

import (
	"context"
	"testing"
	"time"

	"github.com/shipclojure/simulflow-go/pkg/frame"
	"github.com/shipclojure/simulflow-go/pkg/processor"
)

func TestPacerDeliversAudioThroughPacedPort(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"DurationMs": 2})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Transition(context.Background(), st, processor.EventStop)

	_, out, err := p.Transform(st, "in", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: []byte("hi")}))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out["audio-write"]) != 1 {
		t.Fatalf("expected one frame routed to audio-write, got %v", out)
	}
	// dispatch would normally do this; simulate it directly here since this
	// test exercises Transform in isolation.
	st.OutPorts["audio-write"].Put(out["audio-write"][0])

	select {
	case paced := <-st.InPorts["paced"].Raw():
		p, ok := frame.AsAudio(paced)
		if !ok || string(p.Bytes) != "hi" {
			t.Fatalf("unexpected paced frame: %+v", paced)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for paced output")
	}
}

func TestSerializerAppliedBeforeDelivery(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"DurationMs": 2})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Transition(context.Background(), st, processor.EventStop)

	ser := func(a frame.AudioPayload) any { return "wire:" + string(a.Bytes) }
	_, out, _ := p.Transform(st, "sys-in", frame.New(frame.SystemConfigChange, frame.ConfigChangePayload{Serializer: ser}))
	if len(out) != 0 {
		t.Fatalf("config change should not emit output, got %v", out)
	}

	_, out, _ = p.Transform(st, "in", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: []byte("hi")}))
	st.OutPorts["audio-write"].Put(out["audio-write"][0])

	select {
	case paced := <-st.InPorts["paced"].Raw():
		if paced.Data.(string) != "wire:hi" {
			t.Fatalf("expected serialized payload, got %+v", paced.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for serialized paced output")
	}
}

func TestInterruptDrainsQueuedAudio(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"DurationMs": 200, "SupportsInterrupt": true})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer p.Transition(context.Background(), st, processor.EventStop)

	// Queue several frames; with a 200ms duration (100ms sending interval)
	// the first goes out at once and the other two would take ~200ms more.
	for i := 0; i < 3; i++ {
		_, out, _ := p.Transform(st, "in", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: []byte{byte(i)}}))
		st.OutPorts["audio-write"].Put(out["audio-write"][0])
	}

	// Let the worker send the first frame and start sleeping before the
	// second, then interrupt before the remaining two are paced out.
	time.Sleep(20 * time.Millisecond)
	_, _, err = p.Transform(st, "in", frame.New(frame.ControlInterruptStart, nil))
	if err != nil {
		t.Fatalf("transform interrupt: %v", err)
	}

	// Drain whatever made it through before the interrupt landed; it must
	// be fewer than all 3 frames queued.
	delivered := 0
	deadline := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case <-st.InPorts["paced"].Raw():
			delivered++
		case <-deadline:
			break loop
		}
	}
	if delivered >= 3 {
		t.Fatalf("expected the interrupt to drop at least one queued frame, got %d delivered", delivered)
	}
}
