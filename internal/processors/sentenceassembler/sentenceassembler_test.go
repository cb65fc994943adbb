package sentenceassembler

import (
	"context"
	"testing"

	"github.com/shipclojure/simulflow-go/pkg/frame"
)

func TestEmitsOneSpeakFramePerSentence(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	st, _, err = p.Transform(st, "in", frame.New(frame.LLMFullResponseStart, nil))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	var speak []string
	for _, chunk := range []string{"Hello there. ", "How are ", "you? ", "Great"} {
		var outputs map[string][]frame.Frame
		st, outputs, err = p.Transform(st, "in", frame.New(frame.LLMTextChunk, frame.TextChunkPayload{Text: chunk}))
		if err != nil {
			t.Fatalf("transform chunk: %v", err)
		}
		for _, f := range outputs["out"] {
			sp, _ := frame.AsSpeak(f)
			speak = append(speak, sp.Text)
		}
	}

	_, out, err := p.Transform(st, "in", frame.New(frame.LLMFullResponseEnd, nil))
	if err != nil {
		t.Fatalf("transform end: %v", err)
	}
	for _, f := range out["out"] {
		sp, _ := frame.AsSpeak(f)
		speak = append(speak, sp.Text)
	}

	want := []string{"Hello there.", "How are you?", "Great"}
	if len(speak) != len(want) {
		t.Fatalf("got %d speak frames %v, want %v", len(speak), speak, want)
	}
	for i := range want {
		if speak[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q", i, speak[i], want[i])
		}
	}
}

func TestFlushesNothingWhenResponseIsEmpty(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	st, _, err = p.Transform(st, "in", frame.New(frame.LLMFullResponseStart, nil))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	_, out, err := p.Transform(st, "in", frame.New(frame.LLMFullResponseEnd, nil))
	if err != nil {
		t.Fatalf("transform end: %v", err)
	}
	if len(out["out"]) != 0 {
		t.Fatalf("expected no speak frames, got %v", out)
	}
}
