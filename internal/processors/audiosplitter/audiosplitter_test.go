package audiosplitter

import (
	"bytes"
	"context"
	"testing"

	"github.com/shipclojure/simulflow-go/pkg/frame"
)

func TestSplitBoundary(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"ChunkSize": 160})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	input := make([]byte, 401)
	for i := range input {
		input[i] = byte(i)
	}

	_, out, err := p.Transform(st, "in", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: input}))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	frames := out["out"]
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	wantSizes := []int{160, 160, 81}
	var reassembled []byte
	for i, f := range frames {
		p, ok := frame.AsAudio(f)
		if !ok {
			t.Fatalf("frame %d: not an audio payload", i)
		}
		if len(p.Bytes) != wantSizes[i] {
			t.Fatalf("frame %d: size = %d, want %d", i, len(p.Bytes), wantSizes[i])
		}
		reassembled = append(reassembled, p.Bytes...)
	}
	if !bytes.Equal(reassembled, input) {
		t.Fatalf("reassembled bytes do not match input")
	}
}

func TestChunkSizeDerivedFromAudioFormat(t *testing.T) {
	p := New()
	// 8000 Hz, mono, 16-bit, 20ms → 8000 * 1 * 2 * 20 / 1000 = 320 bytes.
	st, err := p.Init(context.Background(), map[string]any{
		"SampleRate":     8000,
		"Channels":       1,
		"SampleSizeBits": 16,
		"DurationMs":     20,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, out, err := p.Transform(st, "in", frame.New(frame.AudioOutputRaw, frame.AudioPayload{Bytes: make([]byte, 320)}))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out["out"]) != 1 {
		t.Fatalf("expected exactly one chunk for exact-size input, got %d", len(out["out"]))
	}
}

func TestNonAudioFramesPassThrough(t *testing.T) {
	p := New()
	st, err := p.Init(context.Background(), map[string]any{"ChunkSize": 160})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	in := frame.New(frame.BotSpeechStart, frame.SpeechEventPayload{Final: true})
	_, out, err := p.Transform(st, "in", in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out["out"]) != 1 || out["out"][0].ID != in.ID {
		t.Fatalf("expected the same frame to pass through unchanged, got %v", out)
	}
}
