package frame

import "testing"

func TestNewStampsTSAndID(t *testing.T) {
	f1 := New(Transcription, TranscriptionPayload{Text: "hi"})
	f2 := New(Transcription, TranscriptionPayload{Text: "hi"})

	if f1.ID == "" {
		t.Fatalf("expected non-empty ID")
	}
	if f1.ID == f2.ID {
		t.Fatalf("expected distinct IDs across New calls")
	}
	if f1.TS == 0 {
		t.Fatalf("expected non-zero TS")
	}
}

func TestNewMarksSystemFrames(t *testing.T) {
	for _, tt := range []struct {
		typ    Type
		system bool
	}{
		{SystemStart, true},
		{SystemStop, true},
		{SystemConfigChange, true},
		{SystemError, true},
		{Transcription, false},
		{AudioInputRaw, false},
	} {
		f := New(tt.typ, nil)
		if f.System != tt.system {
			t.Errorf("New(%s).System = %t, want %t", tt.typ, f.System, tt.system)
		}
	}
}

func TestNewPanicsOnUnknownType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown frame type")
		}
	}()
	New(Type("bogus.type"), nil)
}

func TestIsPredicate(t *testing.T) {
	f := New(UserSpeechStart, SpeechEventPayload{Final: true})
	if !Is(UserSpeechStart, f) {
		t.Fatalf("expected Is(UserSpeechStart, f) to be true")
	}
	if Is(UserSpeechStop, f) {
		t.Fatalf("expected Is(UserSpeechStop, f) to be false")
	}
}

func TestAsAccessorsRoundTrip(t *testing.T) {
	f := New(TranscriptionInterim, TranscriptionPayload{Text: "partial", Confidence: 0.4})
	p, ok := AsTranscription(f)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if p.Text != "partial" || p.Confidence != 0.4 {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, ok := AsAudio(f); ok {
		t.Fatalf("expected AsAudio to fail on a transcription frame")
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown(LLMContext) {
		t.Fatalf("expected LLMContext to be known")
	}
	if IsKnown(Type("not.a.real.type")) {
		t.Fatalf("expected unknown type to report false")
	}
}
