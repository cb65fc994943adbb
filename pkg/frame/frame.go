// Package frame defines the tagged-record value that flows across every
// channel in a simulflow graph.
//
// A Frame is immutable once constructed: New stamps a monotonic timestamp
// and a unique id, and no field is mutated afterwards. Processors build new
// Frame values rather than editing ones they received.
package frame

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is a symbolic tag drawn from a closed enumeration. The graph engine
// and processor runtime refuse any Type not listed in this file.
type Type string

// Audio frames.
const (
	AudioInputRaw  Type = "audio.input.raw"
	AudioOutputRaw Type = "audio.output.raw"
)

// Speech event frames.
const (
	UserSpeechStart Type = "user.speech.start"
	UserSpeechStop  Type = "user.speech.stop"
	BotSpeechStart  Type = "bot.speech.start"
	BotSpeechStop   Type = "bot.speech.stop"
)

// Transcription frames.
const (
	TranscriptionInterim Type = "transcription.interim"
	Transcription        Type = "transcription"
)

// LLM frames.
const (
	LLMContext                Type = "llm.context"
	LLMContextMessagesAppend  Type = "llm.context.messages.append"
	LLMTextChunk              Type = "llm.text.chunk"
	LLMToolCallChunk          Type = "llm.tool.call.chunk"
	LLMToolCallRequest        Type = "llm.tool.call.request"
	LLMToolCallResult         Type = "llm.tool.call.result"
	LLMFullResponseStart      Type = "llm.full.response.start"
	LLMFullResponseEnd        Type = "llm.full.response.end"
)

// Speech synthesis frames.
const (
	SpeakFrame Type = "speak.frame"
)

// Control frames.
const (
	ControlInterruptStart Type = "control.interrupt.start"
	ControlInterruptStop  Type = "control.interrupt.stop"
	MuteInputStart        Type = "mute.input.start"
	MuteInputStop         Type = "mute.input.stop"
)

// System frames. Every frame of one of these types has System set to true.
const (
	SystemStart        Type = "system.start"
	SystemStop         Type = "system.stop"
	SystemConfigChange Type = "system.config.change"
	SystemError        Type = "system.error"
)

// knownTypes is the closed enumeration backing IsKnown.
var knownTypes = map[Type]bool{
	AudioInputRaw:  true,
	AudioOutputRaw: true,

	UserSpeechStart: true,
	UserSpeechStop:  true,
	BotSpeechStart:  true,
	BotSpeechStop:   true,

	TranscriptionInterim: true,
	Transcription:        true,

	LLMContext:               true,
	LLMContextMessagesAppend: true,
	LLMTextChunk:             true,
	LLMToolCallChunk:         true,
	LLMToolCallRequest:       true,
	LLMToolCallResult:        true,
	LLMFullResponseStart:     true,
	LLMFullResponseEnd:       true,

	SpeakFrame: true,

	ControlInterruptStart: true,
	ControlInterruptStop:  true,
	MuteInputStart:        true,
	MuteInputStop:         true,

	SystemStart:        true,
	SystemStop:         true,
	SystemConfigChange: true,
	SystemError:        true,
}

// systemTypes is the subset of knownTypes that must be stamped System=true.
var systemTypes = map[Type]bool{
	SystemStart:        true,
	SystemStop:         true,
	SystemConfigChange: true,
	SystemError:        true,
}

// IsKnown reports whether t belongs to the closed frame-type enumeration.
// The graph engine calls this on every inbound frame and refuses any frame
// whose Type is unknown.
func IsKnown(t Type) bool {
	return knownTypes[t]
}

// Frame is an immutable tagged record. Every value flowing through a
// simulflow graph is a Frame.
type Frame struct {
	// Type is the symbolic tag. See the Type constants above.
	Type Type

	// Data is the type-specific payload. Callers should use the As*
	// accessors below rather than asserting on Data directly, so that a
	// payload schema change only has to be fixed in one place.
	Data any

	// TS is the monotonic creation timestamp in milliseconds, stamped by
	// New.
	TS int64

	// ID uniquely identifies this frame instance.
	ID string

	// System is true for lifecycle/control frames that must preempt
	// normal data frames on the same node.
	System bool
}

// clock is overridable in tests that need deterministic timestamps.
var clock = func() int64 { return time.Now().UnixMilli() }

// idGen is overridable in tests that need deterministic ids.
var idGen = func() string { return uuid.NewString() }

// New constructs a Frame of the given type carrying data. It stamps TS and
// ID and sets System according to the closed frame-type table. New panics
// if t is not a recognised Type — callers should only ever pass one of the
// Type constants declared in this package.
func New(t Type, data any) Frame {
	if !IsKnown(t) {
		panic(fmt.Sprintf("frame: unknown frame type %q", t))
	}
	return Frame{
		Type:   t,
		Data:   data,
		TS:     clock(),
		ID:     idGen(),
		System: systemTypes[t],
	}
}

// Is reports whether f has the given type. Prefer it over `f.Type == t` at
// call sites that branch on several frame kinds so the branch reads
// uniformly.
func Is(t Type, f Frame) bool {
	return f.Type == t
}

// String implements fmt.Stringer for debugging and log output.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{%s id=%s ts=%d system=%t}", f.Type, f.ID, f.TS, f.System)
}
