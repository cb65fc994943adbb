package frame

import "github.com/shipclojure/simulflow-go/pkg/llmcontext"

// AudioPayload is the Data payload of AudioInputRaw and AudioOutputRaw
// frames. Sample rate, channel count, and bit depth are implicit from the
// upstream system-config frame rather than carried per-frame, deriving
// format from session configuration rather than stamping it on every
// packet.
type AudioPayload struct {
	// Bytes holds the raw audio payload.
	Bytes []byte
}

// SpeechEventPayload is the Data payload of the four speech-event frame
// types. Final is true for authoritative (non-interim) events; the speech
// event frames themselves don't distinguish interim vs. final (only
// transcriptions do), so this carries the distinction as a plain bool
// flag instead.
type SpeechEventPayload struct {
	Final bool
}

// TranscriptionPayload is the Data payload of TranscriptionInterim and
// Transcription frames.
type TranscriptionPayload struct {
	Text       string
	Confidence float64
}

// LLMContextPayload is the Data payload of LLMContext frames: a full
// snapshot of the conversation context to drive (or re-drive) the LLM.
type LLMContextPayload struct {
	Context llmcontext.Context
}

// MessagesAppendPayload is the Data payload of LLMContextMessagesAppend
// frames.
type MessagesAppendPayload struct {
	Messages []llmcontext.Message

	// RunLLM, when true, means the receiving context aggregator should
	// emit the updated context on its `out` port after applying the
	// append.
	RunLLM bool

	// ToolCall, when true, means the receiving context aggregator should
	// also route the append onto its `tool-write` sub-port.
	ToolCall bool
}

// TextChunkPayload is the Data payload of LLMTextChunk frames.
type TextChunkPayload struct {
	Text string
}

// ToolCallChunkPayload is the Data payload of LLMToolCallChunk frames: a
// streamed fragment of a single tool call. ID and Name are only populated
// on the chunk that first introduces the call; Arguments is a fragment of
// the overall JSON arguments string that must be concatenated in arrival
// order.
type ToolCallChunkPayload struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallRequestPayload is the Data payload of LLMToolCallRequest frames,
// emitted by the context aggregator's tool-call handler right before it
// dispatches the call to a handler.
type ToolCallRequestPayload struct {
	ToolCall llmcontext.ToolCall
}

// ToolCallResultPayload is the Data payload of LLMToolCallResult frames.
type ToolCallResultPayload struct {
	ToolCallID string
	ToolName   string
	Result     string
	Err        error

	// RunLLM, when true, makes the context aggregator emit the updated
	// context on its out port after appending the result. The tool
	// executor always sets it.
	RunLLM bool
}

// SpeakPayload is the Data payload of SpeakFrame frames: one sentence (or
// fragment) of text ready for speech synthesis.
type SpeakPayload struct {
	Text string
}

// ConfigChangePayload is the Data payload of SystemConfigChange frames. At
// most one of the optional fields is populated per frame.
type ConfigChangePayload struct {
	// Context, if non-nil, replaces the context aggregator's LLM context
	// wholesale.
	Context *llmcontext.Context

	// Serializer, if non-nil, is installed by the realtime pacer to
	// transform outgoing audio frames into a transport's wire format
	//.
	Serializer func(AudioPayload) any

	// StreamSID identifies the Twilio-style media stream this config
	// change applies to. Empty when not applicable.
	StreamSID string
}

// ErrorPayload is the Data payload of SystemError frames.
type ErrorPayload struct {
	Source string
	Err    error
}

// AsAudio extracts an AudioPayload from f. ok is false if f does not carry
// one.
func AsAudio(f Frame) (AudioPayload, bool) {
	p, ok := f.Data.(AudioPayload)
	return p, ok
}

// AsSpeechEvent extracts a SpeechEventPayload from f.
func AsSpeechEvent(f Frame) (SpeechEventPayload, bool) {
	p, ok := f.Data.(SpeechEventPayload)
	return p, ok
}

// AsTranscription extracts a TranscriptionPayload from f.
func AsTranscription(f Frame) (TranscriptionPayload, bool) {
	p, ok := f.Data.(TranscriptionPayload)
	return p, ok
}

// AsLLMContext extracts an LLMContextPayload from f.
func AsLLMContext(f Frame) (LLMContextPayload, bool) {
	p, ok := f.Data.(LLMContextPayload)
	return p, ok
}

// AsMessagesAppend extracts a MessagesAppendPayload from f.
func AsMessagesAppend(f Frame) (MessagesAppendPayload, bool) {
	p, ok := f.Data.(MessagesAppendPayload)
	return p, ok
}

// AsTextChunk extracts a TextChunkPayload from f.
func AsTextChunk(f Frame) (TextChunkPayload, bool) {
	p, ok := f.Data.(TextChunkPayload)
	return p, ok
}

// AsToolCallChunk extracts a ToolCallChunkPayload from f.
func AsToolCallChunk(f Frame) (ToolCallChunkPayload, bool) {
	p, ok := f.Data.(ToolCallChunkPayload)
	return p, ok
}

// AsToolCallRequest extracts a ToolCallRequestPayload from f.
func AsToolCallRequest(f Frame) (ToolCallRequestPayload, bool) {
	p, ok := f.Data.(ToolCallRequestPayload)
	return p, ok
}

// AsToolCallResult extracts a ToolCallResultPayload from f.
func AsToolCallResult(f Frame) (ToolCallResultPayload, bool) {
	p, ok := f.Data.(ToolCallResultPayload)
	return p, ok
}

// AsSpeak extracts a SpeakPayload from f.
func AsSpeak(f Frame) (SpeakPayload, bool) {
	p, ok := f.Data.(SpeakPayload)
	return p, ok
}

// AsConfigChange extracts a ConfigChangePayload from f.
func AsConfigChange(f Frame) (ConfigChangePayload, bool) {
	p, ok := f.Data.(ConfigChangePayload)
	return p, ok
}

// AsError extracts an ErrorPayload from f.
func AsError(f Frame) (ErrorPayload, bool) {
	p, ok := f.Data.(ErrorPayload)
	return p, ok
}
