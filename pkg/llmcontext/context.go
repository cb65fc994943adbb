// Package llmcontext implements the mutable-by-replacement LLM conversation
// context: an ordered message history plus the set of function tools
// currently offered to the model.
//
// Context values are never mutated in place by this package; every
// operation returns a new Context. Callers (the context aggregator, the
// assistant context assembler) hold the current value in their processor
// state and replace it wholesale on each transition, consistent with the
// processor state contract.
package llmcontext

import (
	"strings"
)

// Message is a single entry in a Context's conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text. A message may carry either plain
	// text (Content non-empty, Parts nil) or structured parts (Parts
	// non-empty); never both.
	Content string

	// Parts holds structured content (text and image parts) for
	// messages built from multi-modal input, e.g. the assistant
	// assembler's text-completion append.
	Parts []ContentPart

	// ToolCalls is populated on assistant messages that requested one
	// or more tool invocations.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", naming which tool call
	// this message answers.
	ToolCallID string
}

// ContentPart is one element of a structured Message.Parts slice.
type ContentPart struct {
	// Type is "text" or "image".
	Type string

	// Text holds the part's text when Type is "text".
	Text string

	// ImageURL holds the part's image reference when Type is "image".
	ImageURL string
}

// ToolCall represents a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolHandler executes a tool call and returns its JSON-encoded result, or
// an error. Implementations may block; the runtime invokes handlers on a
// dedicated blocking-task pool.
type ToolHandler func(args string) (string, error)

// ToolDefinition describes one function tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// ParametersSchema is the JSON Schema describing the tool's
	// arguments, serialized exactly as provided when sent over the
	// wire.
	ParametersSchema map[string]any

	// Handler executes the tool. It is dropped when tools are
	// translated to the provider's wire schema.
	Handler ToolHandler

	// Strict requests provider-side strict JSON-schema enforcement
	// when the backend supports it.
	Strict bool

	// EstimatedDurationMs and MaxDurationMs back budget-tier enrichment.
	// Zero means "no declared latency" and disables tier-based
	// filtering / timeout enforcement for this tool.
	EstimatedDurationMs int
	MaxDurationMs       int

	// Idempotent and CacheableSeconds are declarative hints carried with
	// the definition; the runtime does not read them.
	Idempotent       bool
	CacheableSeconds int
}

// Context is the LLM conversation state: an ordered message history plus
// the tools currently offered to the model.
type Context struct {
	Messages []Message
	Tools    []ToolDefinition
}

// New builds a Context seeded with an initial system message, the usual
// "system prompt first" construction for a fresh conversation.
func New(systemPrompt string) Context {
	c := Context{}
	if systemPrompt != "" {
		c.Messages = []Message{{Role: "system", Content: systemPrompt}}
	}
	return c
}

// WithTools returns a copy of c with Tools replaced.
func (c Context) WithTools(tools []ToolDefinition) Context {
	c.Tools = append([]ToolDefinition(nil), tools...)
	return c
}

// isPlainText reports whether m carries only a flat string payload (no
// structured parts, no tool calls, not a tool-result message) — the
// precondition for the same-role merge rule below.
func isPlainText(m Message) bool {
	return len(m.Parts) == 0 && len(m.ToolCalls) == 0 && m.ToolCallID == ""
}

// AppendMessage returns a new Context with msg appended to Messages,
// applying the same-role plain-text merge rule: if the last message has
// the same role as msg and both carry plain string content,
// the two are concatenated with a separating space instead of appending a
// new entry.
func (c Context) AppendMessage(msg Message) Context {
	out := Context{
		Messages: append([]Message(nil), c.Messages...),
		Tools:    c.Tools,
	}

	if n := len(out.Messages); n > 0 {
		last := out.Messages[n-1]
		if last.Role == msg.Role && isPlainText(last) && isPlainText(msg) {
			merged := last
			merged.Content = mergeText(last.Content, msg.Content)
			out.Messages[n-1] = merged
			return out
		}
	}

	out.Messages = append(out.Messages, msg)
	return out
}

// AppendMessages applies AppendMessage for each message in msgs, in order.
func (c Context) AppendMessages(msgs []Message) Context {
	out := c
	for _, m := range msgs {
		out = out.AppendMessage(m)
	}
	return out
}

// mergeText concatenates a and b with a single separating space, trimming
// redundant whitespace at the join point so repeated merges don't
// accumulate extra spaces.
func mergeText(a, b string) string {
	a = strings.TrimRight(a, " ")
	b = strings.TrimLeft(b, " ")
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

// PendingToolCallIDs returns the tool_call_id values that an assistant
// tool-call request message at the end of Messages is still waiting on —
// i.e. the ids in the last assistant ToolCalls message that do not yet have
// a matching "tool" role response later in the history. An empty result
// means the context has no outstanding tool call blocking the next
// assistant text message.
func (c Context) PendingToolCallIDs() []string {
	var lastRequest []ToolCall
	lastRequestIdx := -1
	for i, m := range c.Messages {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			lastRequest = m.ToolCalls
			lastRequestIdx = i
		}
	}
	if lastRequestIdx == -1 {
		return nil
	}

	answered := map[string]bool{}
	for _, m := range c.Messages[lastRequestIdx+1:] {
		if m.Role == "tool" && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	var pending []string
	for _, tc := range lastRequest {
		if !answered[tc.ID] {
			pending = append(pending, tc.ID)
		}
	}
	return pending
}
