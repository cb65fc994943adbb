package llmcontext

import "testing"

func TestAppendMessageMergesSameRolePlainText(t *testing.T) {
	c := New("You are a helpful assistant")
	c = c.AppendMessage(Message{Role: "user", Content: "Hello"})
	c = c.AppendMessage(Message{Role: "user", Content: "there"})

	if len(c.Messages) != 2 {
		t.Fatalf("expected system + merged user message, got %d messages: %+v", len(c.Messages), c.Messages)
	}
	if c.Messages[1].Content != "Hello there" {
		t.Fatalf("expected merged content %q, got %q", "Hello there", c.Messages[1].Content)
	}
}

func TestAppendMessageDoesNotMergeDifferentRoles(t *testing.T) {
	c := New("sys")
	c = c.AppendMessage(Message{Role: "user", Content: "hi"})
	c = c.AppendMessage(Message{Role: "assistant", Content: "hello"})

	if len(c.Messages) != 3 {
		t.Fatalf("expected 3 separate messages, got %d", len(c.Messages))
	}
}

func TestAppendMessageDoesNotMergeToolCallMessages(t *testing.T) {
	c := Context{}
	c = c.AppendMessage(Message{Role: "assistant", ToolCalls: []ToolCall{{ID: "1", Name: "x"}}})
	c = c.AppendMessage(Message{Role: "assistant", Content: "follow-up"})

	if len(c.Messages) != 2 {
		t.Fatalf("expected tool-call message to stay separate, got %d messages", len(c.Messages))
	}
}

func TestAppendMessageIsImmutable(t *testing.T) {
	c1 := New("sys")
	c2 := c1.AppendMessage(Message{Role: "user", Content: "hi"})

	if len(c1.Messages) != 1 {
		t.Fatalf("expected original context untouched, got %d messages", len(c1.Messages))
	}
	if len(c2.Messages) != 2 {
		t.Fatalf("expected new context to have 2 messages, got %d", len(c2.Messages))
	}
}

func TestPendingToolCallIDs(t *testing.T) {
	c := Context{}
	c = c.AppendMessage(Message{Role: "user", Content: "what's the weather"})
	c = c.AppendMessage(Message{Role: "assistant", ToolCalls: []ToolCall{
		{ID: "call_1", Name: "get_weather"},
		{ID: "call_2", Name: "get_time"},
	}})

	pending := c.PendingToolCallIDs()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tool calls, got %d: %v", len(pending), pending)
	}

	c = c.AppendMessage(Message{Role: "tool", ToolCallID: "call_1", Content: "sunny"})
	pending = c.PendingToolCallIDs()
	if len(pending) != 1 || pending[0] != "call_2" {
		t.Fatalf("expected only call_2 pending, got %v", pending)
	}

	c = c.AppendMessage(Message{Role: "tool", ToolCallID: "call_2", Content: "noon"})
	pending = c.PendingToolCallIDs()
	if len(pending) != 0 {
		t.Fatalf("expected no pending tool calls, got %v", pending)
	}
}

func TestPendingToolCallIDsNoRequest(t *testing.T) {
	c := New("sys")
	if pending := c.PendingToolCallIDs(); len(pending) != 0 {
		t.Fatalf("expected no pending tool calls on a fresh context, got %v", pending)
	}
}
