package llm

import (
	"errors"
	"testing"
)

func TestCollect_MergesCallsByIndexInIssueOrder(t *testing.T) {
	stream := NewStaticStream(
		Chunk{ToolCalls: []ToolCall{{Index: 1, ID: "b", Name: "get_hotel_info", Arguments: `{"hotelcode"`}}},
		Chunk{ToolCalls: []ToolCall{{Index: 0, ID: "a", Name: "get_current_date", Arguments: "{}"}}},
		Chunk{ToolCalls: []ToolCall{{Index: 1, Arguments: `:42}`}}},
	)
	resp, err := Collect(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "a" || resp.ToolCalls[1].Arguments != `{"hotelcode":42}` {
		t.Fatalf("unexpected calls %+v", resp.ToolCalls)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Fatalf("expected tool_calls finish reason, got %q", resp.FinishReason)
	}
}

func TestCollect_DistinctIDsAtSameIndex(t *testing.T) {
	resp, err := Collect(NewStaticStream(
		Chunk{ToolCalls: []ToolCall{{ID: "x", Name: "get_search_status"}}},
		Chunk{ToolCalls: []ToolCall{{ID: "y", Name: "get_search_results"}}},
	))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[1].ID != "y" {
		t.Fatalf("expected two separate calls, got %+v", resp.ToolCalls)
	}
}

type failingStream struct{}

func (failingStream) Recv() (Chunk, error) { return Chunk{}, errors.New("connection reset by peer") }
func (failingStream) Close() error         { return nil }

func TestCollect_PropagatesStreamErrors(t *testing.T) {
	if _, err := Collect(failingStream{}); err == nil {
		t.Fatal("expected stream error")
	}
}

func TestEnsureAlternation(t *testing.T) {
	in := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
		{Role: RoleAssistant, Content: "d"},
	}
	out := EnsureAlternation(in)
	if len(out) != 6 {
		t.Fatalf("expected 2 placeholders, got %d messages", len(out))
	}
	if out[1].Role != RoleAssistant || out[1].Content != RolePlaceholder {
		t.Fatalf("unexpected placeholder %+v", out[1])
	}
	if out[4].Role != RoleUser {
		t.Fatalf("expected user placeholder, got %+v", out[4])
	}
	if len(in) != 4 {
		t.Fatal("input must not be modified")
	}
}
