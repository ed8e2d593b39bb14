package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected auth header")
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("expected streaming with usage")
		}
		if len(req.Tools) != 1 || req.ToolChoice != "auto" {
			t.Errorf("expected tools in request")
		}
		if len(req.Messages) != 3 || req.Messages[1].Content != nil || len(req.Messages[1].ToolCalls) != 1 {
			t.Errorf("expected tool-call turn with null content, got %+v", req.Messages)
		}
		if req.Messages[2].ToolCallID != "call_0" {
			t.Errorf("expected tool result id, got %+v", req.Messages[2])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Ищу \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search_tours\",\"arguments\":\"{\\\"country\\\":\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"4}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":120,\"completion_tokens\":15}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{
		APIURL: server.URL,
		APIKey: "test-key",
		Model:  "gpt-test",
	})

	stream, err := provider.Complete(context.Background(), []Message{
		{Role: RoleUser, Content: "Турция"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_current_date", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "call_0", Content: `{"date":"01.03.2026"}`},
	}, []Tool{{
		Name:        "search_tours",
		Description: "searches",
		Parameters:  map[string]interface{}{"type": "object"},
	}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, err := Collect(stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if resp.Content != "Ищу " {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected merged tool call, got %d", len(resp.ToolCalls))
	}
	if call := resp.ToolCalls[0]; call.ID != "call_1" || call.Name != "search_tours" || call.Arguments != `{"country":4}` {
		t.Fatalf("unexpected tool call %+v", call)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Fatalf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 120 || resp.Usage.CompletionTokens != 15 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIProviderAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached"}}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{APIURL: server.URL, Model: "gpt-test"})
	_, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Provider != "openai" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestOpenAIProviderRequiresModel(t *testing.T) {
	if _, err := NewOpenAIProvider(Config{}).Complete(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error without model")
	}
}
