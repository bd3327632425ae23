package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func TestOpenAIChatter_Chat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(`{"intent":"FORECAST"}`))
	}))
	defer srv.Close()

	c := NewOpenAIChatter("test-key", srv.URL+"/v1/")
	out, err := c.Chat(context.Background(), "test-model", []Message{
		{Role: RoleSystem, Content: "classify"},
		{Role: RoleUser, Content: "forecast please"},
	}, &Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"intent":"FORECAST"}` {
		t.Errorf("got %q", out)
	}

	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotBody["response_format"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
}

func TestOpenAIChatter_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIChatter("k", srv.URL).Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindUnavailable || !IsRetryable(err) {
		t.Errorf("err = %v (kind %s), want retryable unavailable", err, KindOf(err))
	}
}

func TestOpenAIChatter_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "x", "choices": []any{}})
	}))
	defer srv.Close()

	_, err := NewOllamaChatter(srv.URL).Chat(context.Background(), "llama3", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if KindOf(err) != KindEmpty {
		t.Errorf("err = %v, want empty response", err)
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleAssistant, Content: "r"},
	})
	if sys != "a\n\nb" {
		t.Errorf("sys = %q", sys)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("rest = %+v", rest)
	}
}

func TestConverters(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}

	g := toGeminiContents(msgs)
	if len(g) != 2 || g[0].Role != "user" || g[1].Role != "model" {
		t.Errorf("gemini roles wrong: %v %v", g[0].Role, g[1].Role)
	}

	a := toAnthropicMessages(msgs)
	if len(a) != 2 || string(a[1].Role) != "assistant" || *a[0].Content[0].Text != "q" {
		t.Errorf("anthropic conversion wrong: %+v", a)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "mystery"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNew_WrapsWithRetry(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "ollama", MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*retryChatter); !ok {
		t.Errorf("New returned %T, want retrying chatter", c)
	}
}
