package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Nara-Wallet/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
	client, err := NewClient(Config{APIKey: "k", BaseURL: "https://example.test/v1/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != defaultModelName || client.baseURL != "https://example.test/v1" {
		t.Fatalf("unexpected defaults: %s %s", client.model, client.baseURL)
	}
}

func TestGenerateReturnsToolCalls(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_bitcoin_balance","arguments":"{}"}},
			{"id":"call_2","type":"function","function":{"name":"send_solana","arguments":"{\"destinationAddress\":\"abc\",\"amount\":1}"}}
		]}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "what is my balance"}},
		Tools:       []llm.Tool{{Name: "get_bitcoin_balance", Description: "balance", Parameters: map[string]any{"type": "object"}}},
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Calls) != 2 || resp.Calls[0].Name != "get_bitcoin_balance" || resp.Calls[1].ID != "call_2" {
		t.Fatalf("unexpected calls: %+v", resp.Calls)
	}
	if !strings.Contains(resp.Calls[1].Arguments, "destinationAddress") {
		t.Fatalf("arguments should be passed through: %q", resp.Calls[1].Arguments)
	}

	if captured.Authorization != "Bearer test" {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["model"] != defaultModelName {
		t.Fatalf("unexpected model: %v", captured.Body["model"])
	}
	tools, ok := captured.Body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools missing in request: %v", captured.Body["tools"])
	}
	if captured.Body["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("unexpected max_tokens: %v", captured.Body["max_tokens"])
	}
}

func TestGenerateSendsToolResults(t *testing.T) {
	var messages []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
			Tools    []any            `json:"tools"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		messages = body.Messages
		if len(body.Tools) != 0 {
			t.Errorf("second round must not offer tools")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Your balance is 1 BTC  "}}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "balance"},
		{Role: llm.RoleAssistant, Calls: []llm.FunctionCall{{ID: "call_1", Name: "get_bitcoin_balance", Arguments: "{}"}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `"100000000"`},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Your balance is 1 BTC" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(messages) != 3 {
		t.Fatalf("unexpected history: %v", messages)
	}
	if messages[1]["content"] != nil || messages[1]["tool_calls"] == nil {
		t.Fatalf("assistant call message malformed: %v", messages[1])
	}
	if messages[2]["role"] != "tool" || messages[2]["tool_call_id"] != "call_1" {
		t.Fatalf("tool message malformed: %v", messages[2])
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if _, err := client.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
