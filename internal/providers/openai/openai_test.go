package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New("mock-api-key", WithBaseURL(srv.URL))
}

func groundedJSONRequest() *providers.Request {
	return &providers.Request{
		Vendor: providers.VendorOpenAI,
		Model:  "gpt-5",
		Messages: []providers.Message{
			{Role: "system", Content: "You are terse."},
			{Role: "system", Content: "Respond in valid JSON."},
			{Role: "user", Content: "Ambient context line.", ALS: true},
			{Role: "user", Content: "What changed today?"},
		},
		Grounded:      true,
		GroundingMode: providers.GroundingAuto,
		JSONMode:      true,
		RunID:         "run-mock-1",
	}
}

func searchResponseBody() map[string]any {
	return map[string]any{
		"id":         "resp_123",
		"object":     "response",
		"created_at": 0,
		"model":      "gpt-5",
		"status":     "completed",
		"output": []any{
			map[string]any{
				"id":     "ws_1",
				"type":   "web_search_call",
				"status": "completed",
			},
			map[string]any{
				"id":     "msg_1",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{
					map[string]any{
						"type": "output_text",
						"text": `{"answer":"grounded"}`,
						"annotations": []any{
							map[string]any{
								"type":        "url_citation",
								"url":         "https://example.com/article",
								"title":       "Example Article",
								"start_index": 0,
								"end_index":   21,
							},
						},
					},
				},
			},
		},
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
			"total_tokens":  15,
			"output_tokens_details": map[string]any{
				"reasoning_tokens": 2,
			},
		},
	}
}

func TestAdapter_Identity(t *testing.T) {
	a := New("key")
	if a.Name() != "openai" {
		t.Fatalf("expected 'openai', got %q", a.Name())
	}
	if a.Vendor() != providers.VendorOpenAI {
		t.Fatalf("expected vendor openai, got %q", a.Vendor())
	}
}

func TestAdapter_GroundedJSONPayload(t *testing.T) {
	var body map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("expected path to end with /responses, got %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer mock-api-key" {
			t.Errorf("missing or wrong Authorization header: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponseBody())
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	resp, err := a.Complete(context.Background(), groundedJSONRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Outgoing payload shape.
	instructions, _ := body["instructions"].(string)
	if instructions != "You are terse.\n\nRespond in valid JSON." {
		t.Errorf("unexpected instructions: %q", instructions)
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected exactly one tool, got %d", len(tools))
	}
	if tool, _ := tools[0].(map[string]any); tool["type"] != "web_search" {
		t.Errorf("expected web_search tool, got %v", tools[0])
	}
	if body["tool_choice"] != "auto" {
		t.Errorf("expected tool_choice auto, got %v", body["tool_choice"])
	}
	text, _ := body["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("expected json_object text format, got %v", format)
	}
	input, _ := body["input"].([]any)
	if len(input) != 2 {
		t.Fatalf("expected 2 input items (ambient block + user), got %d", len(input))
	}
	first, _ := input[0].(map[string]any)
	if first["content"] != "Ambient context line." {
		t.Errorf("expected ambient block as first input item, got %v", first["content"])
	}

	// Normalized response.
	if resp.Content != `{"answer":"grounded"}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.ResponseAPI != providers.ResponseAPIOpenAI {
		t.Errorf("expected response_api %q, got %q", providers.ResponseAPIOpenAI, resp.ResponseAPI)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 || resp.Usage.ReasoningTokens != 2 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if got := resp.Metadata["text_source"]; got != "message" {
		t.Errorf("expected text_source=message, got %v", got)
	}

	items := resp.Evidence.TypedItems()
	if len(items) != 2 {
		t.Fatalf("expected 2 evidence items, got %d", len(items))
	}
	if items[0].Type != "web_search_call" {
		t.Errorf("expected first item web_search_call, got %q", items[0].Type)
	}
	anns := items[1].Blocks[0].Annotations
	if len(anns) != 1 || anns[0].URL != "https://example.com/article" {
		t.Errorf("unexpected annotations: %+v", anns)
	}
	if resp.Evidence.Dict == nil {
		t.Error("expected dict view to be populated")
	}
}

func TestAdapter_ReasoningHintForwarded(t *testing.T) {
	var body map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(searchResponseBody())
	}))
	defer srv.Close()

	req := groundedJSONRequest()
	req.Meta = map[string]any{providers.MetaReasoningEffort: "low"}

	a := newTestAdapter(srv)
	if _, err := a.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reasoning, _ := body["reasoning"].(map[string]any)
	if reasoning["effort"] != "low" {
		t.Errorf("expected reasoning.effort=low, got %v", body["reasoning"])
	}
}

func TestAdapter_MultiBlockTextJoined(t *testing.T) {
	body := map[string]any{
		"id":         "resp_multi",
		"object":     "response",
		"created_at": 0,
		"model":      "gpt-5",
		"status":     "completed",
		"output": []any{
			map[string]any{
				"id":     "msg_1",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{
					map[string]any{"type": "output_text", "text": "First line.", "annotations": []any{}},
					map[string]any{"type": "output_text", "text": "", "annotations": []any{}},
					map[string]any{"type": "output_text", "text": "Second line.", "annotations": []any{}},
				},
			},
			map[string]any{
				"id":     "msg_2",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{
					map[string]any{"type": "output_text", "text": "Third line.", "annotations": []any{}},
				},
			},
		},
		"usage": map[string]any{"input_tokens": 5, "output_tokens": 9, "total_tokens": 14},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	resp, err := a.Complete(context.Background(), groundedJSONRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Blocks join with a newline; empty blocks add no separator.
	if want := "First line.\nSecond line.\nThird line."; resp.Content != want {
		t.Fatalf("content = %q, want %q", resp.Content, want)
	}
}

func TestAdapter_EmptyTextRetry(t *testing.T) {
	var calls atomic.Int64
	var secondBody map[string]any

	toolOnlyBody := map[string]any{
		"id":         "resp_1",
		"object":     "response",
		"created_at": 0,
		"model":      "gpt-5",
		"status":     "completed",
		"output": []any{
			map[string]any{"id": "ws_1", "type": "web_search_call", "status": "completed"},
		},
		"usage": map[string]any{"input_tokens": 8, "output_tokens": 0, "total_tokens": 8},
	}
	plainBody := map[string]any{
		"id":         "resp_2",
		"object":     "response",
		"created_at": 0,
		"model":      "gpt-5",
		"status":     "completed",
		"output": []any{
			map[string]any{
				"id":     "msg_1",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{
					map[string]any{"type": "output_text", "text": "Plain answer.", "annotations": []any{}},
				},
			},
		},
		"usage": map[string]any{"input_tokens": 9, "output_tokens": 4, "total_tokens": 13},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_ = json.NewEncoder(w).Encode(toolOnlyBody)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&secondBody)
		_ = json.NewEncoder(w).Encode(plainBody)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	resp, err := a.Complete(context.Background(), groundedJSONRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 upstream calls, got %d", got)
	}
	if _, hasTools := secondBody["tools"]; hasTools {
		t.Error("retry request must not carry tools")
	}
	instructions, _ := secondBody["instructions"].(string)
	if !strings.Contains(instructions, plainTextHint) {
		t.Errorf("retry instructions missing plain-text hint: %q", instructions)
	}
	if resp.Content != "Plain answer." {
		t.Errorf("expected retry text, got %q", resp.Content)
	}
	if got := resp.Metadata["text_source"]; got != "retry" {
		t.Errorf("expected text_source=retry, got %v", got)
	}
	// Evidence stays with the first call, where the tool activity happened.
	if len(resp.Evidence.TypedItems()) != 1 || resp.Evidence.TypedItems()[0].Type != "web_search_call" {
		t.Errorf("expected evidence from first call, got %+v", resp.Evidence.TypedItems())
	}
	if resp.Usage.TotalTokens != 21 {
		t.Errorf("expected summed usage 21, got %d", resp.Usage.TotalTokens)
	}
}

func TestAdapter_ErrorMapping(t *testing.T) {
	errBody := map[string]any{
		"error": map[string]any{
			"message": "Invalid request payload",
			"type":    "invalid_request_error",
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errBody)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	_, err := a.Complete(context.Background(), groundedJSONRequest())
	if err == nil {
		t.Fatal("expected error for 400, got nil")
	}

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *providers.ProviderError, got %T: %v", err, err)
	}
	if provErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", provErr.StatusCode)
	}
	if provErr.Vendor != providers.VendorOpenAI {
		t.Errorf("expected vendor openai, got %q", provErr.Vendor)
	}
	if provErr.RetryAfter.Seconds() != 7 {
		t.Errorf("expected RetryAfter 7s, got %v", provErr.RetryAfter)
	}
}
