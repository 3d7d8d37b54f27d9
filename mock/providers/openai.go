package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// newOpenAIHandler returns an http.Handler that simulates the OpenAI
// Responses API. Point the adapter at it with
//
//	OPENAI_BASE_URL=http://localhost:19001/v1
//
// Grounded requests (a web_search tool in the payload) produce a
// web_search_call item plus a url_citation annotation on the message,
// matching the anchored shape the extractor consumes. MOCK_GROUNDING
// degrades that: "unlinked" keeps the tool call but drops the annotations,
// "none" answers without invoking the tool at all.
func newOpenAIHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Responses API — the only completion surface the router calls.
	mux.HandleFunc("/v1/responses", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal server error", "server_error")
			return
		}

		var req struct {
			Model string `json:"model"`
			Tools []struct {
				Type string `json:"type"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}

		model := req.Model
		if model == "" {
			model = "gpt-5"
		}

		grounded := false
		for _, t := range req.Tools {
			if t.Type == "web_search" {
				grounded = true
			}
		}

		content := fakeSentence(cfg.AnswerWords)
		output := buildResponsesOutput(cfg, content, grounded)

		outTokens := cfg.AnswerWords
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         fmt.Sprintf("resp_mock%x", rand.Int64()),
			"object":     "response",
			"created_at": time.Now().Unix(),
			"status":     "completed",
			"model":      model,
			"output":     output,
			"usage": map[string]any{
				"input_tokens":  10,
				"output_tokens": outTokens,
				"total_tokens":  10 + outTokens,
				"output_tokens_details": map[string]int{
					"reasoning_tokens": 0,
				},
			},
		})
	})

	// Models list (used by health check)
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "gpt-5", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "gpt-5-mini", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "gpt-4o", "object": "model", "created": 1710000000, "owned_by": "openai"},
			},
		})
	})

	// Catch-all — some SDKs hit sub-paths
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
	})

	return mux
}

// buildResponsesOutput assembles the output array. Grounded runs lead with a
// web_search_call; the message's annotations depend on the grounding mode.
func buildResponsesOutput(cfg Config, content string, grounded bool) []map[string]any {
	message := map[string]any{
		"type":   "message",
		"id":     fmt.Sprintf("msg_mock%x", rand.Int64()),
		"status": "completed",
		"role":   "assistant",
		"content": []map[string]any{
			{
				"type":        "output_text",
				"text":        content,
				"annotations": []any{},
			},
		},
	}

	if !grounded || cfg.Grounding == "none" {
		return []map[string]any{message}
	}

	results := make([]map[string]string, 0, len(mockSources))
	for _, s := range mockSources {
		results = append(results, map[string]string{"url": s.url, "title": s.title})
	}
	searchCall := map[string]any{
		"type":   "web_search_call",
		"id":     fmt.Sprintf("ws_mock%x", rand.Int64()),
		"status": "completed",
		"action": map[string]any{
			"type":    "search",
			"query":   "mock web search",
			"results": results,
		},
	}

	if cfg.Grounding != "unlinked" {
		end := len(content)
		if end > 40 {
			end = 40
		}
		message["content"] = []map[string]any{
			{
				"type": "output_text",
				"text": content,
				"annotations": []map[string]any{
					{
						"type":        "url_citation",
						"url":         mockSources[0].url,
						"title":       mockSources[0].title,
						"start_index": 0,
						"end_index":   end,
					},
				},
			},
		}
	}

	return []map[string]any{searchCall, message}
}
