package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
)

// newGoogleHandler returns an http.Handler simulating the generateContent
// dialect shared by Gemini direct and Vertex. Point the adapters at it with
//
//	GEMINI_BASE_URL=http://localhost:19003/v1beta
//
// Routing is by path suffix, so both the direct form
// (/v1beta/models/{m}:generateContent) and the Vertex publishers form are
// served by the same handler.
//
// Grounded requests (a googleSearch tool in the payload) produce grounding
// metadata whose chunk URIs point back at this server's own
// /grounding-api-redirect/ endpoint; the redirect resolver then lands on the
// final mock source URLs without touching the network. MOCK_GROUNDING
// degrades the metadata: "unlinked" drops the supports, "none" drops the
// metadata entirely.
func newGoogleHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, ":generateContent"):
			if r.Method != http.MethodPost {
				writeGoogleError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			applyLatency(cfg)
			if shouldError(cfg) {
				writeGoogleError(w, http.StatusInternalServerError, "mock internal error")
				return
			}
			handleGenerate(w, r, cfg, extractModel(path))

		case strings.HasPrefix(path, "/grounding-api-redirect/"):
			handleRedirect(w, r, path)

		case strings.HasSuffix(path, "/models") && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{
				"models": []map[string]any{
					{"name": "models/gemini-2.5-pro", "displayName": "Gemini 2.5 Pro"},
					{"name": "models/gemini-2.0-flash", "displayName": "Gemini 2.0 Flash"},
				},
			})

		default:
			writeGoogleError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", path))
		}
	})

	return mux
}

func handleGenerate(w http.ResponseWriter, r *http.Request, cfg Config, model string) {
	var req struct {
		Contents []any `json:"contents"`
		Tools    []struct {
			GoogleSearch         map[string]any `json:"googleSearch"`
			FunctionDeclarations []struct {
				Name string `json:"name"`
			} `json:"functionDeclarations"`
		} `json:"tools"`
		ToolConfig struct {
			FunctionCallingConfig struct {
				Mode                 string   `json:"mode"`
				AllowedFunctionNames []string `json:"allowedFunctionNames"`
			} `json:"functionCallingConfig"`
		} `json:"toolConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGoogleError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grounded := false
	pinnedFunction := ""
	for _, t := range req.Tools {
		if t.GoogleSearch != nil {
			grounded = true
		}
		for _, fd := range t.FunctionDeclarations {
			pinnedFunction = fd.Name
		}
	}

	content := fakeSentence(cfg.AnswerWords)

	// A pinned function declaration means the structured answer travels as a
	// function call; the turn carries no prose.
	var parts []map[string]any
	if pinnedFunction != "" {
		parts = []map[string]any{{
			"functionCall": map[string]any{
				"name": pinnedFunction,
				"args": map[string]any{"content": content},
			},
		}}
	} else {
		parts = []map[string]any{{"text": content}}
	}

	candidate := map[string]any{
		"content": map[string]any{
			"role":  "model",
			"parts": parts,
		},
		"finishReason": "STOP",
		"index":        0,
	}

	if grounded && cfg.Grounding != "none" {
		candidate["groundingMetadata"] = buildGroundingMetadata(cfg, r.Host, len(content))
	}

	outTokens := cfg.AnswerWords
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []any{candidate},
		"usageMetadata": map[string]int{
			"promptTokenCount":     10,
			"candidatesTokenCount": outTokens,
			"totalTokenCount":      10 + outTokens,
		},
		"responseId":   fmt.Sprintf("mock-%x", rand.Int64()),
		"modelVersion": model,
	})
}

// buildGroundingMetadata assembles chunks behind this server's own redirect
// endpoint, plus one support anchoring the first chunk unless the configured
// grounding mode is "unlinked".
func buildGroundingMetadata(cfg Config, host string, contentLen int) map[string]any {
	chunks := make([]map[string]any, 0, len(mockSources))
	for i, s := range mockSources {
		chunks = append(chunks, map[string]any{
			"web": map[string]any{
				"uri":    fmt.Sprintf("http://%s/grounding-api-redirect/%d", host, i),
				"title":  s.title,
				"domain": s.domain,
			},
		})
	}

	gm := map[string]any{
		"webSearchQueries": []string{"mock web search"},
		"groundingChunks":  chunks,
		"searchEntryPoint": map[string]any{
			"renderedContent": "<div>mock search suggestions</div>",
		},
	}

	if cfg.Grounding != "unlinked" {
		end := contentLen
		if end > 40 {
			end = 40
		}
		gm["groundingSupports"] = []map[string]any{
			{
				"segment": map[string]any{
					"startIndex": 0,
					"endIndex":   end,
				},
				"groundingChunkIndices": []int{0},
			},
		}
	}

	return gm
}

// handleRedirect answers the redirect-wrapper URIs embedded in grounding
// chunks with a 302 to the final source, the way the real backend does.
func handleRedirect(w http.ResponseWriter, r *http.Request, path string) {
	idx, err := strconv.Atoi(strings.TrimPrefix(path, "/grounding-api-redirect/"))
	if err != nil || idx < 0 || idx >= len(mockSources) {
		writeGoogleError(w, http.StatusNotFound, "unknown redirect token")
		return
	}
	http.Redirect(w, r, mockSources[idx].url, http.StatusFound)
}

func writeGoogleError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  "INTERNAL",
		},
	})
}

// extractModel pulls the model name out of a path like
// /v1beta/models/gemini-2.5-pro:generateContent
func extractModel(path string) string {
	rest := path
	if idx := strings.LastIndex(rest, "/models/"); idx >= 0 {
		rest = rest[idx+len("/models/"):]
	}
	if col := strings.Index(rest, ":"); col >= 0 {
		return rest[:col]
	}
	return "gemini-2.5-pro"
}
