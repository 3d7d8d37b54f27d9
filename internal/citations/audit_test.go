package citations

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

func googleAuditEvidence() *providers.Evidence {
	return &providers.Evidence{
		Dict: map[string]any{
			"candidates": []any{
				map[string]any{
					"finishReason": "STOP",
					"content":      map[string]any{"parts": []any{map[string]any{"text": "secret answer body"}}},
					"groundingMetadata": map[string]any{
						"webSearchQueries": []any{"capital of france", "paris population"},
						"groundingChunks": []any{
							map[string]any{"web": map[string]any{"uri": "https://a.example.com", "title": "reach me at alice@example.com"}},
							map[string]any{"web": map[string]any{"uri": "https://b.example.com"}},
							map[string]any{"web": map[string]any{"uri": "https://c.example.com"}},
						},
						"groundingSupports": []any{},
					},
				},
			},
		},
	}
}

func TestAuditSamplesShape(t *testing.T) {
	audit := Audit(googleAuditEvidence())

	raw, err := json.Marshal(audit)
	if err != nil {
		t.Fatalf("audit not serializable: %v", err)
	}
	if len(raw) > auditMaxBytes {
		t.Fatalf("audit size %d exceeds cap %d", len(raw), auditMaxBytes)
	}
	s := string(raw)

	for _, want := range []string{"groundingMetadata", "groundingChunks_sample", "webSearchQueries_sample", "finishReason"} {
		if !strings.Contains(s, want) {
			t.Errorf("audit missing %q: %s", want, s)
		}
	}
	// Keys of the candidate appear; the answer body must not.
	if strings.Contains(s, "secret answer body") {
		t.Fatalf("audit leaked answer content: %s", s)
	}
	// Empty arrays are not sampled.
	if strings.Contains(s, "groundingSupports_sample") {
		t.Fatalf("audit sampled an empty array: %s", s)
	}
	// First-two-items rule.
	if strings.Contains(s, "c.example.com") {
		t.Fatalf("audit sampled more than two items: %s", s)
	}
	if !strings.Contains(s, "a.example.com") || !strings.Contains(s, "b.example.com") {
		t.Fatalf("audit lost the first two chunk samples: %s", s)
	}
}

func TestAuditScrubsPII(t *testing.T) {
	audit := Audit(googleAuditEvidence())
	raw, _ := json.Marshal(audit)
	s := string(raw)
	if strings.Contains(s, "alice@example.com") {
		t.Fatalf("audit leaked an email address: %s", s)
	}
	if !strings.Contains(s, "[email]") {
		t.Fatalf("email not masked: %s", s)
	}
}

func TestAuditTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 500)
	ev := &providers.Evidence{
		Dict: map[string]any{
			"candidates": []any{
				map[string]any{
					"groundingMetadata": map[string]any{
						"webSearchQueries": []any{long},
					},
				},
			},
		},
	}
	raw, _ := json.Marshal(Audit(ev))
	if strings.Contains(string(raw), long) {
		t.Fatal("long string not truncated")
	}
	if !strings.Contains(string(raw), "...") {
		t.Fatal("truncation marker missing")
	}
}

func TestAuditCapDegradesToKeys(t *testing.T) {
	// Enough sampled content to blow the cap; the audit must fall back to
	// key shapes instead of truncating JSON mid-stream.
	queries := make([]any, 0, 2)
	queries = append(queries, strings.Repeat("q", 79), strings.Repeat("r", 79))
	chunks := make([]any, 0, 2)
	for i := 0; i < 2; i++ {
		chunks = append(chunks, map[string]any{"web": map[string]any{
			"uri":     "https://example.com/" + strings.Repeat("p", 70),
			"title":   strings.Repeat("t", 79),
			"domain":  strings.Repeat("d", 79),
			"snippet": strings.Repeat("s", 79),
		}})
	}
	ev := &providers.Evidence{
		Dict: map[string]any{
			"candidates": []any{
				map[string]any{
					"groundingMetadata": map[string]any{
						"webSearchQueries":  queries,
						"groundingChunks":   chunks,
						"searchEntryPoint":  map[string]any{"renderedContent": strings.Repeat("h", 400)},
						"retrievalMetadata": map[string]any{"note": strings.Repeat("n", 400)},
					},
				},
			},
		},
	}

	audit := Audit(ev)
	raw, err := json.Marshal(audit)
	if err != nil {
		t.Fatalf("audit not serializable: %v", err)
	}
	if len(raw) > auditMaxBytes {
		t.Fatalf("capped audit still %d bytes", len(raw))
	}
	if strings.Contains(string(raw), "_sample") {
		t.Fatalf("degraded audit kept samples: %s", raw)
	}
	if !strings.Contains(string(raw), "groundingChunks") {
		t.Fatalf("degraded audit lost key shapes: %s", raw)
	}
}

func TestAuditEmptyEvidence(t *testing.T) {
	audit := Audit(nil)
	if audit["note"] == nil {
		t.Fatalf("nil evidence audit = %v", audit)
	}
	audit = Audit(&providers.Evidence{OpenAI: &providers.OpenAIEvidence{}})
	if audit["note"] == nil {
		t.Fatalf("typed-only audit = %v", audit)
	}
}
