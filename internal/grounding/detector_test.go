package grounding

import (
	"testing"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

func TestDetectOpenAI(t *testing.T) {
	ev := &providers.Evidence{
		OpenAI: &providers.OpenAIEvidence{
			Items: []providers.OpenAIItem{
				{Type: "web_search_call", Status: "completed", ResultCount: 4},
				{Type: "web_search_call", Status: "completed", ResultCount: 2},
				{Type: "message"},
			},
		},
	}
	s := Detect(providers.VendorOpenAI, true, ev)
	if s.ToolCallCount != 2 || s.ToolResultCount != 6 {
		t.Fatalf("calls/results = %d/%d, want 2/6", s.ToolCallCount, s.ToolResultCount)
	}
}

func TestDetectGoogle(t *testing.T) {
	ev := &providers.Evidence{
		Google: &providers.GoogleEvidence{
			Candidates: []providers.GoogleCandidate{{
				HasGroundingMetadata: true,
				FunctionCalls:        []string{providers.StructuredEmitFunction, "lookup_weather"},
				WebSearchQueries:     []string{"capital of france"},
				Chunks:               []providers.GoogleChunk{{URI: "https://a.example.com"}},
			}},
		},
	}
	s := Detect(providers.VendorGemini, true, ev)
	// The structured-output emitter must not count; the real function call
	// and the server-side search query do.
	if s.ToolCallCount != 2 {
		t.Fatalf("tool calls = %d, want 2", s.ToolCallCount)
	}
	if s.ToolResultCount != 1 {
		t.Fatalf("tool results = %d, want 1", s.ToolResultCount)
	}
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name      string
		vendor    providers.Vendor
		signals   Signals
		extracted int
		effective bool
		whyNot    string
	}{
		{
			name:      "effective run",
			vendor:    providers.VendorOpenAI,
			signals:   Signals{Attempted: true, ToolCallCount: 1, ToolResultCount: 3},
			extracted: 2,
			effective: true,
		},
		{
			name:    "not attempted",
			vendor:  providers.VendorOpenAI,
			signals: Signals{},
			whyNot:  ReasonNoToolInvocation,
		},
		{
			name:    "attempted but model never searched",
			vendor:  providers.VendorOpenAI,
			signals: Signals{Attempted: true},
			whyNot:  ReasonNoToolInvocation,
		},
		{
			name:    "openai search came back empty",
			vendor:  providers.VendorOpenAI,
			signals: Signals{Attempted: true, ToolCallCount: 1},
			whyNot:  ReasonEmptySearch,
		},
		{
			name:    "google evidence empty",
			vendor:  providers.VendorVertex,
			signals: Signals{Attempted: true, ToolCallCount: 1},
			whyNot:  ReasonEmptyEvidence,
		},
		{
			name:    "results present but extraction empty",
			vendor:  providers.VendorGemini,
			signals: Signals{Attempted: true, ToolCallCount: 1, ToolResultCount: 5},
			whyNot:  ReasonCitationsMissing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.signals
			s.Finalize(tt.vendor, tt.extracted)
			if s.Effective != tt.effective {
				t.Fatalf("effective = %v, want %v", s.Effective, tt.effective)
			}
			if s.WhyNot != tt.whyNot {
				t.Fatalf("why_not = %q, want %q", s.WhyNot, tt.whyNot)
			}
		})
	}
}

func TestDetectNilEvidence(t *testing.T) {
	s := Detect(providers.VendorOpenAI, false, nil)
	if s.ToolCallCount != 0 || s.Attempted {
		t.Fatalf("nil evidence produced signals: %+v", s)
	}
}
