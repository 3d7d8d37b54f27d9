// Package grounding inspects normalized provider responses and computes the
// grounding signals: whether tools were attempted, how often the provider
// invoked them, how much evidence came back, and whether the run counts as
// effectively grounded. Enforcement of REQUIRED mode consumes these signals
// post-hoc; no provider supports forcing web search at request time.
package grounding

import (
	"github.com/nulpointcorp/llm-router/internal/providers"
)

// why_not_grounded taxonomy (closed set).
const (
	ReasonNoToolInvocation = "no_tool_invocation"
	ReasonEmptySearch      = "web_search_empty_results"
	ReasonEmptyEvidence    = "provider_returned_empty_evidence"
	ReasonCitationsMissing = "citations_missing"
)

// Signals is the detector output for one response.
type Signals struct {
	// Attempted records whether the outgoing request carried grounding tools.
	Attempted bool
	// ToolCallCount sums provider tool invocations: OpenAI web_search_call
	// output items; Google function_call parts plus webSearchQueries entries
	// (server-side search never surfaces a function_call).
	ToolCallCount int
	// ToolResultCount sums result items those invocations returned.
	ToolResultCount int
	// Effective is true when tools ran and extraction produced evidence.
	Effective bool
	// WhyNot explains a non-effective run, empty when Effective.
	WhyNot string
}

// Detect counts tool activity in the response evidence. Effective and WhyNot
// are settled later by Finalize, once citation extraction has run.
func Detect(vendor providers.Vendor, attempted bool, ev *providers.Evidence) Signals {
	s := Signals{Attempted: attempted}
	switch vendor {
	case providers.VendorOpenAI:
		for _, item := range ev.TypedItems() {
			switch item.Type {
			case "web_search_call", "tool_call":
				s.ToolCallCount++
				s.ToolResultCount += item.ResultCount
			}
		}
	case providers.VendorGemini, providers.VendorVertex:
		for _, c := range ev.TypedCandidates() {
			for _, name := range c.FunctionCalls {
				// The structured-output emitter is a shape mechanism, not
				// grounding activity.
				if name == providers.StructuredEmitFunction {
					continue
				}
				s.ToolCallCount++
			}
			s.ToolCallCount += len(c.WebSearchQueries)
			s.ToolResultCount += len(c.Chunks)
		}
	}
	return s
}

// Finalize computes grounded_effective from the extraction outcome and
// settles why_not_grounded.
func (s *Signals) Finalize(vendor providers.Vendor, extracted int) {
	s.Effective = s.ToolCallCount > 0 && extracted > 0
	if s.Effective {
		s.WhyNot = ""
		return
	}
	switch {
	case !s.Attempted || s.ToolCallCount == 0:
		s.WhyNot = ReasonNoToolInvocation
	case s.ToolResultCount == 0:
		if vendor == providers.VendorOpenAI {
			s.WhyNot = ReasonEmptySearch
		} else {
			s.WhyNot = ReasonEmptyEvidence
		}
	default:
		// Results exist but nothing was extracted: the audit sample is the
		// debugging entry point for this state.
		s.WhyNot = ReasonCitationsMissing
	}
}
