package providers

// Evidence carries the provider response in two parallel views: the typed
// view the SDK decoded, and the dict view (the same payload as generic maps).
// SDK minor versions have historically moved fields between the two, so the
// citation extractor consults both and unions the results instead of trusting
// either alone.
type Evidence struct {
	OpenAI *OpenAIEvidence
	Google *GoogleEvidence
	// Dict is the full provider response decoded generically. For OpenAI it
	// comes from the raw response JSON; for Google it is the SDK response
	// re-marshaled, which preserves the wire field names.
	Dict map[string]any
}

type (
	// OpenAIEvidence is the typed walk of a Responses API output array.
	OpenAIEvidence struct {
		Items []OpenAIItem
	}

	// OpenAIItem is one output item. ResultCount is best-effort for
	// web_search_call items (taken from the dict view when exposed).
	OpenAIItem struct {
		Type        string
		Status      string
		ResultCount int
		Blocks      []OpenAIBlock
	}

	// OpenAIBlock is one content block of a message item.
	OpenAIBlock struct {
		Type        string
		Text        string
		Annotations []OpenAIAnnotation
	}

	// OpenAIAnnotation is a typed annotation on a text block.
	OpenAIAnnotation struct {
		Type       string
		URL        string
		Title      string
		StartIndex int64
		EndIndex   int64
	}
)

type (
	// GoogleEvidence is the typed walk of a generateContent response.
	GoogleEvidence struct {
		Candidates []GoogleCandidate
	}

	// GoogleCandidate carries the grounding-relevant parts of one candidate.
	GoogleCandidate struct {
		HasGroundingMetadata bool
		Chunks               []GoogleChunk
		Supports             []GoogleSupport
		Citations            []GoogleCitation
		FunctionCalls        []string
		WebSearchQueries     []string
	}

	// GoogleChunk is one groundingChunks entry (URI-only evidence).
	GoogleChunk struct {
		URI    string
		Title  string
		Domain string
	}

	// GoogleSupport links answer text segments to chunk indices.
	GoogleSupport struct {
		ChunkIndices []int
		StartIndex   int64
		EndIndex     int64
		Text         string
	}

	// GoogleCitation is one citationMetadata entry. SourceID is only present
	// in the legacy v1 shape where citations join against citedSources.
	GoogleCitation struct {
		URI        string
		Title      string
		SourceID   string
		StartIndex int64
		EndIndex   int64
	}
)

// DictCandidates returns the candidates array of the dict view, nil when the
// view is missing or shaped differently.
func (e *Evidence) DictCandidates() []map[string]any {
	if e == nil || e.Dict == nil {
		return nil
	}
	return dictList(e.Dict, "candidates")
}

// DictOutput returns the output array of the dict view (OpenAI Responses
// shape), nil when missing.
func (e *Evidence) DictOutput() []map[string]any {
	if e == nil || e.Dict == nil {
		return nil
	}
	return dictList(e.Dict, "output")
}

// TypedCandidates returns the typed Google candidates, nil-safe.
func (e *Evidence) TypedCandidates() []GoogleCandidate {
	if e == nil || e.Google == nil {
		return nil
	}
	return e.Google.Candidates
}

// TypedItems returns the typed OpenAI output items, nil-safe.
func (e *Evidence) TypedItems() []OpenAIItem {
	if e == nil || e.OpenAI == nil {
		return nil
	}
	return e.OpenAI.Items
}

// dictList extracts m[key] as a list of maps, tolerating nil and non-map
// elements (skipped).
func dictList(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if mm, ok := item.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// DictStr reads a string from a generic map under the first key that holds
// one. Callers pass wire-name synonym sets (camelCase and snake_case).
func DictStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// DictInt reads an integer from a generic map under the first key that holds
// a numeric value.
func DictInt(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v), true
		case int:
			return int64(v), true
		case int64:
			return v, true
		case int32:
			return int64(v), true
		}
	}
	return 0, false
}

// DictList reads a list of maps under the first key that holds one.
func DictList(m map[string]any, keys ...string) []map[string]any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if out := dictList(m, k); out != nil {
			return out
		}
	}
	return nil
}

// DictMap reads a nested map under the first key that holds one.
func DictMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}
