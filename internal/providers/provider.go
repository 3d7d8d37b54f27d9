// Package providers defines the vendor-neutral request/response model shared
// by the routing engine and the provider adapters (OpenAI Responses, Gemini
// direct, Vertex).
//
// Each adapter lives in its own sub-package and implements the Adapter
// interface. Adapters convert shapes only: they never rewrite prompts, never
// substitute models, and never fall back to another vendor. Evidence needed
// by the grounding detector and the citation extractor is normalized at the
// adapter boundary into both a typed view and a dict view (see evidence.go).
package providers

import (
	"context"
	"fmt"
	"time"
)

// Vendor identifies a provider backend. The union is closed: routing,
// capability gating, and citation semantics are all keyed on it.
type Vendor string

const (
	VendorOpenAI Vendor = "openai"
	VendorGemini Vendor = "gemini_direct"
	VendorVertex Vendor = "vertex"
)

// GroundingMode selects how strictly web grounding is enforced.
// AUTO lets the model decide and never fails the run for missing evidence.
// REQUIRED fails the run post-hoc unless anchored citations were produced.
type GroundingMode string

const (
	GroundingAuto     GroundingMode = "AUTO"
	GroundingRequired GroundingMode = "REQUIRED"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Meta keys recognized by the capability gate and the adapters. Hints the
// target model does not support are dropped by the router before dispatch.
const (
	MetaReasoningEffort  = "reasoning_effort"
	MetaReasoningSummary = "reasoning_summary"
	MetaThinkingBudget   = "thinking_budget"
	MetaIncludeThoughts  = "include_thoughts"
	MetaMaxOutputTokens  = "max_output_tokens"
	MetaTemperature      = "temperature"
	MetaResponseSchema   = "response_schema"
)

// Citation source types.
const (
	SourceAnnotation     = "annotation"
	SourceURLCitation    = "url_citation"
	SourceDirectURI      = "direct_uri"
	SourceV1Join         = "v1_join"
	SourceGroundingChunk = "grounding_chunk"
	SourceRedirectOnly   = "redirect_only"
)

type (
	// Message is a single turn (role + text). ALS marks the ambient location
	// block the router inserted; adapters place it according to their wire
	// shape but never alter its bytes.
	Message struct {
		Role    string
		Content string
		ALS     bool
	}

	// ALSContext carries the caller's locale signals. CountryCode drives the
	// deterministic block selection; Locale and Timezone are advisory.
	ALSContext struct {
		CountryCode string
		Locale      string
		Timezone    string
	}

	// Request — normalized run request. Treated as immutable once validated:
	// the router works on a shallow copy and the only structural change ever
	// made is the single ALS message insertion, guarded by ALSApplied.
	Request struct {
		Vendor        Vendor
		Model         string
		Messages      []Message
		Grounded      bool
		GroundingMode GroundingMode
		JSONMode      bool
		ALS           *ALSContext
		Meta          map[string]any
		TemplateID    string
		RunID         string
		TenantID      string
		ALSApplied    bool
	}

	// Usage — normalized token usage. Adapters map provider-specific synonyms
	// (input/prompt, output/candidates) into these fields.
	Usage struct {
		PromptTokens     int
		CompletionTokens int
		ReasoningTokens  int
		TotalTokens      int
	}

	// Citation is one unit of grounding evidence after extraction.
	// Anchored means the citation has both a resolved URL and a text span in
	// the answer; URI-only evidence stays unlinked.
	Citation struct {
		URL          string
		SourceDomain string
		Title        string
		Snippet      string
		SourceType   string
		Anchored     bool
		StartOffset  int64
		EndOffset    int64
		Raw          map[string]any
	}

	// Response — normalized provider response plus everything the pipeline
	// attaches on the way out (citations, telemetry metadata, latency).
	Response struct {
		Vendor      Vendor
		Model       string
		ResponseAPI string
		APIVersion  string
		Region      string
		Content     string
		Success     bool
		Usage       Usage
		Citations   []Citation
		Evidence    *Evidence
		Metadata    map[string]any
		LatencyMS   int64
	}
)

// SetMeta records a telemetry metadata field, allocating the map on first use.
func (r *Response) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, 8)
	}
	r.Metadata[key] = value
}

// Key returns the vendor:model key used by the circuit breaker and pacer.
func (r *Request) Key() string {
	return string(r.Vendor) + ":" + r.Model
}

// SystemCount returns the number of leading system messages, which is the
// insertion point for the ALS block.
func (r *Request) SystemCount() int {
	n := 0
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			break
		}
		n++
	}
	return n
}

// Adapter is the provider boundary. Complete performs exactly one logical
// call (the OpenAI adapter may issue its single documented plain-text retry)
// and returns a normalized response with evidence attached. HealthCheck is a
// cheap liveness probe for the management plane.
type Adapter interface {
	Name() string
	Vendor() Vendor
	Complete(ctx context.Context, req *Request) (*Response, error)
	HealthCheck(ctx context.Context) error
}

// ProviderError is the typed failure adapters return for upstream errors.
// RetryAfter carries the parsed provider pacing hint (Retry-After or
// x-ratelimit-reset-*) when one was present.
type ProviderError struct {
	Vendor     Vendor
	Model      string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Vendor, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus implements the StatusCoder convention used by the transient
// failure classifier.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// Shared adapter defaults. Retries are the SDK's job (the router never
// retries); the transport timeout is a hang guard below the router's outer
// deadline.
const (
	SDKMaxRetries    = 5
	TransportTimeout = 60 * time.Second
)

// response_api identifiers persisted to telemetry. Rows with
// grounded_effective=true must carry one of these (sink-level CHECK).
const (
	ResponseAPIOpenAI = "responses_sdk"
	ResponseAPIGemini = "gemini_genai"
	ResponseAPIVertex = "vertex_genai"
)

// StructuredEmitFunction is the function declaration Google adapters pin for
// structured output under grounding. Its invocations are shape mechanics,
// not grounding activity, and are excluded from tool-call counting.
const StructuredEmitFunction = "emit_structured_response"

// MetaString reads a string hint from req.Meta.
func (r *Request) MetaString(key string) (string, bool) {
	if r.Meta == nil {
		return "", false
	}
	v, ok := r.Meta[key].(string)
	return v, ok && v != ""
}

// MetaInt reads an integer hint from req.Meta, accepting the numeric types a
// JSON decode or a literal may have produced.
func (r *Request) MetaInt(key string) (int, bool) {
	if r.Meta == nil {
		return 0, false
	}
	switch v := r.Meta[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// MetaBool reads a boolean hint from req.Meta.
func (r *Request) MetaBool(key string) bool {
	if r.Meta == nil {
		return false
	}
	v, _ := r.Meta[key].(bool)
	return v
}

// MetaFloat reads a float hint from req.Meta.
func (r *Request) MetaFloat(key string) (float64, bool) {
	if r.Meta == nil {
		return 0, false
	}
	switch v := r.Meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
