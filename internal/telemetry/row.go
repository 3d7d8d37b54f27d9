// Package telemetry flattens one completion into a single audit row and
// ships it to a sink without ever blocking the routing hot path. Rows are
// buffered on a channel and flushed in batches by a background goroutine;
// when the buffer fills, new rows are dropped and counted rather than
// applying backpressure to callers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

// Row is the flat audit record for one completion. Exactly one row is
// emitted per Complete call, on every outcome including cancellation.
//
// The raw ALS block text never appears here: only its SHA-256, variant id,
// and length travel to the sink.
type Row struct {
	RunID      string    `ch:"run_id" json:"run_id"`
	CreatedAt  time.Time `ch:"created_at" json:"created_at"`
	TemplateID string    `ch:"template_id" json:"template_id,omitempty"`
	TenantID   string    `ch:"tenant_id" json:"tenant_id,omitempty"`
	Vendor     string    `ch:"vendor" json:"vendor"`
	Model      string    `ch:"model" json:"model"`
	LatencyMS  int64     `ch:"latency_ms" json:"latency_ms"`
	Success    bool      `ch:"success" json:"success"`
	ErrorType  string    `ch:"error_type" json:"error_type,omitempty"`

	PromptTokens     int64 `ch:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64 `ch:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int64 `ch:"total_tokens" json:"total_tokens"`

	ALSPresent     bool   `ch:"als_present" json:"als_present"`
	ALSBlockSHA256 string `ch:"als_block_sha256" json:"als_block_sha256,omitempty"`
	ALSVariantID   string `ch:"als_variant_id" json:"als_variant_id,omitempty"`
	SeedKeyID      string `ch:"seed_key_id" json:"seed_key_id,omitempty"`
	ALSCountry     string `ch:"als_country" json:"als_country,omitempty"`
	ALSNFCLength   int32  `ch:"als_nfc_length" json:"als_nfc_length,omitempty"`

	GroundingMode      string `ch:"grounding_mode" json:"grounding_mode,omitempty"`
	Grounded           bool   `ch:"grounded" json:"grounded"`
	GroundedAttempted  bool   `ch:"grounded_attempted" json:"grounded_attempted"`
	GroundedEffective  bool   `ch:"grounded_effective" json:"grounded_effective"`
	ToolCallCount      int32  `ch:"tool_call_count" json:"tool_call_count"`
	ToolResultCount    int32  `ch:"tool_result_count" json:"tool_result_count"`
	WhyNotGrounded     string `ch:"why_not_grounded" json:"why_not_grounded,omitempty"`
	RequiredPassReason string `ch:"required_pass_reason" json:"required_pass_reason,omitempty"`

	CitationsCount    int32    `ch:"citations_count" json:"citations_count"`
	AnchoredCitations int32    `ch:"anchored_citations_count" json:"anchored_citations_count"`
	UnlinkedSources   int32    `ch:"unlinked_sources_count" json:"unlinked_sources_count"`
	AnchoredCoverage  float64  `ch:"anchored_coverage_pct" json:"anchored_coverage_pct"`
	ShapeSet          []string `ch:"citations_shape_set" json:"citations_shape_set,omitempty"`

	ResponseAPI string `ch:"response_api" json:"response_api,omitempty"`
	APIVersion  string `ch:"provider_api_version" json:"provider_api_version,omitempty"`
	Region      string `ch:"region" json:"region,omitempty"`

	ReasoningHintDropped bool   `ch:"reasoning_hint_dropped" json:"reasoning_hint_dropped"`
	ReasoningDropReason  string `ch:"reasoning_drop_reason" json:"reasoning_drop_reason,omitempty"`
	ThinkingHintDropped  bool   `ch:"thinking_hint_dropped" json:"thinking_hint_dropped"`
	ThinkingDropReason   string `ch:"thinking_drop_reason" json:"thinking_drop_reason,omitempty"`

	BreakerStatus string `ch:"circuit_breaker_status" json:"circuit_breaker_status,omitempty"`
	PacingDelayMS int64  `ch:"pacing_delay_ms" json:"pacing_delay_ms"`

	Meta map[string]string `ch:"meta" json:"meta,omitempty"`
}

// NewRow seeds a row from the incoming request. Vendor and model are stamped
// by the router after inference; a missing run id gets a fresh UUID so every
// row is addressable.
func NewRow(req *providers.Request) Row {
	row := Row{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if req == nil {
		return row
	}
	if req.RunID != "" {
		row.RunID = req.RunID
	}
	row.TemplateID = req.TemplateID
	row.TenantID = req.TenantID
	row.Vendor = string(req.Vendor)
	row.Model = req.Model
	row.Grounded = req.Grounded
	row.GroundingMode = string(req.GroundingMode)
	return row
}

// SetMeta records a free-form audit entry, allocating the map lazily.
func (r *Row) SetMeta(key, value string) {
	if value == "" {
		return
	}
	if r.Meta == nil {
		r.Meta = make(map[string]string)
	}
	r.Meta[key] = value
}

// Sanitize enforces the emitter-level invariants right before a row leaves
// the process: effectively-grounded rows must name their response API (the
// sink schema rejects them otherwise, and failing a whole batch over one
// buggy row would lose good data), and the raw ALS text must never ride
// along in the meta map.
func (r *Row) Sanitize(ctx context.Context) {
	if r.GroundedEffective && r.ResponseAPI == "" {
		slog.ErrorContext(ctx, "telemetry_invariant_violation",
			slog.String("run_id", r.RunID),
			slog.String("vendor", r.Vendor),
			slog.String("model", r.Model),
			slog.String("invariant", "grounded rows carry response_api"))
		r.ResponseAPI = "unknown"
	}
	if r.Meta != nil {
		delete(r.Meta, "als_block_text")
	}
}
