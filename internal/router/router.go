// Package router is the core completion orchestrator.
//
// Router.Complete runs one blocking pipeline per request: normalize and
// allowlist-check, ALS enrichment, capability gating, breaker and pacer
// fail-fast checks, adapter dispatch under an outer deadline, grounding
// detection, citation extraction and resolution, post-hoc REQUIRED
// enforcement, and a deferred telemetry emit that fires on every outcome.
//
// Key design constraints:
//   - One provider call per run. The router never retries (retries are the
//     SDK's job) and never fails over to another vendor; a request routed to
//     a vendor fails within that vendor.
//   - The caller's request is never mutated. The pipeline works on a shallow
//     copy and the only structural change it makes is the single ALS message
//     insertion.
//   - Telemetry, metrics, and the structured logger are optional and
//     nil-safe.
//   - Exactly one telemetry row per Complete call, on every outcome
//     including fail-fast rejections and cancellation.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-router/internal/als"
	"github.com/nulpointcorp/llm-router/internal/capability"
	"github.com/nulpointcorp/llm-router/internal/citations"
	"github.com/nulpointcorp/llm-router/internal/grounding"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/telemetry"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

// Default outer deadlines around adapter dispatch. Grounded runs get the
// longer budget; the adapters' transport timeout sits below both.
const (
	DefaultUngroundedTimeout = 60 * time.Second
	DefaultGroundedTimeout   = 120 * time.Second
)

// hintDropReason is the recorded reason for every capability-gated drop.
const hintDropReason = "router_capability_gate"

// jsonObjectDirective closes the system prompt on grounded JSON runs against
// OpenAI. With a web_search tool attached, text.format alone does not bind
// the final message, so the directive is part of the prompt itself.
const jsonObjectDirective = "Return exactly one valid JSON object as the final answer, with no text before or after it."

// Options holds optional tuning parameters for a Router. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger for run events. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// Telemetry receives one row per completion. When nil, rows are dropped.
	Telemetry telemetry.Emitter

	// ALS renders ambient location blocks. Requests carrying an ALS context
	// fail when no builder is configured.
	ALS *als.Builder

	// Extractor runs citation extraction. Defaults to the union-of-views
	// extractor for every tenant.
	Extractor *citations.Extractor

	// Resolver unwraps redirect-wrapper citation URLs. When nil, wrapper
	// URLs pass through unresolved.
	Resolver *citations.Resolver

	// Breaker configures the per vendor:model circuit breaker. Zero values
	// use the package defaults.
	Breaker BreakerConfig

	// UngroundedTimeout and GroundedTimeout are the outer dispatch deadlines.
	UngroundedTimeout time.Duration
	GroundedTimeout   time.Duration

	// RelaxRequiredForGoogle lets Google REQUIRED runs pass on unlinked
	// evidence with required_pass_reason="unlinked_google". Default false:
	// unlinked evidence never satisfies REQUIRED.
	RelaxRequiredForGoogle bool

	// EmitUnlinked includes unlinked sources in the response citations list.
	// Telemetry counts both classes either way, and REQUIRED enforcement
	// always uses the anchored set alone.
	EmitUnlinked bool
}

// Router dispatches completions to provider adapters. All dependencies are
// injected via the constructor so they can be replaced with doubles in unit
// tests. Safe for concurrent use.
type Router struct {
	adapters map[providers.Vendor]providers.Adapter
	registry *capability.Registry
	breaker  *Breaker
	pacer    *Pacer

	alsBuilder *als.Builder
	extractor  *citations.Extractor
	resolver   *citations.Resolver

	emitter telemetry.Emitter
	metrics *metrics.Registry
	log     *slog.Logger

	ungroundedTimeout time.Duration
	groundedTimeout   time.Duration
	relaxGoogle       bool
	emitUnlinked      bool
}

// New creates a Router over the given adapters. The registry decides which
// (vendor, model) pairs are routable; adapters decide nothing about policy.
func New(registry *capability.Registry, adapters map[providers.Vendor]providers.Adapter, opts Options) *Router {
	if registry == nil {
		panic("router: capability registry must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ungrounded := opts.UngroundedTimeout
	if ungrounded <= 0 {
		ungrounded = DefaultUngroundedTimeout
	}
	grounded := opts.GroundedTimeout
	if grounded <= 0 {
		grounded = DefaultGroundedTimeout
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = citations.NewExtractor(100)
	}

	breakerCfg := opts.Breaker
	if m := opts.Metrics; m != nil && breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(key, _, to string) {
			m.RecordBreakerTransition(key, to)
		}
	}

	return &Router{
		adapters:          adapters,
		registry:          registry,
		breaker:           NewBreaker(breakerCfg),
		pacer:             NewPacer(),
		alsBuilder:        opts.ALS,
		extractor:         extractor,
		resolver:          opts.Resolver,
		emitter:           opts.Telemetry,
		metrics:           opts.Metrics,
		log:               log,
		ungroundedTimeout: ungrounded,
		groundedTimeout:   grounded,
		relaxGoogle:       opts.RelaxRequiredForGoogle,
		emitUnlinked:      opts.EmitUnlinked,
	}
}

// Breaker exposes the circuit breaker for the management plane.
func (r *Router) Breaker() *Breaker { return r.breaker }

// Complete runs the full pipeline for one request. The returned response is
// non-nil whenever the request got far enough to be attributed to a
// vendor:model, even on failure, so callers always see latency and audit
// metadata.
func (r *Router) Complete(ctx context.Context, req *providers.Request) (resp *providers.Response, err error) {
	start := time.Now()

	if req == nil {
		return nil, llmerr.New(llmerr.KindInvalidRequest, "nil request")
	}

	// Shallow copy: the caller's request is never mutated.
	run := *req
	normErr := r.normalize(&run)

	row := telemetry.NewRow(&run)

	if r.metrics != nil {
		r.metrics.IncInFlight()
	}
	defer func() {
		row.LatencyMS = time.Since(start).Milliseconds()
		if err != nil {
			row.Success = false
			row.ErrorType = string(llmerr.KindOf(err))
		} else {
			row.Success = resp != nil && resp.Success
		}
		if resp != nil {
			if resp.LatencyMS == 0 {
				resp.LatencyMS = row.LatencyMS
			}
			mirrorAudit(resp, &row)
		}
		if r.emitter != nil {
			r.emitter.Emit(row)
		}
		if r.metrics != nil {
			r.metrics.DecInFlight()
			outcome := "ok"
			if err != nil {
				outcome = string(llmerr.KindOf(err))
			}
			r.metrics.RecordCompletion(row.Vendor, row.Model, outcome, run.Grounded, time.Since(start))
		}
		r.logOutcome(ctx, &row, err)
	}()

	if normErr != nil {
		resp = baseResponse(&run)
		return resp, normErr
	}

	// Grounded JSON runs against OpenAI carry the object directive as the
	// last system message; it rides ahead of the ALS block.
	if run.Vendor == providers.VendorOpenAI && run.Grounded && run.JSONMode {
		run.Messages = appendJSONDirective(run.Messages)
	}

	// 2. ALS enrichment, exactly once per request lifetime.
	if run.ALS != nil && !run.ALSApplied {
		if r.alsBuilder == nil {
			resp = baseResponse(&run)
			return resp, llmerr.New(llmerr.KindInvalidRequest,
				"request carries an ALS context but no ALS seed key is configured").
				WithRemediation("set ALS_SEED_KEY, or drop the als_context from the request")
		}
		block, built, alsErr := r.alsBuilder.Build(run.ALS.CountryCode, time.Now())
		if alsErr != nil {
			resp = baseResponse(&run)
			return resp, alsErr
		}
		if built {
			run.Messages = als.Insert(run.Messages, block)
			run.ALSApplied = true
			row.ALSPresent = true
			row.ALSBlockSHA256 = block.SHA256
			row.ALSVariantID = block.VariantID
			row.SeedKeyID = block.SeedKeyID
			row.ALSCountry = block.Country
			row.ALSNFCLength = int32(block.NFCLength)
		} else {
			// No authored template set for the country: the run proceeds
			// un-enriched and the row keeps als_present=false.
			r.log.DebugContext(ctx, "als_skipped_no_templates",
				slog.String("run_id", run.RunID),
				slog.String("country", run.ALS.CountryCode))
		}
	}

	// 3. Capability gate: unsupported hints are dropped with a record,
	// never translated.
	caps, _ := r.registry.Lookup(run.Vendor, run.Model)
	r.applyCapabilityGate(&run, caps, &row)

	// 4. Circuit breaker, per vendor:model key.
	key := run.Key()
	if !r.breaker.Allow(key) {
		label, _ := r.breaker.State(key)
		row.BreakerStatus = label
		if r.metrics != nil {
			r.metrics.RecordBreakerRejection(key)
		}
		resp = baseResponse(&run)
		return resp, llmerr.Newf(llmerr.KindCircuitOpen,
			"circuit breaker is %s for %s", label, key).
			WithRemediation("wait " + r.breaker.Remaining(key).Round(time.Second).String() +
				" for the cooldown to elapse, or route to a different model")
	}
	label, _ := r.breaker.State(key)
	row.BreakerStatus = label

	// 5. Pacer: inside a provider-announced window the call is known to
	// fail, so don't burn it. The router never sleeps.
	if wait := r.pacer.Wait(key); wait > 0 {
		row.PacingDelayMS = wait.Milliseconds()
		r.breaker.ReleaseProbe(key)
		if r.metrics != nil {
			r.metrics.RecordPacerRejection(key)
		}
		resp = baseResponse(&run)
		return resp, llmerr.Newf(llmerr.KindRateLimitedWait,
			"%s is inside a provider pacing window for another %s", key, wait.Round(time.Millisecond)).
			WithRemediation("retry after the window elapses; pacing follows the provider's own Retry-After")
	}

	// 6. Adapter dispatch under the outer deadline.
	adapter := r.adapters[run.Vendor]
	if adapter == nil {
		r.breaker.ReleaseProbe(key)
		resp = baseResponse(&run)
		return resp, llmerr.Newf(llmerr.KindAuthMissing,
			"no adapter configured for vendor %s", run.Vendor).
			WithRemediation("configure credentials for the vendor or route to a configured one")
	}

	timeout := r.ungroundedTimeout
	if run.Grounded {
		timeout = r.groundedTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	presp, dispatchErr := adapter.Complete(dctx, &run)
	r.recordOutcome(key, dispatchErr)

	if dispatchErr != nil {
		resp = baseResponse(&run)
		return resp, r.classifyDispatchErr(dispatchErr)
	}

	resp = presp
	resp.Success = resp.Content != ""
	if resp.Vendor != "" {
		row.Vendor = string(resp.Vendor)
	}
	if resp.Model != "" {
		row.Model = resp.Model
	}
	row.ResponseAPI = resp.ResponseAPI
	row.APIVersion = resp.APIVersion
	row.Region = resp.Region
	row.PromptTokens = int64(resp.Usage.PromptTokens)
	row.CompletionTokens = int64(resp.Usage.CompletionTokens)
	row.TotalTokens = int64(resp.Usage.TotalTokens)
	if resp.Usage.ReasoningTokens > 0 {
		row.SetMeta("reasoning_tokens", strconv.Itoa(resp.Usage.ReasoningTokens))
	}
	if src, ok := resp.Metadata["text_source"].(string); ok {
		row.SetMeta("text_source", src)
	}

	// 7. Grounding detection.
	signals := grounding.Detect(run.Vendor, run.Grounded, resp.Evidence)
	row.GroundedAttempted = signals.Attempted
	row.ToolCallCount = int32(signals.ToolCallCount)
	row.ToolResultCount = int32(signals.ToolResultCount)

	// 8. Citation extraction and resolution.
	var extracted citations.Extraction
	if run.Grounded {
		extracted = r.extractor.Extract(run.Vendor, resp.Evidence, run.TenantID, signals.ToolCallCount)
		row.SetMeta("citations_extractor_version", strconv.Itoa(extracted.Version))

		all := make([]providers.Citation, 0, extracted.Total())
		all = append(all, extracted.Anchored...)
		all = append(all, extracted.Unlinked...)

		if r.resolver != nil && len(all) > 0 {
			var truncated bool
			all, truncated = r.resolver.Resolve(dctx, all)
			if truncated {
				resp.SetMeta("resolver_truncated", true)
				row.SetMeta("resolver_truncated", "true")
				if r.metrics != nil {
					r.metrics.RecordResolverTruncated(string(run.Vendor))
				}
			}
		}
		anchored := countAnchored(all, caps.AnchoredCitationTypes)
		if r.emitUnlinked {
			resp.Citations = all
		} else {
			resp.Citations = filterAnchored(all, caps.AnchoredCitationTypes)
		}
		row.CitationsCount = int32(len(all))
		row.AnchoredCitations = int32(anchored)
		row.UnlinkedSources = int32(len(all) - anchored)
		if len(all) > 0 {
			row.AnchoredCoverage = float64(anchored) / float64(len(all)) * 100
		}
		row.ShapeSet = extracted.ShapeSet

		signals.Finalize(run.Vendor, len(all))
		row.GroundedEffective = signals.Effective
		row.WhyNotGrounded = signals.WhyNot

		if r.metrics != nil {
			r.metrics.RecordGroundedRun(string(run.Vendor), string(run.GroundingMode), signals.Effective)
			r.metrics.AddCitations(string(run.Vendor), anchored, len(all)-anchored)
		}

		// Tools ran but nothing was extracted: sample the evidence shape so
		// the row can tell an empty provider from an extractor gap.
		if signals.ToolCallCount > 0 && len(all) == 0 {
			if auditJSON, mErr := json.Marshal(citations.Audit(resp.Evidence)); mErr == nil {
				row.SetMeta(citations.AuditMetaKey, string(auditJSON))
			}
		}
	}

	// 9. REQUIRED enforcement, post-hoc and vendor-asymmetric.
	verdict := evaluateRequired(run.Vendor, run.GroundingMode, signals,
		int(row.AnchoredCitations), int(row.UnlinkedSources), r.relaxGoogle)
	row.RequiredPassReason = verdict.PassReason
	if verdict.Err != nil {
		resp.Success = false
		return resp, verdict.Err
	}
	if run.Grounded && run.GroundingMode == providers.GroundingAuto && signals.Attempted && row.AnchoredCitations == 0 {
		resp.SetMeta("grounded_evidence_unavailable", true)
		row.SetMeta("grounded_evidence_unavailable", "true")
	}

	if r.metrics != nil {
		r.metrics.AddTokens(string(run.Vendor), row.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	// 10. Telemetry and response; the deferred block finishes the row.
	return resp, nil
}

// normalize validates the request in place: vendor inference, run id
// assignment, message presence, grounding-mode defaults, and the allowlist.
func (r *Router) normalize(run *providers.Request) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}

	if run.Vendor == "" {
		vendor, ok := capability.InferVendor(run.Model)
		if !ok {
			return llmerr.Newf(llmerr.KindModelNotAllowed,
				"cannot infer a vendor for model %q", run.Model).
				WithRemediation("pass an explicit vendor, or use a model with a recognized family prefix")
		}
		run.Vendor = vendor
	}

	if len(run.Messages) == 0 {
		return llmerr.New(llmerr.KindInvalidRequest, "request has no messages")
	}

	// REQUIRED implies grounding; a grounded request without a mode is AUTO.
	if run.GroundingMode == providers.GroundingRequired {
		run.Grounded = true
	}
	if run.Grounded && run.GroundingMode == "" {
		run.GroundingMode = providers.GroundingAuto
	}

	return r.registry.Check(run.Vendor, run.Model)
}

// appendJSONDirective splices the directive in at the end of the leading
// system run, so ALS insertion and the adapter's instruction join both see
// it last. A run that already ends with the directive is returned as is; the
// input slice is never mutated.
func appendJSONDirective(messages []providers.Message) []providers.Message {
	idx := 0
	for idx < len(messages) && messages[idx].Role == providers.RoleSystem {
		idx++
	}
	if idx > 0 && messages[idx-1].Content == jsonObjectDirective {
		return messages
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, providers.Message{Role: providers.RoleSystem, Content: jsonObjectDirective})
	out = append(out, messages[idx:]...)
	return out
}

// applyCapabilityGate drops hints the target model does not support. The
// copied Meta map keeps the caller's map untouched.
func (r *Router) applyCapabilityGate(run *providers.Request, caps capability.Capabilities, row *telemetry.Row) {
	if len(run.Meta) == 0 {
		return
	}

	dropReasoning := false
	if _, ok := run.MetaString(providers.MetaReasoningEffort); ok && !caps.SupportsReasoningEffort {
		dropReasoning = true
	}
	if _, ok := run.MetaString(providers.MetaReasoningSummary); ok && !caps.SupportsReasoningSummary {
		dropReasoning = true
	}

	dropThinking := false
	if _, ok := run.MetaInt(providers.MetaThinkingBudget); ok && !caps.SupportsThinkingBudget {
		dropThinking = true
	}
	if run.MetaBool(providers.MetaIncludeThoughts) && !caps.IncludeThoughtsAllowed {
		dropThinking = true
	}

	if !dropReasoning && !dropThinking {
		return
	}

	meta := make(map[string]any, len(run.Meta))
	for k, v := range run.Meta {
		meta[k] = v
	}
	if dropReasoning {
		delete(meta, providers.MetaReasoningEffort)
		delete(meta, providers.MetaReasoningSummary)
		row.ReasoningHintDropped = true
		row.ReasoningDropReason = hintDropReason
		if r.metrics != nil {
			r.metrics.RecordHintDrop(string(run.Vendor), "reasoning")
		}
	}
	if dropThinking {
		delete(meta, providers.MetaThinkingBudget)
		delete(meta, providers.MetaIncludeThoughts)
		row.ThinkingHintDropped = true
		row.ThinkingDropReason = hintDropReason
		if r.metrics != nil {
			r.metrics.RecordHintDrop(string(run.Vendor), "thinking")
		}
	}
	run.Meta = meta
}

// recordOutcome feeds the breaker from the dispatch result. Only transient
// failures count toward opening. Every other failed outcome, whether a
// permanent upstream error, a timeout, or a cancellation, is neutral: the
// probe slot is released without recording, so a half-open circuit does not
// close on a 401 and a closed-state transient streak is not reset by it.
func (r *Router) recordOutcome(key string, dispatchErr error) {
	if dispatchErr == nil {
		r.breaker.RecordSuccess(key)
		return
	}
	if llmerr.IsTransient(dispatchErr) {
		r.breaker.RecordFailure(key)
		var perr *providers.ProviderError
		if errors.As(dispatchErr, &perr) && perr.StatusCode == 429 {
			r.pacer.Observe(key, perr.RetryAfter)
		}
		return
	}
	r.breaker.ReleaseProbe(key)
}

// classifyDispatchErr maps an adapter failure to the typed error model.
func (r *Router) classifyDispatchErr(dispatchErr error) error {
	if ctxErr := llmerr.FromContext(dispatchErr); ctxErr != nil {
		return ctxErr
	}
	if _, ok := llmerr.As(dispatchErr); ok {
		return dispatchErr
	}
	var perr *providers.ProviderError
	if errors.As(dispatchErr, &perr) {
		return llmerr.Wrap(llmerr.KindUpstream, perr.Message, dispatchErr).
			WithStatus(perr.StatusCode)
	}
	return llmerr.Wrap(llmerr.KindUpstream, "provider call failed", dispatchErr)
}

// requiredVerdict is the outcome of REQUIRED enforcement: a pass reason for
// telemetry, or a typed failure.
type requiredVerdict struct {
	PassReason string
	Err        *llmerr.Error
}

// evaluateRequired is the post-hoc REQUIRED check, a pure function over the
// grounding signals and citation counts. AUTO never fails a run. Unlinked
// evidence never satisfies REQUIRED; the Google relaxation is an explicit,
// recorded exception.
func evaluateRequired(vendor providers.Vendor, mode providers.GroundingMode, s grounding.Signals, anchored, unlinked int, relaxGoogle bool) requiredVerdict {
	if mode != providers.GroundingRequired {
		return requiredVerdict{}
	}
	if !s.Attempted || s.ToolCallCount == 0 {
		return requiredVerdict{Err: llmerr.New(llmerr.KindGroundingRequiredError,
			"grounding is REQUIRED but the provider never invoked a grounding tool").
			WithRemediation("no provider can force web search at request time; " +
				"use AUTO mode if the run may proceed without evidence")}
	}
	if anchored > 0 {
		return requiredVerdict{PassReason: "anchored"}
	}
	if relaxGoogle && vendor != providers.VendorOpenAI && unlinked > 0 {
		return requiredVerdict{PassReason: "unlinked_google"}
	}
	reason := "none"
	return requiredVerdict{
		PassReason: reason,
		Err: llmerr.Newf(llmerr.KindGroundingRequiredFailed,
			"grounding is REQUIRED but no anchored citations were produced (%d unlinked sources)", unlinked).
			WithRemediation("unlinked evidence does not satisfy REQUIRED; " +
				"inspect citations_audit in telemetry to see what the provider returned"),
	}
}

// countAnchored counts citations that are anchored under the vendor's
// anchored-type set. A span alone is not enough; the source type has to be
// one the vendor's evidence model treats as anchoring.
func countAnchored(all []providers.Citation, anchoredTypes map[string]bool) int {
	n := 0
	for _, c := range all {
		if c.Anchored && anchoredTypes[c.SourceType] {
			n++
		}
	}
	return n
}

// filterAnchored keeps only the citations countAnchored would count.
func filterAnchored(all []providers.Citation, anchoredTypes map[string]bool) []providers.Citation {
	out := make([]providers.Citation, 0, len(all))
	for _, c := range all {
		if c.Anchored && anchoredTypes[c.SourceType] {
			out = append(out, c)
		}
	}
	return out
}

// baseResponse is the failure-path response: enough attribution for the
// caller's bookkeeping, no content.
func baseResponse(run *providers.Request) *providers.Response {
	return &providers.Response{
		Vendor: run.Vendor,
		Model:  run.Model,
	}
}

// mirrorAudit copies the finished row's audit trail onto the response
// metadata, so callers see the same record telemetry persisted. The raw ALS
// text is not part of the row and never lands here.
func mirrorAudit(resp *providers.Response, row *telemetry.Row) {
	resp.SetMeta("run_id", row.RunID)
	resp.SetMeta("latency_ms", row.LatencyMS)
	if row.ErrorType != "" {
		resp.SetMeta("error_type", row.ErrorType)
	}
	if row.ALSPresent {
		resp.SetMeta("als_present", true)
		resp.SetMeta("als_block_sha256", row.ALSBlockSHA256)
		resp.SetMeta("als_variant_id", row.ALSVariantID)
		resp.SetMeta("seed_key_id", row.SeedKeyID)
		resp.SetMeta("als_country", row.ALSCountry)
		resp.SetMeta("als_nfc_length", int(row.ALSNFCLength))
	}
	if row.Grounded {
		resp.SetMeta("grounding_mode", row.GroundingMode)
		resp.SetMeta("grounded_attempted", row.GroundedAttempted)
		resp.SetMeta("grounded_effective", row.GroundedEffective)
		resp.SetMeta("tool_call_count", int(row.ToolCallCount))
		resp.SetMeta("tool_result_count", int(row.ToolResultCount))
		if row.WhyNotGrounded != "" {
			resp.SetMeta("why_not_grounded", row.WhyNotGrounded)
		}
		if row.RequiredPassReason != "" {
			resp.SetMeta("required_pass_reason", row.RequiredPassReason)
		}
		resp.SetMeta("citations_count", int(row.CitationsCount))
		resp.SetMeta("anchored_citations_count", int(row.AnchoredCitations))
		resp.SetMeta("unlinked_sources_count", int(row.UnlinkedSources))
		if len(row.ShapeSet) > 0 {
			resp.SetMeta("citations_shape_set", row.ShapeSet)
		}
	}
	if row.ReasoningHintDropped {
		resp.SetMeta("reasoning_hint_dropped", true)
		resp.SetMeta("reasoning_drop_reason", row.ReasoningDropReason)
	}
	if row.ThinkingHintDropped {
		resp.SetMeta("thinking_hint_dropped", true)
		resp.SetMeta("thinking_drop_reason", row.ThinkingDropReason)
	}
	if row.BreakerStatus != "" && row.BreakerStatus != "closed" {
		resp.SetMeta("circuit_breaker_status", row.BreakerStatus)
	}
	if row.PacingDelayMS > 0 {
		resp.SetMeta("router_pacing_delay_ms", row.PacingDelayMS)
	}
}

// logOutcome writes the per-run structured log event. Identifiers and hashes
// only; never message content, never the ALS text.
func (r *Router) logOutcome(ctx context.Context, row *telemetry.Row, err error) {
	attrs := []any{
		slog.String("run_id", row.RunID),
		slog.String("vendor", row.Vendor),
		slog.String("model", row.Model),
		slog.Int64("latency_ms", row.LatencyMS),
		slog.Bool("grounded", row.Grounded),
	}
	if err == nil {
		if row.Grounded {
			attrs = append(attrs,
				slog.Bool("grounded_effective", row.GroundedEffective),
				slog.Int("anchored_citations", int(row.AnchoredCitations)))
		}
		r.log.InfoContext(ctx, "run_completed", attrs...)
		return
	}
	attrs = append(attrs, slog.String("error_type", row.ErrorType), slog.String("error", err.Error()))
	r.log.WarnContext(ctx, "run_failed", attrs...)
}
