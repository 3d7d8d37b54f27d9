package router

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-router/internal/als"
	"github.com/nulpointcorp/llm-router/internal/capability"
	"github.com/nulpointcorp/llm-router/internal/citations"
	"github.com/nulpointcorp/llm-router/internal/grounding"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/telemetry"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

// ── test doubles ──────────────────────────────────────────────────────────────

// stubAdapter is a scriptable Adapter that records what the router sent it.
type stubAdapter struct {
	vendor providers.Vendor
	fn     func(ctx context.Context, req *providers.Request) (*providers.Response, error)

	mu    sync.Mutex
	calls int
	last  *providers.Request
}

func (s *stubAdapter) Name() string                          { return "stub-" + string(s.vendor) }
func (s *stubAdapter) Vendor() providers.Vendor              { return s.vendor }
func (s *stubAdapter) HealthCheck(ctx context.Context) error { return nil }

func (s *stubAdapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()
	return s.fn(ctx, req)
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubAdapter) lastRequest() *providers.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// captureEmitter collects rows synchronously for assertions.
type captureEmitter struct {
	mu   sync.Mutex
	rows []telemetry.Row
}

func (c *captureEmitter) Emit(row telemetry.Row) {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

func (c *captureEmitter) last(t *testing.T) telemetry.Row {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rows) == 0 {
		t.Fatal("no telemetry row emitted")
	}
	return c.rows[len(c.rows)-1]
}

// ── fixtures ──────────────────────────────────────────────────────────────────

func testRegistry() *capability.Registry {
	return capability.NewRegistry(capability.Allowlists{
		OpenAI: []string{"gpt-5", "gpt-4o"},
		Gemini: []string{"gemini-2.5-pro"},
		Vertex: []string{"gemini-2.5-pro", "gemini-2.0-flash"},
	})
}

func newTestRouter(t *testing.T, adapters map[providers.Vendor]providers.Adapter, opts Options) (*Router, *captureEmitter) {
	t.Helper()
	sink := &captureEmitter{}
	opts.Telemetry = sink
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return New(testRegistry(), adapters, opts), sink
}

func chatRequest(model string) *providers.Request {
	return &providers.Request{
		Model: model,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "You are terse."},
			{Role: providers.RoleUser, Content: "What changed today?"},
		},
	}
}

func okResponse(req *providers.Request, api string) *providers.Response {
	return &providers.Response{
		Vendor:      req.Vendor,
		Model:       req.Model,
		ResponseAPI: api,
		APIVersion:  "v1",
		Content:     "All clear.",
		Usage:       providers.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}
}

// googleEvidence builds a candidate with two grounding chunks; when anchored
// is true, a support references the first chunk.
func googleEvidence(anchored bool) *providers.Evidence {
	cand := providers.GoogleCandidate{
		HasGroundingMetadata: true,
		Chunks: []providers.GoogleChunk{
			{URI: "https://example.com/report", Title: "Report", Domain: "example.com"},
			{URI: "https://example.org/background", Title: "Background", Domain: "example.org"},
		},
		WebSearchQueries: []string{"example report"},
	}
	if anchored {
		cand.Supports = []providers.GoogleSupport{{
			ChunkIndices: []int{0},
			StartIndex:   0,
			EndIndex:     24,
			Text:         "According to the report,",
		}}
	}
	return &providers.Evidence{Google: &providers.GoogleEvidence{Candidates: []providers.GoogleCandidate{cand}}}
}

// searchOnlyEvidence is a candidate that searched but brought back nothing.
func searchOnlyEvidence() *providers.Evidence {
	return &providers.Evidence{Google: &providers.GoogleEvidence{Candidates: []providers.GoogleCandidate{{
		HasGroundingMetadata: true,
		WebSearchQueries:     []string{"example report"},
	}}}}
}

func openaiEvidence() *providers.Evidence {
	return &providers.Evidence{OpenAI: &providers.OpenAIEvidence{Items: []providers.OpenAIItem{
		{Type: "web_search_call", Status: "completed", ResultCount: 3},
		{Type: "message", Blocks: []providers.OpenAIBlock{{
			Type: "output_text",
			Text: "Answer text with a source.",
			Annotations: []providers.OpenAIAnnotation{{
				Type:       "url_citation",
				URL:        "https://example.com/a",
				Title:      "A",
				StartIndex: 0,
				EndIndex:   12,
			}},
		}}},
	}}}
}

func wantKind(t *testing.T, err error, kind llmerr.Kind) *llmerr.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got nil error", kind)
	}
	e, ok := llmerr.As(err)
	if !ok {
		t.Fatalf("want %s, got untyped error: %v", kind, err)
	}
	if e.Kind != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", e.Kind, kind, e)
	}
	return e
}

func hasShape(set []string, shape string) bool {
	for _, s := range set {
		if s == shape {
			return true
		}
	}
	return false
}

// ── dispatch and normalization ────────────────────────────────────────────────

func TestCompleteSuccess(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	req := chatRequest("gpt-5")
	req.RunID = "run-fixed-1"
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !resp.Success || resp.Content != "All clear." {
		t.Fatalf("unexpected response: success=%v content=%q", resp.Success, resp.Content)
	}
	if resp.LatencyMS < 0 {
		t.Fatalf("latency = %d", resp.LatencyMS)
	}
	if resp.Metadata["run_id"] != "run-fixed-1" {
		t.Fatalf("run_id metadata = %v", resp.Metadata["run_id"])
	}

	row := sink.last(t)
	if row.RunID != "run-fixed-1" || !row.Success || row.ErrorType != "" {
		t.Fatalf("row = %+v", row)
	}
	if row.Vendor != "openai" || row.Model != "gpt-5" {
		t.Fatalf("row attribution = %s/%s", row.Vendor, row.Model)
	}
	if row.ResponseAPI != providers.ResponseAPIOpenAI {
		t.Fatalf("row response_api = %q", row.ResponseAPI)
	}
	if row.PromptTokens != 12 || row.CompletionTokens != 7 || row.TotalTokens != 19 {
		t.Fatalf("row tokens = %d/%d/%d", row.PromptTokens, row.CompletionTokens, row.TotalTokens)
	}
}

func TestCompleteAssignsRunID(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	if _, err := r.Complete(context.Background(), chatRequest("gpt-5")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	row := sink.last(t)
	if row.RunID == "" {
		t.Fatal("row must carry a generated run id")
	}
	if got := stub.lastRequest().RunID; got != row.RunID {
		t.Fatalf("adapter saw run id %q, row has %q", got, row.RunID)
	}
}

func TestCompleteVendorInference(t *testing.T) {
	openaiStub := &stubAdapter{vendor: providers.VendorOpenAI}
	openaiStub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	vertexStub := &stubAdapter{vendor: providers.VendorVertex}
	vertexStub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIVertex), nil
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{
		providers.VendorOpenAI: openaiStub,
		providers.VendorVertex: vertexStub,
	}, Options{})

	if _, err := r.Complete(context.Background(), chatRequest("gpt-5")); err != nil {
		t.Fatalf("gpt-5: %v", err)
	}
	if openaiStub.callCount() != 1 {
		t.Fatal("gpt-5 must route to the OpenAI adapter")
	}

	// Bare Gemini names default to Vertex; the direct API must be requested
	// explicitly.
	if _, err := r.Complete(context.Background(), chatRequest("gemini-2.5-pro")); err != nil {
		t.Fatalf("gemini-2.5-pro: %v", err)
	}
	if vertexStub.callCount() != 1 {
		t.Fatal("bare gemini models must route to Vertex")
	}

	_, err := r.Complete(context.Background(), chatRequest("mystery-9b"))
	wantKind(t, err, llmerr.KindModelNotAllowed)
}

func TestCompleteExplicitVendorRespected(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorGemini}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIGemini), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorGemini: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.Vendor = providers.VendorGemini
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.callCount() != 1 {
		t.Fatal("explicit vendor must not be re-inferred")
	}
	if row := sink.last(t); row.Vendor != "gemini_direct" {
		t.Fatalf("row vendor = %q", row.Vendor)
	}
}

func TestCompleteAllowlistRejection(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	_, err := r.Complete(context.Background(), chatRequest("gpt-4.1"))
	e := wantKind(t, err, llmerr.KindModelNotAllowed)
	for _, want := range []string{"ALLOWED_OPENAI_MODELS", "gpt-5", "gpt-4o"} {
		if !strings.Contains(e.Remediation, want) {
			t.Fatalf("remediation %q missing %q", e.Remediation, want)
		}
	}
	if stub.callCount() != 0 {
		t.Fatal("rejected model must never reach the adapter")
	}
	if row := sink.last(t); row.ErrorType != "MODEL_NOT_ALLOWED" {
		t.Fatalf("row error_type = %q", row.ErrorType)
	}
}

func TestCompleteEmptyMessages(t *testing.T) {
	r, _ := newTestRouter(t, nil, Options{})
	_, err := r.Complete(context.Background(), &providers.Request{Model: "gpt-5"})
	wantKind(t, err, llmerr.KindInvalidRequest)
}

func TestCompleteNoAdapterConfigured(t *testing.T) {
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{}, Options{})
	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	e := wantKind(t, err, llmerr.KindAuthMissing)
	if !strings.Contains(e.Message, "openai") {
		t.Fatalf("error must name the vendor: %q", e.Message)
	}
}

func TestCompleteEmitsOneRowPerRun(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	r.Complete(context.Background(), chatRequest("gpt-5"))
	r.Complete(context.Background(), chatRequest("gpt-4.1"))
	r.Complete(context.Background(), &providers.Request{Model: "gpt-5"})

	if got := sink.count(); got != 3 {
		t.Fatalf("rows emitted = %d, want 3 (one per run, failures included)", got)
	}
}

// ── ALS enrichment ────────────────────────────────────────────────────────────

func TestCompleteALSEnrichment(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		ALS: als.NewBuilder("k1", []byte("unit-test-seed"), 0),
	})

	req := chatRequest("gpt-5")
	req.ALS = &providers.ALSContext{CountryCode: "DE"}
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sent := stub.lastRequest()
	if len(sent.Messages) != 3 {
		t.Fatalf("adapter saw %d messages, want 3 (block inserted)", len(sent.Messages))
	}
	if !sent.Messages[1].ALS || sent.Messages[1].Content == "" {
		t.Fatalf("message[1] is not the ALS block: %+v", sent.Messages[1])
	}
	if !sent.ALSApplied {
		t.Fatal("dispatched request must be marked ALSApplied")
	}

	// The caller's request is untouched.
	if len(req.Messages) != 2 || req.ALSApplied {
		t.Fatal("caller request was mutated")
	}

	row := sink.last(t)
	if !row.ALSPresent || row.SeedKeyID != "k1" || row.ALSCountry != "DE" {
		t.Fatalf("row ALS provenance = %+v", row)
	}
	if len(row.ALSBlockSHA256) != 64 || row.ALSVariantID == "" || row.ALSNFCLength <= 0 {
		t.Fatalf("row ALS provenance incomplete: sha=%q variant=%q len=%d",
			row.ALSBlockSHA256, row.ALSVariantID, row.ALSNFCLength)
	}
	if resp.Metadata["als_block_sha256"] != row.ALSBlockSHA256 {
		t.Fatal("response metadata must mirror the row's ALS hash")
	}

	// Only the hash travels: the rendered text stays out of the row.
	blockText := sent.Messages[1].Content
	for k, v := range row.Meta {
		if strings.Contains(v, blockText) {
			t.Fatalf("raw ALS text leaked into row meta %q", k)
		}
	}
}

func TestCompleteALSWithoutBuilderFails(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	req := chatRequest("gpt-5")
	req.ALS = &providers.ALSContext{CountryCode: "DE"}
	_, err := r.Complete(context.Background(), req)
	e := wantKind(t, err, llmerr.KindInvalidRequest)
	if !strings.Contains(e.Remediation, "ALS_SEED_KEY") {
		t.Fatalf("remediation = %q", e.Remediation)
	}
	if stub.callCount() != 0 {
		t.Fatal("enrichment failure must fail closed, not dispatch without the block")
	}
}

func TestCompleteALSOverBudgetFailsClosed(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		ALS: als.NewBuilder("k1", []byte("unit-test-seed"), 10),
	})

	req := chatRequest("gpt-5")
	req.ALS = &providers.ALSContext{CountryCode: "DE"}
	_, err := r.Complete(context.Background(), req)
	wantKind(t, err, llmerr.KindALSBlockTooLong)
	if stub.callCount() != 0 {
		t.Fatal("an over-budget block must never be truncated and sent")
	}
	if row := sink.last(t); row.ErrorType != "ALS_BLOCK_TOO_LONG" {
		t.Fatalf("row error_type = %q", row.ErrorType)
	}
}

func TestCompleteALSNotReapplied(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		ALS: als.NewBuilder("k1", []byte("unit-test-seed"), 0),
	})

	req := chatRequest("gpt-5")
	req.ALS = &providers.ALSContext{CountryCode: "DE"}
	req.ALSApplied = true
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := len(stub.lastRequest().Messages); got != 2 {
		t.Fatalf("adapter saw %d messages, want 2 (no second insertion)", got)
	}
	if row := sink.last(t); row.ALSPresent {
		t.Fatal("row must not claim enrichment it did not perform")
	}
}

func TestCompleteALSUnknownCountryProceedsBare(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		ALS: als.NewBuilder("k1", []byte("unit-test-seed"), 0),
	})

	req := chatRequest("gpt-5")
	req.ALS = &providers.ALSContext{CountryCode: "ZZ"}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	sent := stub.lastRequest()
	if got := len(sent.Messages); got != 2 {
		t.Fatalf("adapter saw %d messages, want 2 (no block for an unauthored country)", got)
	}
	for _, m := range sent.Messages {
		if m.ALS {
			t.Fatalf("no message may carry an invented block: %+v", m)
		}
	}
	row := sink.last(t)
	if row.ALSPresent || row.ALSBlockSHA256 != "" || row.ALSVariantID != "" {
		t.Fatalf("row must not claim enrichment: present=%v sha=%q variant=%q",
			row.ALSPresent, row.ALSBlockSHA256, row.ALSVariantID)
	}
}

func TestCompleteGroundedJSONDirective(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		ALS: als.NewBuilder("k1", []byte("unit-test-seed"), 0),
	})

	req := chatRequest("gpt-5")
	req.Grounded = true
	req.JSONMode = true
	req.ALS = &providers.ALSContext{CountryCode: "DE"}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sent := stub.lastRequest()
	if len(sent.Messages) != 4 {
		t.Fatalf("adapter saw %d messages, want 4 (directive and block inserted)", len(sent.Messages))
	}
	if sent.Messages[1].Role != providers.RoleSystem || sent.Messages[1].Content != jsonObjectDirective {
		t.Fatalf("message[1] = %+v, want the object directive closing the system run", sent.Messages[1])
	}
	if !sent.Messages[2].ALS {
		t.Fatalf("message[2] = %+v, want the ALS block after the directive", sent.Messages[2])
	}
	if len(req.Messages) != 2 {
		t.Fatal("caller request was mutated")
	}
}

func TestCompleteJSONDirectiveScope(t *testing.T) {
	cases := []struct {
		name     string
		model    string
		vendor   providers.Vendor
		api      string
		grounded bool
		jsonMode bool
	}{
		{name: "json without grounding", model: "gpt-5", vendor: providers.VendorOpenAI,
			api: providers.ResponseAPIOpenAI, jsonMode: true},
		{name: "grounding without json", model: "gpt-5", vendor: providers.VendorOpenAI,
			api: providers.ResponseAPIOpenAI, grounded: true},
		{name: "google grounded json", model: "gemini-2.5-pro", vendor: providers.VendorVertex,
			api: providers.ResponseAPIVertex, grounded: true, jsonMode: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAdapter{vendor: tc.vendor}
			stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
				return okResponse(req, tc.api), nil
			}
			r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{tc.vendor: stub}, Options{})

			req := chatRequest(tc.model)
			req.Grounded = tc.grounded
			req.JSONMode = tc.jsonMode
			if _, err := r.Complete(context.Background(), req); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			for _, m := range stub.lastRequest().Messages {
				if m.Content == jsonObjectDirective {
					t.Fatal("run must not carry the object directive")
				}
			}
		})
	}
}

func TestAppendJSONDirectiveIdempotent(t *testing.T) {
	once := appendJSONDirective(chatRequest("gpt-5").Messages)
	if got := len(appendJSONDirective(once)); got != len(once) {
		t.Fatalf("second append grew the run to %d messages", got)
	}
}

// ── capability gate ───────────────────────────────────────────────────────────

func TestCompleteGateDropsReasoningHints(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	req := chatRequest("gpt-4o")
	req.Meta = map[string]any{
		providers.MetaReasoningEffort:  "high",
		providers.MetaReasoningSummary: "auto",
		providers.MetaTemperature:      0.2,
	}
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("the run must proceed after the drop: %v", err)
	}

	sent := stub.lastRequest()
	if _, ok := sent.Meta[providers.MetaReasoningEffort]; ok {
		t.Fatal("reasoning_effort must not reach a non-reasoning model")
	}
	if _, ok := sent.Meta[providers.MetaReasoningSummary]; ok {
		t.Fatal("reasoning_summary must not reach a non-reasoning model")
	}
	if sent.Meta[providers.MetaTemperature] != 0.2 {
		t.Fatal("supported hints must survive the gate")
	}
	if len(req.Meta) != 3 {
		t.Fatal("caller's Meta map was mutated")
	}

	row := sink.last(t)
	if !row.ReasoningHintDropped || row.ReasoningDropReason != "router_capability_gate" {
		t.Fatalf("row drop record = %v/%q", row.ReasoningHintDropped, row.ReasoningDropReason)
	}
	if resp.Metadata["reasoning_hint_dropped"] != true {
		t.Fatal("response metadata must record the drop")
	}
}

func TestCompleteGateKeepsSupportedHints(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	req := chatRequest("gpt-5")
	req.Meta = map[string]any{providers.MetaReasoningEffort: "high"}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got, _ := stub.lastRequest().MetaString(providers.MetaReasoningEffort); got != "high" {
		t.Fatalf("reasoning_effort = %q, want high (model supports it)", got)
	}
	if row := sink.last(t); row.ReasoningHintDropped {
		t.Fatal("nothing was dropped, the row must not say otherwise")
	}
}

func TestCompleteGateDropsThinkingHints(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIVertex), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	// The 2.0 family predates thinking config.
	req := chatRequest("gemini-2.0-flash")
	req.Meta = map[string]any{
		providers.MetaThinkingBudget:  1024,
		providers.MetaIncludeThoughts: true,
	}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	sent := stub.lastRequest()
	if _, ok := sent.Meta[providers.MetaThinkingBudget]; ok {
		t.Fatal("thinking_budget must not reach a non-thinking model")
	}
	row := sink.last(t)
	if !row.ThinkingHintDropped || row.ThinkingDropReason != "router_capability_gate" {
		t.Fatalf("row drop record = %v/%q", row.ThinkingHintDropped, row.ThinkingDropReason)
	}

	// The 2.5 family keeps its budget.
	req = chatRequest("gemini-2.5-pro")
	req.Meta = map[string]any{providers.MetaThinkingBudget: 1024}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got, ok := stub.lastRequest().MetaInt(providers.MetaThinkingBudget); !ok || got != 1024 {
		t.Fatalf("thinking_budget = %d/%v, want 1024", got, ok)
	}
}

// ── breaker and pacer ─────────────────────────────────────────────────────────

func TestCompleteBreakerLifecycle(t *testing.T) {
	failing := true
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		if failing {
			return nil, &providers.ProviderError{
				Vendor: providers.VendorOpenAI, Model: req.Model,
				StatusCode: 503, Message: "service unavailable",
			}
		}
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		Breaker: BreakerConfig{FailureThreshold: 5, Cooldown: 25 * time.Millisecond},
	})

	for i := 0; i < 5; i++ {
		_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
		wantKind(t, err, llmerr.KindUpstream)
	}

	// Threshold reached: the next run is rejected without an upstream call.
	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	e := wantKind(t, err, llmerr.KindCircuitOpen)
	if e.Remediation == "" {
		t.Fatal("circuit-open errors must tell the operator how long to wait")
	}
	if stub.callCount() != 5 {
		t.Fatalf("adapter calls = %d, want 5 (rejection is local)", stub.callCount())
	}
	row := sink.last(t)
	if row.ErrorType != "CIRCUIT_OPEN" || row.BreakerStatus != "open" {
		t.Fatalf("row = %q/%q", row.ErrorType, row.BreakerStatus)
	}

	// After the cooldown one probe is admitted; its success closes the circuit.
	time.Sleep(35 * time.Millisecond)
	failing = false
	if _, err := r.Complete(context.Background(), chatRequest("gpt-5")); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "closed" {
		t.Fatalf("state after probe success = %s, want closed", label)
	}
	if _, err := r.Complete(context.Background(), chatRequest("gpt-5")); err != nil {
		t.Fatalf("post-recovery run: %v", err)
	}
	if stub.callCount() != 7 {
		t.Fatalf("adapter calls = %d, want 7", stub.callCount())
	}
}

func TestCompletePermanentFailuresDoNotTrip(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return nil, &providers.ProviderError{
			Vendor: providers.VendorOpenAI, Model: req.Model,
			StatusCode: 401, Message: "invalid api key",
		}
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		Breaker: BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour},
	})

	for i := 0; i < 4; i++ {
		_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
		wantKind(t, err, llmerr.KindUpstream)
	}
	if stub.callCount() != 4 {
		t.Fatalf("adapter calls = %d; permanent errors never feed the breaker", stub.callCount())
	}
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "closed" {
		t.Fatalf("state = %s, want closed", label)
	}
}

func TestCompletePermanentFailureDoesNotCloseHalfOpen(t *testing.T) {
	status := 503
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		if status != 0 {
			return nil, &providers.ProviderError{
				Vendor: providers.VendorOpenAI, Model: req.Model,
				StatusCode: status, Message: "upstream error",
			}
		}
		return okResponse(req, providers.ResponseAPIOpenAI), nil
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		Breaker: BreakerConfig{FailureThreshold: 2, Cooldown: 25 * time.Millisecond},
	})

	for i := 0; i < 2; i++ {
		_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
		wantKind(t, err, llmerr.KindUpstream)
	}
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "open" {
		t.Fatalf("state = %s, want open", label)
	}

	// The admitted recovery call hits a 401. A permanent error is no evidence
	// the transient fault cleared, so the circuit must not close on it.
	time.Sleep(35 * time.Millisecond)
	status = 401
	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	wantKind(t, err, llmerr.KindUpstream)
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "half_open" {
		t.Fatalf("state after 401 recovery call = %s, want half_open", label)
	}

	// The slot is free again: the next admitted call can run, and a real
	// success closes the circuit.
	status = 0
	if _, err := r.Complete(context.Background(), chatRequest("gpt-5")); err != nil {
		t.Fatalf("recovery call: %v", err)
	}
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "closed" {
		t.Fatalf("state after success = %s, want closed", label)
	}
	if stub.callCount() != 4 {
		t.Fatalf("adapter calls = %d, want 4", stub.callCount())
	}
}

func TestCompletePermanentFailureKeepsTransientStreak(t *testing.T) {
	statuses := []int{503, 503, 401, 503}
	call := 0
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		status := statuses[call]
		call++
		return nil, &providers.ProviderError{
			Vendor: providers.VendorOpenAI, Model: req.Model,
			StatusCode: status, Message: "upstream error",
		}
	}
	r, _ := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		Breaker: BreakerConfig{FailureThreshold: 3, Cooldown: time.Hour},
	})

	for range statuses {
		_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
		wantKind(t, err, llmerr.KindUpstream)
	}

	// The interleaved 401 is neutral, so the final 503 is the third
	// consecutive transient failure and the key opens.
	if label, _ := r.Breaker().State("openai:gpt-5"); label != "open" {
		t.Fatalf("state = %s, want open", label)
	}
	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	wantKind(t, err, llmerr.KindCircuitOpen)
	if stub.callCount() != 4 {
		t.Fatalf("adapter calls = %d, want 4 (fifth run rejected locally)", stub.callCount())
	}
}

func TestCompleteTimeoutDoesNotTrip(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(ctx context.Context, _ *providers.Request) (*providers.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{
		UngroundedTimeout: 25 * time.Millisecond,
		Breaker:           BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour},
	})

	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	wantKind(t, err, llmerr.KindTimeout)
	if row := sink.last(t); row.ErrorType != "TIMEOUT" {
		t.Fatalf("row error_type = %q", row.ErrorType)
	}

	// With threshold 1, counting the timeout would have opened the circuit.
	_, err = r.Complete(context.Background(), chatRequest("gpt-5"))
	wantKind(t, err, llmerr.KindTimeout)
	if stub.callCount() != 2 {
		t.Fatalf("adapter calls = %d; timeouts say nothing about provider health", stub.callCount())
	}
}

func TestCompletePacerFailsFastInsideWindow(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return nil, &providers.ProviderError{
			Vendor: providers.VendorOpenAI, Model: req.Model,
			StatusCode: 429, Message: "rate limit exceeded",
			RetryAfter: 7 * time.Second,
		}
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	_, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	e := wantKind(t, err, llmerr.KindUpstream)
	if e.HTTPStatus() != 429 {
		t.Fatalf("first failure surfaces the provider status, got %d", e.HTTPStatus())
	}

	// The provider said when to come back; until then the router refuses to
	// burn a call it knows will fail.
	resp, err := r.Complete(context.Background(), chatRequest("gpt-5"))
	wantKind(t, err, llmerr.KindRateLimitedWait)
	if stub.callCount() != 1 {
		t.Fatalf("adapter calls = %d, want 1 (second run fails fast)", stub.callCount())
	}
	row := sink.last(t)
	if row.ErrorType != "RATE_LIMITED_WAIT" {
		t.Fatalf("row error_type = %q", row.ErrorType)
	}
	if row.PacingDelayMS <= 0 || row.PacingDelayMS > 7000 {
		t.Fatalf("pacing_delay_ms = %d, want within (0, 7000]", row.PacingDelayMS)
	}
	if _, ok := resp.Metadata["router_pacing_delay_ms"]; !ok {
		t.Fatal("response metadata must carry the pacing delay")
	}
}

// ── grounding, citations, REQUIRED ────────────────────────────────────────────

func TestCompleteOpenAIGroundedAnchored(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorOpenAI}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIOpenAI)
		resp.Evidence = openaiEvidence()
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorOpenAI: stub}, Options{})

	req := chatRequest("gpt-5")
	req.Grounded = true
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Citations) != 1 || !resp.Citations[0].Anchored {
		t.Fatalf("citations = %+v", resp.Citations)
	}

	row := sink.last(t)
	if !row.GroundedAttempted || row.ToolCallCount != 1 || row.ToolResultCount != 3 {
		t.Fatalf("signals = attempted=%v calls=%d results=%d",
			row.GroundedAttempted, row.ToolCallCount, row.ToolResultCount)
	}
	if !row.GroundedEffective || row.AnchoredCitations != 1 {
		t.Fatalf("effective=%v anchored=%d", row.GroundedEffective, row.AnchoredCitations)
	}
	if !hasShape(row.ShapeSet, "openai_typed") {
		t.Fatalf("shape_set = %v", row.ShapeSet)
	}
	if row.GroundingMode != string(providers.GroundingAuto) {
		t.Fatalf("grounded without a mode must default to AUTO, got %q", row.GroundingMode)
	}
}

func TestCompleteGoogleGroundedEffective(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIVertex)
		resp.Evidence = googleEvidence(true)
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.Grounded = true
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	row := sink.last(t)
	if !row.GroundedEffective || row.WhyNotGrounded != "" {
		t.Fatalf("effective=%v why_not=%q", row.GroundedEffective, row.WhyNotGrounded)
	}
	if row.AnchoredCitations != 1 || row.UnlinkedSources != 1 {
		t.Fatalf("anchored=%d unlinked=%d, want 1/1", row.AnchoredCitations, row.UnlinkedSources)
	}
	if !hasShape(row.ShapeSet, "google_grounding") || !hasShape(row.ShapeSet, "google_unlinked") {
		t.Fatalf("shape_set = %v", row.ShapeSet)
	}
	if row.ResponseAPI != providers.ResponseAPIVertex {
		t.Fatalf("effective rows must carry response_api, got %q", row.ResponseAPI)
	}
}

func TestCompleteEmitUnlinked(t *testing.T) {
	newVertex := func() *stubAdapter {
		stub := &stubAdapter{vendor: providers.VendorVertex}
		stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
			resp := okResponse(req, providers.ResponseAPIVertex)
			resp.Evidence = googleEvidence(true)
			return resp, nil
		}
		return stub
	}

	// Default: the citations list carries anchored evidence only.
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: newVertex()}, Options{})
	req := chatRequest("gemini-2.5-pro")
	req.Grounded = true
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Citations) != 1 || !resp.Citations[0].Anchored {
		t.Fatalf("default citations = %+v, want the anchored one only", resp.Citations)
	}
	if row := sink.last(t); row.UnlinkedSources != 1 {
		t.Fatal("telemetry must count unlinked sources regardless of emission")
	}

	// Opt-in: unlinked sources ride along.
	r, _ = newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: newVertex()}, Options{
		EmitUnlinked: true,
	})
	req = chatRequest("gemini-2.5-pro")
	req.Grounded = true
	resp, err = r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Citations) != 2 {
		t.Fatalf("emit_unlinked citations = %d, want 2", len(resp.Citations))
	}
}

func TestCompleteRequiredPassesOnAnchored(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIVertex)
		resp.Evidence = googleEvidence(true)
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.GroundingMode = providers.GroundingRequired
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !resp.Success {
		t.Fatal("anchored evidence satisfies REQUIRED")
	}
	if row := sink.last(t); row.RequiredPassReason != "anchored" {
		t.Fatalf("required_pass_reason = %q", row.RequiredPassReason)
	}
	// REQUIRED implies grounding even when the caller forgot the flag.
	if !stub.lastRequest().Grounded {
		t.Fatal("REQUIRED mode must force Grounded on the dispatched request")
	}
}

func TestCompleteRequiredFailsOnUnlinkedOnly(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIVertex)
		resp.Evidence = googleEvidence(false)
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.GroundingMode = providers.GroundingRequired
	resp, err := r.Complete(context.Background(), req)
	wantKind(t, err, llmerr.KindGroundingRequiredFailed)
	if resp == nil || resp.Success {
		t.Fatal("failed REQUIRED run must return an unsuccessful response for audit")
	}

	row := sink.last(t)
	if row.RequiredPassReason != "none" {
		t.Fatalf("required_pass_reason = %q, want none", row.RequiredPassReason)
	}
	if row.Success || row.ErrorType != "GROUNDING_REQUIRED_FAILED" {
		t.Fatalf("row = success=%v error_type=%q", row.Success, row.ErrorType)
	}
	if row.UnlinkedSources != 2 {
		t.Fatalf("unlinked_sources = %d, want 2", row.UnlinkedSources)
	}
}

func TestCompleteRequiredRelaxForGoogle(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIVertex)
		resp.Evidence = googleEvidence(false)
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{
		RelaxRequiredForGoogle: true,
	})

	req := chatRequest("gemini-2.5-pro")
	req.GroundingMode = providers.GroundingRequired
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("relaxed REQUIRED must accept unlinked Google evidence: %v", err)
	}
	if !resp.Success {
		t.Fatal("response must be successful under the relaxation")
	}
	if row := sink.last(t); row.RequiredPassReason != "unlinked_google" {
		t.Fatalf("required_pass_reason = %q, want unlinked_google", row.RequiredPassReason)
	}
}

func TestCompleteRequiredErrorWithoutToolInvocation(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		return okResponse(req, providers.ResponseAPIVertex), nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.GroundingMode = providers.GroundingRequired
	_, err := r.Complete(context.Background(), req)
	wantKind(t, err, llmerr.KindGroundingRequiredError)
	if row := sink.last(t); row.WhyNotGrounded != "no_tool_invocation" {
		t.Fatalf("why_not_grounded = %q", row.WhyNotGrounded)
	}
}

func TestCompleteAutoStampsEvidenceUnavailable(t *testing.T) {
	stub := &stubAdapter{vendor: providers.VendorVertex}
	stub.fn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		resp := okResponse(req, providers.ResponseAPIVertex)
		resp.Evidence = searchOnlyEvidence()
		return resp, nil
	}
	r, sink := newTestRouter(t, map[providers.Vendor]providers.Adapter{providers.VendorVertex: stub}, Options{})

	req := chatRequest("gemini-2.5-pro")
	req.Grounded = true
	resp, err := r.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("AUTO must not fail on missing evidence: %v", err)
	}
	if resp.Metadata["grounded_evidence_unavailable"] != true {
		t.Fatal("response must be stamped grounded_evidence_unavailable")
	}

	row := sink.last(t)
	if row.GroundedEffective {
		t.Fatal("no evidence, the row must not claim effectiveness")
	}
	if row.WhyNotGrounded != "provider_returned_empty_evidence" {
		t.Fatalf("why_not_grounded = %q", row.WhyNotGrounded)
	}
	if row.Meta["grounded_evidence_unavailable"] != "true" {
		t.Fatalf("row meta = %v", row.Meta)
	}
	// Tools ran, extraction found nothing: the evidence shape gets sampled.
	if row.Meta[citations.AuditMetaKey] == "" {
		t.Fatal("zero-extraction runs must carry a citations audit")
	}
}

// ── REQUIRED verdicts (pure function) ─────────────────────────────────────────

func TestEvaluateRequired(t *testing.T) {
	ran := grounding.Signals{Attempted: true, ToolCallCount: 2}
	idle := grounding.Signals{Attempted: true}

	cases := []struct {
		name       string
		vendor     providers.Vendor
		mode       providers.GroundingMode
		signals    grounding.Signals
		anchored   int
		unlinked   int
		relax      bool
		wantKind   llmerr.Kind
		wantReason string
	}{
		{name: "auto never fails", vendor: providers.VendorVertex, mode: providers.GroundingAuto, signals: idle},
		{name: "no tool call", vendor: providers.VendorVertex, mode: providers.GroundingRequired,
			signals: idle, wantKind: llmerr.KindGroundingRequiredError},
		{name: "anchored passes", vendor: providers.VendorVertex, mode: providers.GroundingRequired,
			signals: ran, anchored: 1, unlinked: 4, wantReason: "anchored"},
		{name: "unlinked only fails", vendor: providers.VendorVertex, mode: providers.GroundingRequired,
			signals: ran, unlinked: 3, wantKind: llmerr.KindGroundingRequiredFailed, wantReason: "none"},
		{name: "relaxed google passes unlinked", vendor: providers.VendorGemini, mode: providers.GroundingRequired,
			signals: ran, unlinked: 3, relax: true, wantReason: "unlinked_google"},
		{name: "relaxation needs evidence", vendor: providers.VendorVertex, mode: providers.GroundingRequired,
			signals: ran, relax: true, wantKind: llmerr.KindGroundingRequiredFailed, wantReason: "none"},
		{name: "relaxation never covers openai", vendor: providers.VendorOpenAI, mode: providers.GroundingRequired,
			signals: ran, unlinked: 3, relax: true, wantKind: llmerr.KindGroundingRequiredFailed, wantReason: "none"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := evaluateRequired(tc.vendor, tc.mode, tc.signals, tc.anchored, tc.unlinked, tc.relax)
			if v.PassReason != tc.wantReason {
				t.Fatalf("pass reason = %q, want %q", v.PassReason, tc.wantReason)
			}
			if tc.wantKind == "" {
				if v.Err != nil {
					t.Fatalf("unexpected verdict error: %v", v.Err)
				}
				return
			}
			if v.Err == nil || v.Err.Kind != tc.wantKind {
				t.Fatalf("verdict = %v, want kind %s", v.Err, tc.wantKind)
			}
		})
	}
}
