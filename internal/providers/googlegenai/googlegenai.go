// Package googlegenai is the shared core of the two Google adapters. Gemini
// direct and Vertex speak the same generateContent dialect through the
// official genai SDK and differ only in backend, auth, and policy; keeping
// one payload assembler, one evidence normalizer, and one error mapper here
// keeps their semantics from drifting apart.
//
// Both adapters accept exactly one user message. The canonical system text
// and the ambient location block become the system instruction, bytes
// preserved; a second non-system message is a request-shape bug and fails
// loudly rather than being silently merged.
package googlegenai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

// Base carries what one concrete Google adapter needs: the configured SDK
// client plus the identity stamped on every response.
type Base struct {
	Client      *genai.Client
	Vendor      providers.Vendor
	ResponseAPI string
	APIVersion  string
	// Region is the configured location for Vertex, empty for Gemini direct.
	// Telemetry takes it from here and nowhere else.
	Region string
}

// Complete performs one generateContent call and normalizes the result.
func (b *Base) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	contents, cfg, err := BuildPayload(req)
	if err != nil {
		return nil, err
	}

	// The SDK has no per-call timeout; guard against hangs when the caller
	// did not set a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, providers.TransportTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.Client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, WrapError(b.Vendor, req.Model, err)
	}

	out := b.normalize(req, resp)
	out.LatencyMS = time.Since(start).Milliseconds()
	return out, nil
}

// HealthCheck lists one model as a cheap liveness probe.
func (b *Base) HealthCheck(ctx context.Context) error {
	_, err := b.Client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return fmt.Errorf("%s: health check: %w", b.Vendor, WrapError(b.Vendor, "", err))
	}
	return nil
}

// BuildPayload assembles contents and config from the neutral request.
//
// Tool wiring depends on the grounded/JSON combination:
//   - grounded only: GoogleSearch, no mode forcing (REQUIRED is post-hoc);
//   - JSON only: response_mime_type application/json (+ schema when given);
//   - grounded+JSON: GoogleSearch plus a single pinned function declaration
//     the model must call to emit the structured answer. Mode ANY forces the
//     call in REQUIRED runs; the literal REQUIRED mode does not exist in the
//     function calling config and must never be sent.
func BuildPayload(req *providers.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var sys []string
	var als string
	var rest []providers.Message

	for _, m := range req.Messages {
		switch {
		case m.Role == providers.RoleSystem:
			sys = append(sys, m.Content)
		case m.ALS:
			als = m.Content
		default:
			rest = append(rest, m)
		}
	}

	if len(rest) != 1 || rest[0].Role != providers.RoleUser {
		return nil, nil, llmerr.Newf(llmerr.KindInvalidRequest,
			"google adapters accept exactly one user message, got %d non-system messages", len(rest)).
			WithRemediation("collapse the conversation into a single user turn before routing to a google vendor")
	}

	sysText := strings.Join(sys, "\n\n")
	if als != "" {
		if sysText != "" {
			sysText += "\n\n"
		}
		sysText += als
	}

	contents := []*genai.Content{genai.NewContentFromText(rest[0].Content, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if sysText != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: sysText}},
		}
	}

	if v, ok := req.MetaFloat(providers.MetaTemperature); ok {
		cfg.Temperature = genai.Ptr[float32](float32(v))
	}
	if v, ok := req.MetaInt(providers.MetaMaxOutputTokens); ok && v > 0 {
		cfg.MaxOutputTokens = int32(v)
	}

	// Thinking hints arrive only when the capability gate allowed them.
	if budget, ok := req.MetaInt(providers.MetaThinkingBudget); ok {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(budget))}
	}
	if req.MetaBool(providers.MetaIncludeThoughts) {
		if cfg.ThinkingConfig == nil {
			cfg.ThinkingConfig = &genai.ThinkingConfig{}
		}
		cfg.ThinkingConfig.IncludeThoughts = true
	}

	switch {
	case req.Grounded && req.JSONMode:
		cfg.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{FunctionDeclarations: []*genai.FunctionDeclaration{emitDeclaration(req)}},
		}
		mode := genai.FunctionCallingConfigModeAuto
		if req.GroundingMode == providers.GroundingRequired {
			mode = genai.FunctionCallingConfigModeAny
		}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 mode,
				AllowedFunctionNames: []string{providers.StructuredEmitFunction},
			},
		}

	case req.Grounded:
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}

	case req.JSONMode:
		cfg.ResponseMIMEType = "application/json"
		if schema := requestSchema(req); schema != nil {
			cfg.ResponseSchema = schema
		}
	}

	return contents, cfg, nil
}

func emitDeclaration(req *providers.Request) *genai.FunctionDeclaration {
	schema := requestSchema(req)
	if schema == nil {
		schema = &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"content": {Type: genai.TypeString},
			},
			Required: []string{"content"},
		}
	}
	return &genai.FunctionDeclaration{
		Name:        providers.StructuredEmitFunction,
		Description: "Emit the final structured response as a JSON object.",
		Parameters:  schema,
	}
}

// requestSchema converts a caller-supplied JSON schema (a generic map in
// Meta) into the SDK schema type via a marshal round-trip.
func requestSchema(req *providers.Request) *genai.Schema {
	raw, ok := req.Meta[providers.MetaResponseSchema]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return nil
	}
	return &schema
}

// normalize walks candidates into the typed evidence view and re-marshals the
// response for the dict view. In grounded+JSON runs the content is the pinned
// function call's arguments re-serialized as compact JSON.
func (b *Base) normalize(req *providers.Request, resp *genai.GenerateContentResponse) *providers.Response {
	ev := &providers.Evidence{Google: &providers.GoogleEvidence{}}

	var text strings.Builder
	var emitArgs string

	for _, cand := range resp.Candidates {
		var gc providers.GoogleCandidate
		if cand == nil {
			ev.Google.Candidates = append(ev.Google.Candidates, gc)
			continue
		}

		if gm := cand.GroundingMetadata; gm != nil {
			gc.HasGroundingMetadata = true
			for _, ch := range gm.GroundingChunks {
				if ch == nil || ch.Web == nil {
					continue
				}
				gc.Chunks = append(gc.Chunks, providers.GoogleChunk{
					URI:    ch.Web.URI,
					Title:  ch.Web.Title,
					Domain: ch.Web.Domain,
				})
			}
			for _, sp := range gm.GroundingSupports {
				if sp == nil {
					continue
				}
				gs := providers.GoogleSupport{}
				for _, idx := range sp.GroundingChunkIndices {
					gs.ChunkIndices = append(gs.ChunkIndices, int(idx))
				}
				if sp.Segment != nil {
					gs.StartIndex = int64(sp.Segment.StartIndex)
					gs.EndIndex = int64(sp.Segment.EndIndex)
					gs.Text = sp.Segment.Text
				}
				gc.Supports = append(gc.Supports, gs)
			}
			gc.WebSearchQueries = append(gc.WebSearchQueries, gm.WebSearchQueries...)
		}

		if cm := cand.CitationMetadata; cm != nil {
			for _, cit := range cm.Citations {
				if cit == nil {
					continue
				}
				gc.Citations = append(gc.Citations, providers.GoogleCitation{
					URI:        cit.URI,
					Title:      cit.Title,
					StartIndex: int64(cit.StartIndex),
					EndIndex:   int64(cit.EndIndex),
				})
			}
		}

		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					gc.FunctionCalls = append(gc.FunctionCalls, part.FunctionCall.Name)
					if part.FunctionCall.Name == providers.StructuredEmitFunction && emitArgs == "" {
						if raw, err := json.Marshal(part.FunctionCall.Args); err == nil {
							emitArgs = string(raw)
						}
					}
				}
				if part.Text != "" && !part.Thought {
					text.WriteString(part.Text)
				}
			}
		}

		ev.Google.Candidates = append(ev.Google.Candidates, gc)
	}

	if raw, err := json.Marshal(resp); err == nil {
		var dict map[string]any
		if err := json.Unmarshal(raw, &dict); err == nil {
			ev.Dict = dict
		}
	}

	out := &providers.Response{
		Vendor:      b.Vendor,
		Model:       req.Model,
		ResponseAPI: b.ResponseAPI,
		APIVersion:  b.APIVersion,
		Region:      b.Region,
		Content:     text.String(),
		Success:     true,
		Evidence:    ev,
	}

	if req.Grounded && req.JSONMode && emitArgs != "" {
		out.Content = emitArgs
		out.SetMeta("text_source", "function_call")
	} else if out.Content != "" {
		out.SetMeta("text_source", "message")
	} else {
		out.SetMeta("text_source", "empty")
	}

	if resp.UsageMetadata != nil {
		out.Usage = providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			ReasoningTokens:  int(resp.UsageMetadata.ThoughtsTokenCount),
		}
	}

	return out
}

// WrapError maps SDK failures to the typed ProviderError. A RetryInfo error
// detail becomes the RetryAfter pacing hint. Context errors pass through.
func WrapError(vendor providers.Vendor, model string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &providers.ProviderError{
			Vendor:     vendor,
			Model:      model,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			RetryAfter: retryDelay(apiErr.Details),
			Err:        err,
		}
	}
	return err
}

func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		t, _ := d["@type"].(string)
		if !strings.HasSuffix(t, "RetryInfo") {
			continue
		}
		if raw, ok := d["retryDelay"].(string); ok {
			if dur, err := time.ParseDuration(raw); err == nil {
				return dur
			}
		}
	}
	return 0
}
