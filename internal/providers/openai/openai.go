// Package openai adapts the vendor-neutral request model to the OpenAI
// Responses API. Chat Completions is deliberately not used: web_search tool
// activity, url_citation annotations, and reasoning summaries only surface
// through the Responses output array.
//
// The adapter converts shapes and nothing else. It never rewrites prompts
// (the single documented plain-text retry hint is the one exception), never
// substitutes models, and never forces tool_choice beyond "auto" — REQUIRED
// grounding is enforced by the caller after the fact.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	adapterName    = "openai"
	apiVersion     = "v1"
)

// plainTextHint is appended to instructions on the single retry issued when
// the model produced tool calls but no message text. This is the only prompt
// content the adapter is allowed to inject.
const plainTextHint = "Answer with the final response text only."

// Adapter implements providers.Adapter for OpenAI.
type Adapter struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New creates a new OpenAI Adapter. Request retries are delegated to the SDK
// (max 5 with decorrelated backoff); the router on top never retries.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}

	for _, o := range opts {
		o(a)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(a.apiKey),
		option.WithMaxRetries(providers.SDKMaxRetries),
		option.WithHTTPClient(&http.Client{Timeout: providers.TransportTimeout}),
	}
	if a.baseURL != "" && a.baseURL != defaultBaseURL {
		clientOpts = append(clientOpts, option.WithBaseURL(a.baseURL))
	}

	a.client = openaiSDK.NewClient(clientOpts...)

	return a
}

func (a *Adapter) Name() string { return adapterName }

func (a *Adapter) Vendor() providers.Vendor { return providers.VendorOpenAI }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai: health check: %w", a.wrapError(err, ""))
	}
	return nil
}

// Complete performs one Responses API call. When the model spends the whole
// turn on tool calls and returns no message text, exactly one retry without
// tools is issued and the result is stamped text_source=retry; evidence and
// citations still come from the first call, which is where the tool activity
// lives.
func (a *Adapter) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	params := a.buildParams(req)

	start := time.Now()
	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err, req.Model)
	}

	out := a.normalize(req, resp)

	if out.Content == "" && hasToolActivity(resp) {
		retryText, retryUsage, retryErr := a.retryPlainText(ctx, req)
		if retryErr == nil && retryText != "" {
			out.Content = retryText
			out.Usage.PromptTokens += retryUsage.PromptTokens
			out.Usage.CompletionTokens += retryUsage.CompletionTokens
			out.Usage.TotalTokens += retryUsage.TotalTokens
			out.Usage.ReasoningTokens += retryUsage.ReasoningTokens
			out.SetMeta("text_source", "retry")
		}
	}

	out.LatencyMS = time.Since(start).Milliseconds()
	return out, nil
}

// buildParams assembles the Responses payload. Instructions are the system
// messages concatenated byte-for-byte with a blank line between them; the
// ordered non-system messages (the ALS block included, as its own user item)
// become the input list.
func (a *Adapter) buildParams(req *providers.Request) responses.ResponseNewParams {
	instructions, items := splitMessages(req.Messages)

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if instructions != "" {
		params.Instructions = param.NewOpt(instructions)
	}

	if v, ok := req.MetaInt(providers.MetaMaxOutputTokens); ok && v > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(v))
	}
	if v, ok := req.MetaFloat(providers.MetaTemperature); ok {
		params.Temperature = param.NewOpt(v)
	}

	// Reasoning hints arrive only when the capability gate allowed them.
	if effort, ok := req.MetaString(providers.MetaReasoningEffort); ok {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(effort)}
		if summary, ok := req.MetaString(providers.MetaReasoningSummary); ok {
			params.Reasoning.Summary = shared.ReasoningSummary(summary)
		}
	}

	if req.Grounded {
		params.Tools = []responses.ToolUnionParam{{
			OfWebSearch: &responses.WebSearchToolParam{
				Type: responses.WebSearchToolTypeWebSearch,
			},
		}}
		// Post-hoc enforcement: tool_choice stays auto even in REQUIRED mode.
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsAuto),
		}
	}

	if req.JSONMode {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
		}
	}

	return params
}

func (a *Adapter) retryPlainText(ctx context.Context, req *providers.Request) (string, providers.Usage, error) {
	params := a.buildParams(req)
	params.Tools = nil
	params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{}

	instructions := params.Instructions.Value
	if instructions != "" {
		instructions += "\n\n"
	}
	params.Instructions = param.NewOpt(instructions + plainTextHint)

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return "", providers.Usage{}, a.wrapError(err, req.Model)
	}
	return messageText(resp), usageOf(resp), nil
}

// normalize walks the typed output array into evidence and decodes the raw
// response JSON as the dict view. Both views travel with the response so the
// extractor can union them.
func (a *Adapter) normalize(req *providers.Request, resp *responses.Response) *providers.Response {
	ev := &providers.Evidence{OpenAI: &providers.OpenAIEvidence{}}

	var text strings.Builder
	for _, item := range resp.Output {
		oi := providers.OpenAIItem{Type: item.Type, Status: item.Status}
		if item.Type == "message" {
			for _, block := range item.Content {
				ob := providers.OpenAIBlock{Type: block.Type, Text: block.Text}
				for _, ann := range block.Annotations {
					ob.Annotations = append(ob.Annotations, providers.OpenAIAnnotation{
						Type:       ann.Type,
						URL:        ann.URL,
						Title:      ann.Title,
						StartIndex: ann.StartIndex,
						EndIndex:   ann.EndIndex,
					})
				}
				oi.Blocks = append(oi.Blocks, ob)
				if block.Type == "output_text" && block.Text != "" {
					if text.Len() > 0 {
						text.WriteByte('\n')
					}
					text.WriteString(block.Text)
				}
			}
		}
		ev.OpenAI.Items = append(ev.OpenAI.Items, oi)
	}

	if raw := resp.RawJSON(); raw != "" {
		var dict map[string]any
		if err := json.Unmarshal([]byte(raw), &dict); err == nil {
			ev.Dict = dict
		}
	}
	fillResultCounts(ev)

	out := &providers.Response{
		Vendor:      providers.VendorOpenAI,
		Model:       req.Model,
		ResponseAPI: providers.ResponseAPIOpenAI,
		APIVersion:  apiVersion,
		Content:     text.String(),
		Success:     true,
		Usage:       usageOf(resp),
		Evidence:    ev,
	}
	if resp.Model != "" {
		out.Model = string(resp.Model)
	}
	if out.Content != "" {
		out.SetMeta("text_source", "message")
	} else {
		out.SetMeta("text_source", "empty")
	}

	return out
}

// fillResultCounts copies best-effort web search result counts from the dict
// view onto the typed items. The wire shape does not guarantee a results
// array; absence leaves the count at zero.
func fillResultCounts(ev *providers.Evidence) {
	dictItems := ev.DictOutput()
	for i := range ev.OpenAI.Items {
		item := &ev.OpenAI.Items[i]
		if item.Type != "web_search_call" || i >= len(dictItems) {
			continue
		}
		if results := providers.DictList(dictItems[i], "results"); results != nil {
			item.ResultCount = len(results)
		} else if action := providers.DictMap(dictItems[i], "action"); action != nil {
			if results := providers.DictList(action, "results"); results != nil {
				item.ResultCount = len(results)
			}
		}
	}
}

func splitMessages(msgs []providers.Message) (string, responses.ResponseInputParam) {
	var sys []string
	items := make(responses.ResponseInputParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleSystem:
			sys = append(sys, m.Content)
		case providers.RoleAssistant:
			items = append(items, inputItem(m.Content, responses.EasyInputMessageRoleAssistant))
		default:
			items = append(items, inputItem(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return strings.Join(sys, "\n\n"), items
}

func inputItem(text string, role responses.EasyInputMessageRole) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(text)},
			Role:    role,
		},
	}
}

// messageText joins every output_text block across message items with
// newlines, the same assembly normalize performs.
func messageText(resp *responses.Response) string {
	var text strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, block := range item.Content {
			if block.Type == "output_text" && block.Text != "" {
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.WriteString(block.Text)
			}
		}
	}
	return text.String()
}

func usageOf(resp *responses.Response) providers.Usage {
	return providers.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ReasoningTokens:  int(resp.Usage.OutputTokensDetails.ReasoningTokens),
	}
}

func hasToolActivity(resp *responses.Response) bool {
	for _, item := range resp.Output {
		if strings.HasSuffix(item.Type, "_call") {
			return true
		}
	}
	return false
}

// wrapError maps SDK failures to the typed ProviderError the router's breaker
// and pacer consume. Retry-After and x-ratelimit-reset-* headers become the
// RetryAfter pacing hint. Context errors pass through untouched.
func (a *Adapter) wrapError(err error, model string) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		pe := &providers.ProviderError{
			Vendor:     providers.VendorOpenAI,
			Model:      model,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
		if pe.Message == "" {
			pe.Message = apiErr.Error()
		}
		if apiErr.Response != nil {
			pe.RetryAfter = providers.RetryAfterFromHeaders(apiErr.Response.Header)
		}
		return pe
	}
	return err
}
