// Package capability holds the static capability table keyed by
// (vendor, model): which hints a model accepts, whether it can ground, and
// which citation shapes count as anchored for its vendor.
//
// The table is hard-coded and never fetched remotely. Models appear across
// vendors under their provider-native names; Vertex resource paths
// (publishers/google/models/...) are normalized before lookup. Allowlists
// from the environment decide which entries are routable; unknown but
// allowlisted models get conservative defaults.
package capability

import (
	"strings"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/llmerr"
)

// Capabilities describes what a (vendor, model) pair supports. The router
// drops hints whose field here is false; it never translates them.
type Capabilities struct {
	Allowed                  bool
	SupportsReasoningEffort  bool
	SupportsReasoningSummary bool
	SupportsThinkingBudget   bool
	IncludeThoughtsAllowed   bool
	SupportsGrounding        bool
	// AnchoredCitationTypes is the vendor-level set of citation source types
	// that satisfy REQUIRED grounding. URI-only grounding_chunk evidence is
	// deliberately absent for every vendor.
	AnchoredCitationTypes map[string]bool
}

var (
	openaiAnchored = map[string]bool{
		providers.SourceAnnotation:  true,
		providers.SourceURLCitation: true,
	}
	googleAnchored = map[string]bool{
		providers.SourceDirectURI: true,
		providers.SourceV1Join:    true,
	}
)

// AnchoredTypes returns the anchored citation set for a vendor.
func AnchoredTypes(v providers.Vendor) map[string]bool {
	if v == providers.VendorOpenAI {
		return openaiAnchored
	}
	return googleAnchored
}

// reasoningModelPrefixes marks OpenAI model families that accept
// reasoning.effort (and reasoning summaries). The gpt-4o and gpt-4.1
// families do not.
var reasoningModelPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

func isReasoningModel(model string) bool {
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// thinkingModelPrefixes marks Google model families that accept a thinking
// budget. The 2.0 family predates thinking config.
var thinkingModelPrefixes = []string{"gemini-2.5"}

func isThinkingModel(model string) bool {
	for _, p := range thinkingModelPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// baseModels is the set of models the table knows natively, per vendor.
// Allowlisted models outside this set still route, with hint support off.
var baseModels = map[providers.Vendor][]string{

	// ─── OpenAI ───────────────────────────────────────────────────────────────
	providers.VendorOpenAI: {
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-chat-latest",
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"gpt-4.1-mini",
		"o3",
		"o3-mini",
		"o4-mini",
	},

	// ─── Google AI Studio ─────────────────────────────────────────────────────
	providers.VendorGemini: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-flash",
	},

	// ─── Google Vertex AI ─────────────────────────────────────────────────────
	providers.VendorVertex: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-flash",
	},
}

// allowlistEnvVar names the environment variable that governs each vendor's
// allowlist, for remediation text.
var allowlistEnvVar = map[providers.Vendor]string{
	providers.VendorOpenAI: "ALLOWED_OPENAI_MODELS",
	providers.VendorGemini: "ALLOWED_GEMINI_MODELS",
	providers.VendorVertex: "ALLOWED_VERTEX_MODELS",
}

// Allowlists carries the per-vendor routable model sets from config.
type Allowlists struct {
	OpenAI []string
	Gemini []string
	Vertex []string
}

// Registry resolves (vendor, model) to capabilities. Immutable after
// construction and safe for concurrent use. allowOrder keeps the configured
// allowlist order so remediation text can name the routable models.
type Registry struct {
	known      map[providers.Vendor]map[string]bool
	allow      map[providers.Vendor]map[string]bool
	allowOrder map[providers.Vendor][]string
}

// NewRegistry builds the registry from the static table and the configured
// allowlists.
func NewRegistry(lists Allowlists) *Registry {
	r := &Registry{
		known:      make(map[providers.Vendor]map[string]bool, len(baseModels)),
		allow:      make(map[providers.Vendor]map[string]bool, 3),
		allowOrder: make(map[providers.Vendor][]string, 3),
	}
	for vendor, models := range baseModels {
		set := make(map[string]bool, len(models))
		for _, m := range models {
			set[m] = true
		}
		r.known[vendor] = set
	}
	r.allow[providers.VendorOpenAI], r.allowOrder[providers.VendorOpenAI] = toSet(lists.OpenAI)
	r.allow[providers.VendorGemini], r.allowOrder[providers.VendorGemini] = toSet(lists.Gemini)
	r.allow[providers.VendorVertex], r.allowOrder[providers.VendorVertex] = toSet(lists.Vertex)
	return r
}

func toSet(models []string) (map[string]bool, []string) {
	set := make(map[string]bool, len(models))
	order := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m != "" && !set[m] {
			set[m] = true
			order = append(order, m)
		}
	}
	return set, order
}

// Normalize strips Vertex resource-path prefixes so capability lookup and
// allowlists operate on bare model names.
func Normalize(model string) string {
	if i := strings.LastIndex(model, "/models/"); i >= 0 {
		return model[i+len("/models/"):]
	}
	return model
}

// Lookup returns the capabilities of a (vendor, model) pair. ok is false when
// the model is neither known nor allowlisted for the vendor.
func (r *Registry) Lookup(vendor providers.Vendor, model string) (Capabilities, bool) {
	model = Normalize(model)
	known := r.known[vendor][model]
	allowed := r.allow[vendor][model]
	if !known && !allowed {
		return Capabilities{}, false
	}
	caps := Capabilities{
		Allowed:               allowed,
		SupportsGrounding:     true,
		AnchoredCitationTypes: AnchoredTypes(vendor),
	}
	if !known {
		// Allowlisted but unknown: routable, no hint support.
		return caps, true
	}
	switch vendor {
	case providers.VendorOpenAI:
		caps.SupportsReasoningEffort = isReasoningModel(model)
		caps.SupportsReasoningSummary = isReasoningModel(model)
	case providers.VendorGemini, providers.VendorVertex:
		caps.SupportsThinkingBudget = isThinkingModel(model)
		caps.IncludeThoughtsAllowed = isThinkingModel(model)
	}
	return caps, true
}

// Check enforces the allowlist. The returned error names the offending model,
// the models that are allowed, and the environment variable that governs them.
func (r *Registry) Check(vendor providers.Vendor, model string) error {
	caps, ok := r.Lookup(vendor, model)
	if ok && caps.Allowed {
		return nil
	}
	envVar := allowlistEnvVar[vendor]
	if envVar == "" {
		envVar = "the vendor allowlist"
	}
	remediation := "no models are allowlisted; set " + envVar
	if allowed := r.allowOrder[vendor]; len(allowed) > 0 {
		remediation = "allowed: " + strings.Join(allowed, ", ") +
			"; add " + Normalize(model) + " to " + envVar + " to route it"
	}
	return llmerr.Newf(llmerr.KindModelNotAllowed,
		"model %q is not allowed for vendor %s", model, vendor).
		WithRemediation(remediation)
}

// InferVendor guesses the vendor from a model name when the caller omitted
// one. Bare Gemini names default to Vertex (the production backend); direct
// Gemini API access must be requested explicitly. Returns false rather than
// guessing for unrecognized families.
func InferVendor(model string) (providers.Vendor, bool) {
	m := Normalize(model)
	switch {
	case strings.HasPrefix(m, "gpt-"):
		return providers.VendorOpenAI, true
	case isOSeries(m):
		return providers.VendorOpenAI, true
	case strings.HasPrefix(m, "gemini"):
		return providers.VendorVertex, true
	case strings.HasPrefix(model, "publishers/google/models/"):
		return providers.VendorVertex, true
	}
	return "", false
}

// isOSeries matches o1/o3/o4 style names without catching words that merely
// start with "o".
func isOSeries(model string) bool {
	if len(model) < 2 || model[0] != 'o' {
		return false
	}
	if model[1] < '0' || model[1] > '9' {
		return false
	}
	return len(model) == 2 || model[2] == '-' || (model[2] >= '0' && model[2] <= '9')
}
