package citations

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

// AuditMetaKey is the response metadata key carrying the zero-citation
// diagnostic.
const AuditMetaKey = "citations_audit"

// auditMaxBytes caps the serialized audit. The audit rides in telemetry
// metadata on every affected run, so it stays small.
const (
	auditMaxBytes    = 1024
	auditSampleItems = 2
	auditMaxString   = 80
	auditMaxEntries  = 2
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Audit builds the diagnostic emitted when tools ran but extraction produced
// nothing. It samples the shape of the evidence, not its content: key names
// at the candidate level plus the first two items of each non-empty array,
// strings scrubbed and truncated. This is the signal that separates
// "provider returned empty evidence" from "extractor missed a field move".
func Audit(ev *providers.Evidence) map[string]any {
	out := make(map[string]any)

	switch {
	case ev == nil || (ev.Dict == nil && ev.OpenAI == nil && ev.Google == nil):
		out["note"] = "no evidence payload"
	case len(ev.DictCandidates()) > 0:
		out["candidates"] = auditEntries(ev.DictCandidates())
	case len(ev.DictOutput()) > 0:
		out["output"] = auditEntries(ev.DictOutput())
	case ev.Dict != nil:
		out["keys"] = sortedKeys(ev.Dict)
	default:
		out["note"] = "typed view only"
	}

	return capAudit(out)
}

// auditEntries samples the first entries of a candidate/output array.
func auditEntries(list []map[string]any) []map[string]any {
	n := min(len(list), auditMaxEntries)
	out := make([]map[string]any, 0, n)
	for _, entry := range list[:n] {
		out = append(out, auditNode(entry, 0))
	}
	return out
}

// auditNode summarizes one dict node: its key names, a scrubbed sample of
// the first items of each non-empty array, and a dive into nested metadata
// objects. At the top level only metadata-named maps are chased and scalars
// are dropped, so answer content never enters the audit.
func auditNode(m map[string]any, depth int) map[string]any {
	node := map[string]any{"keys": sortedKeys(m)}
	// Depth 3 is the deepest leaf the extractor reads
	// (candidate > groundingMetadata > chunk > web).
	if depth >= 4 {
		return node
	}
	for k, v := range m {
		switch val := v.(type) {
		case []any:
			if len(val) == 0 {
				continue
			}
			sample := make([]any, 0, auditSampleItems)
			for _, item := range val[:min(len(val), auditSampleItems)] {
				sample = append(sample, auditValue(item, depth+1))
			}
			node[k+"_sample"] = sample
		case map[string]any:
			if depth > 0 || isMetadataKey(k) {
				node[k] = auditNode(val, depth+1)
			}
		case string:
			if depth > 0 {
				node[k] = scrub(val)
			}
		case float64, int, int64, bool:
			if depth > 0 {
				node[k] = val
			}
		}
	}
	return node
}

// isMetadataKey matches the blocks the extractor reads.
func isMetadataKey(k string) bool {
	lk := strings.ToLower(k)
	return strings.Contains(lk, "metadata") || strings.Contains(lk, "grounding") || strings.Contains(lk, "citation")
}

func auditValue(v any, depth int) any {
	switch val := v.(type) {
	case string:
		return scrub(val)
	case map[string]any:
		return auditNode(val, depth)
	case []any:
		return len(val)
	default:
		return val
	}
}

// scrub masks email addresses and truncates long strings. The audit must be
// safe to persist verbatim.
func scrub(s string) string {
	s = emailRe.ReplaceAllString(s, "[email]")
	runes := []rune(s)
	if len(runes) > auditMaxString {
		return string(runes[:auditMaxString]) + "..."
	}
	return s
}

// capAudit enforces the serialized size limit, degrading detail in tiers
// instead of truncating mid-JSON.
func capAudit(audit map[string]any) map[string]any {
	raw, err := json.Marshal(audit)
	if err != nil {
		return map[string]any{"note": "audit serialization failed"}
	}
	if len(raw) <= auditMaxBytes {
		return audit
	}
	stripped := stripSamples(audit)
	if raw, err = json.Marshal(stripped); err == nil && len(raw) <= auditMaxBytes {
		return stripped
	}
	return map[string]any{"note": "audit overflow", "bytes": len(raw)}
}

// stripSamples drops *_sample arrays, leaving key-shape information only.
func stripSamples(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		if strings.HasSuffix(k, "_sample") {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = stripSamples(val)
		case []map[string]any:
			entries := make([]map[string]any, 0, len(val))
			for _, e := range val {
				entries = append(entries, stripSamples(e))
			}
			out[k] = entries
		default:
			out[k] = v
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
