// Package citations turns provider grounding evidence into normalized
// citations: extraction across the typed and dict response views, canonical
// URL dedupe, redirect resolution, and the forensic audit emitted when
// evidence exists but extraction comes up empty.
//
// Two extractor versions coexist behind deterministic tenant bucketing. V1 is
// the legacy typed-only scan. V2 walks the typed and dict views together:
// SDK releases have moved grounding fields between the two views more than
// once, and a run that silently loses its citations fails REQUIRED mode for
// the wrong reason. V2 iterates candidate indices up to the longer view and
// merges field-by-field.
package citations

import (
	"crypto/md5"
	"encoding/binary"
	"net/url"
	"strconv"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

// Extractor versions.
const (
	VersionLegacy       = 1
	VersionUnionOfViews = 2
)

// bucketSalt keeps extractor bucketing independent from any other
// tenant-keyed rollout.
const bucketSalt = "citation_extractor_v2"

// Shape labels recorded in telemetry (citations_shape_set).
const (
	ShapeOpenAITyped    = "openai_typed"
	ShapeOpenAIDict     = "openai_dict"
	ShapeGoogleUnion    = "google_grounding"
	ShapeGoogleV1Join   = "google_v1_join"
	ShapeGoogleUnlinked = "google_unlinked"
)

// Extraction is the result of one extraction pass.
type Extraction struct {
	// Anchored citations carry both a URL and a text span in the answer.
	Anchored []providers.Citation
	// Unlinked is URI-only evidence (grounding chunks without supports,
	// cited sources never referenced). Never satisfies REQUIRED mode.
	Unlinked []providers.Citation
	// ShapeSet lists the evidence shapes that contributed, for telemetry.
	ShapeSet []string
	// Version is the extractor version that ran.
	Version int
}

// Total returns the full evidence count, anchored plus unlinked.
func (x Extraction) Total() int { return len(x.Anchored) + len(x.Unlinked) }

// CoveragePct returns the share of evidence that is anchored, in percent.
func (x Extraction) CoveragePct() float64 {
	total := x.Total()
	if total == 0 {
		return 0
	}
	return float64(len(x.Anchored)) / float64(total) * 100
}

// Extractor extracts citations from response evidence. Immutable and safe
// for concurrent use.
type Extractor struct {
	v2Percent int
}

// NewExtractor returns an Extractor that routes v2Percent of tenants to the
// union-of-views extractor.
func NewExtractor(v2Percent int) *Extractor {
	if v2Percent < 0 {
		v2Percent = 0
	}
	if v2Percent > 100 {
		v2Percent = 100
	}
	return &Extractor{v2Percent: v2Percent}
}

// SelectVersion deterministically buckets a tenant. The first 8 bytes of
// md5(tenant_id || salt) as a big-endian integer, mod 100, strictly below the
// threshold selects V2. The same tenant lands in the same bucket on every
// replica.
func SelectVersion(tenantID string, v2Percent int) int {
	if v2Percent >= 100 {
		return VersionUnionOfViews
	}
	if v2Percent <= 0 {
		return VersionLegacy
	}
	sum := md5.Sum([]byte(tenantID + bucketSalt))
	bucket := binary.BigEndian.Uint64(sum[:8]) % 100
	if bucket < uint64(v2Percent) {
		return VersionUnionOfViews
	}
	return VersionLegacy
}

// Extract runs the version selected for the tenant. toolCalls gates the
// OpenAI dict fallback: the dict view is only scanned when tools actually ran
// and the typed walk produced nothing.
func (e *Extractor) Extract(vendor providers.Vendor, ev *providers.Evidence, tenantID string, toolCalls int) Extraction {
	version := SelectVersion(tenantID, e.v2Percent)
	var x Extraction
	switch vendor {
	case providers.VendorOpenAI:
		x = extractOpenAI(ev, toolCalls, version)
	case providers.VendorGemini, providers.VendorVertex:
		x = extractGoogle(ev, version)
	}
	x.Version = version
	return x
}

// ── OpenAI shapes ─────────────────────────────────────────────────────────────

func extractOpenAI(ev *providers.Evidence, toolCalls, version int) Extraction {
	var x Extraction
	d := newDeduper()

	for _, item := range ev.TypedItems() {
		if item.Type != "message" {
			continue
		}
		for _, block := range item.Blocks {
			for _, ann := range block.Annotations {
				if ann.Type != "url_citation" && ann.Type != "annotation" {
					continue
				}
				sourceType := providers.SourceURLCitation
				if ann.Type == "annotation" {
					sourceType = providers.SourceAnnotation
				}
				d.add(providers.Citation{
					URL:         ann.URL,
					Title:       ann.Title,
					SourceType:  sourceType,
					Anchored:    ann.URL != "" && ann.EndIndex > ann.StartIndex,
					StartOffset: ann.StartIndex,
					EndOffset:   ann.EndIndex,
				})
			}
		}
	}
	if d.count() > 0 {
		x.ShapeSet = append(x.ShapeSet, ShapeOpenAITyped)
	}

	// Dict fallback: only when the typed walk found nothing even though tools
	// ran. A quiet SDK field move looks exactly like this.
	if version == VersionUnionOfViews && d.count() == 0 && toolCalls > 0 {
		before := d.count()
		for _, item := range ev.DictOutput() {
			if providers.DictStr(item, "type") != "message" {
				continue
			}
			for _, block := range providers.DictList(item, "content") {
				for _, ann := range providers.DictList(block, "annotations") {
					c, ok := dictAnnotation(ann)
					if ok {
						d.add(c)
					}
				}
			}
		}
		if d.count() > before {
			x.ShapeSet = append(x.ShapeSet, ShapeOpenAIDict)
		}
	}

	x.Anchored, x.Unlinked = d.split()
	return x
}

// dictAnnotation normalizes one annotation-shaped dict, tolerating both the
// flat form and the nested url_citation form.
func dictAnnotation(ann map[string]any) (providers.Citation, bool) {
	body := ann
	if nested := providers.DictMap(ann, "url_citation"); nested != nil {
		body = nested
	}
	u := providers.DictStr(body, "url", "uri")
	if u == "" {
		return providers.Citation{}, false
	}
	start, _ := providers.DictInt(body, "start_index", "startIndex")
	end, _ := providers.DictInt(body, "end_index", "endIndex")
	return providers.Citation{
		URL:         u,
		Title:       providers.DictStr(body, "title"),
		SourceType:  providers.SourceAnnotation,
		Anchored:    end > start,
		StartOffset: start,
		EndOffset:   end,
		Raw:         ann,
	}, true
}

// ── Google shapes ─────────────────────────────────────────────────────────────

// chunkView, supportView, and citationView are the merged per-index
// projections of the typed and dict candidate views.
type (
	chunkView struct {
		uri    string
		title  string
		domain string
	}
	supportView struct {
		indices []int
		start   int64
		end     int64
		text    string
	}
	citationView struct {
		uri      string
		title    string
		sourceID string
		start    int64
		end      int64
	}
)

func extractGoogle(ev *providers.Evidence, version int) Extraction {
	var x Extraction
	d := newDeduper()

	typed := ev.TypedCandidates()
	var dict []map[string]any
	if version == VersionUnionOfViews {
		dict = ev.DictCandidates()
	}

	groundingHits := 0
	unlinkedHits := 0
	v1Hits := 0

	n := max(len(typed), len(dict))
	for i := 0; i < n; i++ {
		var tc *providers.GoogleCandidate
		if i < len(typed) {
			tc = &typed[i]
		}
		var dc map[string]any
		if i < len(dict) {
			dc = dict[i]
		}

		chunks := mergeChunks(tc, dc)
		supports := mergeSupports(tc, dc)

		// Chunk + support join: a support anchors every chunk it references.
		referenced := make(map[int]bool, len(chunks))
		for _, s := range supports {
			for _, ci := range s.indices {
				referenced[ci] = true
				if ci < 0 || ci >= len(chunks) || chunks[ci].uri == "" {
					continue
				}
				d.add(providers.Citation{
					URL:          chunks[ci].uri,
					SourceDomain: chunks[ci].domain,
					Title:        chunks[ci].title,
					Snippet:      s.text,
					SourceType:   providers.SourceDirectURI,
					Anchored:     s.end > s.start,
					StartOffset:  s.start,
					EndOffset:    s.end,
				})
				groundingHits++
			}
		}
		// Chunks never referenced by a support stay unlinked. They prove the
		// tool ran but anchor nothing.
		for idx, ch := range chunks {
			if referenced[idx] || ch.uri == "" {
				continue
			}
			d.add(providers.Citation{
				URL:          ch.uri,
				SourceDomain: ch.domain,
				Title:        ch.title,
				SourceType:   providers.SourceGroundingChunk,
				Anchored:     false,
			})
			unlinkedHits++
		}

		// Legacy v1 shape: citations join citedSources by source id.
		cites := mergeCitations(tc, dc)
		sources, order := citedSources(dc)
		used := make(map[string]bool, len(sources))
		for _, c := range cites {
			u := c.uri
			title := c.title
			if u == "" && c.sourceID != "" {
				if src, ok := sources[c.sourceID]; ok {
					u = src.uri
					if title == "" {
						title = src.title
					}
					used[c.sourceID] = true
				}
			}
			if u == "" {
				continue
			}
			d.add(providers.Citation{
				URL:         u,
				Title:       title,
				SourceType:  providers.SourceV1Join,
				Anchored:    c.end > c.start,
				StartOffset: c.start,
				EndOffset:   c.end,
			})
			v1Hits++
		}
		// Cited sources no citation referenced are emitted unlinked so the
		// evidence is not silently dropped.
		for _, id := range order {
			if used[id] || sources[id].uri == "" {
				continue
			}
			d.add(providers.Citation{
				URL:        sources[id].uri,
				Title:      sources[id].title,
				SourceType: providers.SourceV1Join,
				Anchored:   false,
			})
			unlinkedHits++
		}
	}

	if groundingHits > 0 {
		x.ShapeSet = append(x.ShapeSet, ShapeGoogleUnion)
	}
	if v1Hits > 0 {
		x.ShapeSet = append(x.ShapeSet, ShapeGoogleV1Join)
	}
	if unlinkedHits > 0 {
		x.ShapeSet = append(x.ShapeSet, ShapeGoogleUnlinked)
	}

	x.Anchored, x.Unlinked = d.split()
	return x
}

// mergeChunks unions the typed and dict groundingChunks views index by index,
// preferring whichever view has a field populated.
func mergeChunks(tc *providers.GoogleCandidate, dc map[string]any) []chunkView {
	var typed []providers.GoogleChunk
	if tc != nil {
		typed = tc.Chunks
	}
	var dictChunks []map[string]any
	if gm := providers.DictMap(dc, "groundingMetadata", "grounding_metadata"); gm != nil {
		dictChunks = providers.DictList(gm, "groundingChunks", "grounding_chunks")
	}

	n := max(len(typed), len(dictChunks))
	out := make([]chunkView, n)
	for i := 0; i < n; i++ {
		var v chunkView
		if i < len(typed) {
			v.uri = typed[i].URI
			v.title = typed[i].Title
			v.domain = typed[i].Domain
		}
		if i < len(dictChunks) {
			web := providers.DictMap(dictChunks[i], "web", "retrievedContext", "retrieved_context")
			if web != nil {
				if v.uri == "" {
					v.uri = providers.DictStr(web, "uri")
				}
				if v.title == "" {
					v.title = providers.DictStr(web, "title")
				}
				if v.domain == "" {
					v.domain = providers.DictStr(web, "domain")
				}
			}
		}
		out[i] = v
	}
	return out
}

// mergeSupports unions the typed and dict groundingSupports views.
func mergeSupports(tc *providers.GoogleCandidate, dc map[string]any) []supportView {
	var typed []providers.GoogleSupport
	if tc != nil {
		typed = tc.Supports
	}
	var dictSupports []map[string]any
	if gm := providers.DictMap(dc, "groundingMetadata", "grounding_metadata"); gm != nil {
		dictSupports = providers.DictList(gm, "groundingSupports", "grounding_supports")
	}

	n := max(len(typed), len(dictSupports))
	out := make([]supportView, 0, n)
	for i := 0; i < n; i++ {
		var v supportView
		if i < len(typed) {
			v.indices = typed[i].ChunkIndices
			v.start = typed[i].StartIndex
			v.end = typed[i].EndIndex
			v.text = typed[i].Text
		}
		if i < len(dictSupports) {
			ds := dictSupports[i]
			if len(v.indices) == 0 {
				v.indices = dictInts(ds, "groundingChunkIndices", "grounding_chunk_indices")
			}
			if seg := providers.DictMap(ds, "segment"); seg != nil {
				if v.end == 0 {
					v.start, _ = providers.DictInt(seg, "startIndex", "start_index")
					v.end, _ = providers.DictInt(seg, "endIndex", "end_index")
				}
				if v.text == "" {
					v.text = providers.DictStr(seg, "text")
				}
			}
		}
		if len(v.indices) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// mergeCitations unions the typed and dict citationMetadata views.
func mergeCitations(tc *providers.GoogleCandidate, dc map[string]any) []citationView {
	var typed []providers.GoogleCitation
	if tc != nil {
		typed = tc.Citations
	}
	var dictCites []map[string]any
	if cm := providers.DictMap(dc, "citationMetadata", "citation_metadata"); cm != nil {
		dictCites = providers.DictList(cm, "citations", "citationSources")
	}

	n := max(len(typed), len(dictCites))
	out := make([]citationView, 0, n)
	for i := 0; i < n; i++ {
		var v citationView
		if i < len(typed) {
			v.uri = typed[i].URI
			v.title = typed[i].Title
			v.sourceID = typed[i].SourceID
			v.start = typed[i].StartIndex
			v.end = typed[i].EndIndex
		}
		if i < len(dictCites) {
			ds := dictCites[i]
			if v.uri == "" {
				v.uri = providers.DictStr(ds, "uri", "url")
			}
			if v.title == "" {
				v.title = providers.DictStr(ds, "title")
			}
			if v.sourceID == "" {
				v.sourceID = providers.DictStr(ds, "sourceId", "source_id")
			}
			if v.end == 0 {
				v.start, _ = providers.DictInt(ds, "startIndex", "start_index")
				v.end, _ = providers.DictInt(ds, "endIndex", "end_index")
			}
		}
		if v.uri != "" || v.sourceID != "" {
			out = append(out, v)
		}
	}
	return out
}

// citedSources reads the legacy citedSources array from the dict view,
// returning a lookup by source id plus the original order for stable
// unlinked emission. Entries without an explicit id are keyed by position.
func citedSources(dc map[string]any) (map[string]chunkView, []string) {
	var list []map[string]any
	if cm := providers.DictMap(dc, "citationMetadata", "citation_metadata"); cm != nil {
		list = providers.DictList(cm, "citedSources", "cited_sources")
	}
	if list == nil {
		list = providers.DictList(dc, "citedSources")
	}
	if len(list) == 0 {
		return nil, nil
	}
	sources := make(map[string]chunkView, len(list))
	order := make([]string, 0, len(list))
	for i, src := range list {
		id := providers.DictStr(src, "id", "sourceId", "source_id")
		if id == "" {
			id = indexKey(i)
		}
		sources[id] = chunkView{
			uri:   providers.DictStr(src, "uri", "url"),
			title: providers.DictStr(src, "title"),
		}
		order = append(order, id)
	}
	return sources, order
}

func indexKey(i int) string {
	return "idx-" + strconv.Itoa(i)
}

// dictInts reads an integer array under the first key that has one.
func dictInts(m map[string]any, keys ...string) []int {
	for _, k := range keys {
		raw, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]int, 0, len(raw))
		for _, item := range raw {
			switch v := item.(type) {
			case float64:
				out = append(out, int(v))
			case int:
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}

// ── Canonical URLs and dedupe ─────────────────────────────────────────────────

// trackingParams are query parameters stripped during canonicalization, in
// addition to any parameter with a utm_ prefix.
var trackingParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"mc_cid": true,
	"mc_eid": true,
}

// CanonicalURL lowercases the scheme and host, strips the fragment, and
// removes tracking parameters. Unparseable input is returned as-is: dedupe
// degrades to exact matching rather than dropping evidence.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	changed := false
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(k)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// deduper collapses citations by canonical URL, keeping the first
// occurrence's position and upgrading it when a later duplicate is anchored.
type deduper struct {
	order []string
	byURL map[string]*providers.Citation
}

func newDeduper() *deduper {
	return &deduper{byURL: make(map[string]*providers.Citation)}
}

func (d *deduper) add(c providers.Citation) {
	if c.URL == "" {
		return
	}
	c.URL = CanonicalURL(c.URL)
	if c.SourceDomain == "" {
		if u, err := url.Parse(c.URL); err == nil {
			c.SourceDomain = u.Host
		}
	}
	key := c.URL
	if existing, ok := d.byURL[key]; ok {
		if c.Anchored && !existing.Anchored {
			existing.Anchored = true
			existing.SourceType = c.SourceType
			existing.StartOffset = c.StartOffset
			existing.EndOffset = c.EndOffset
			if existing.Snippet == "" {
				existing.Snippet = c.Snippet
			}
		}
		if existing.Title == "" {
			existing.Title = c.Title
		}
		return
	}
	d.byURL[key] = &c
	d.order = append(d.order, key)
}

func (d *deduper) count() int { return len(d.order) }

// split returns the deduped citations partitioned into anchored and unlinked,
// in first-seen order.
func (d *deduper) split() (anchored, unlinked []providers.Citation) {
	for _, key := range d.order {
		c := *d.byURL[key]
		if c.Anchored {
			anchored = append(anchored, c)
		} else {
			unlinked = append(unlinked, c)
		}
	}
	return anchored, unlinked
}
