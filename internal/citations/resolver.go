package citations

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/urlcache"
)

// Resolver defaults. The wall budget covers the whole batch, not one URL.
const (
	DefaultResolverBudget  = 3 * time.Second
	DefaultResolverMaxURLs = 8
	maxRedirectHops        = 5
)

// Resolver unwraps redirect-wrapper citation URLs (Google grounding returns
// vertexaisearch redirect links, not the real source) into their final
// destinations. Resolution is strictly bounded: a capped number of lookups
// per response, one shared wall-clock budget, and a host blocklist on both
// the wrapper and the destination. Anything left unresolved keeps the
// wrapper URL and is downgraded to redirect_only rather than dropped.
type Resolver struct {
	client    *http.Client
	cache     urlcache.Cache
	blocklist *urlcache.Blocklist
	budget    time.Duration
	maxURLs   int
}

// NewResolver builds a Resolver. cache may be nil (no caching); blocklist may
// be nil (builtin-only checks are then skipped, callers should pass one).
func NewResolver(cache urlcache.Cache, blocklist *urlcache.Blocklist, budget time.Duration, maxURLs int) *Resolver {
	if budget <= 0 {
		budget = DefaultResolverBudget
	}
	if maxURLs <= 0 {
		maxURLs = DefaultResolverMaxURLs
	}
	r := &Resolver{
		cache:     cache,
		blocklist: blocklist,
		budget:    budget,
		maxURLs:   maxURLs,
	}
	r.client = &http.Client{
		Timeout: budget,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirectHops {
				return http.ErrUseLastResponse
			}
			if r.blocklist.Blocked(req.URL.Host) {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return r
}

// needsResolution reports whether the URL is a redirect wrapper worth
// chasing. Plain source URLs pass through untouched.
func needsResolution(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == "vertexaisearch.cloud.google.com" {
		return true
	}
	return strings.Contains(u.Path, "grounding-api-redirect")
}

// Resolve rewrites wrapper URLs in place of the returned copy. It reports
// whether any citation was left unresolved (cap overflow, budget expiry, or
// a blocked destination); the caller stamps resolver_truncated from it.
func (r *Resolver) Resolve(ctx context.Context, citations []providers.Citation) ([]providers.Citation, bool) {
	if len(citations) == 0 {
		return citations, false
	}

	out := make([]providers.Citation, len(citations))
	copy(out, citations)

	var pending []int
	truncated := false
	for i := range out {
		if !needsResolution(out[i].URL) {
			continue
		}
		if len(pending) >= r.maxURLs {
			downgrade(&out[i])
			truncated = true
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, truncated
	}

	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	resolved := make([]string, len(out))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxURLs)
	for _, idx := range pending {
		g.Go(func() error {
			resolved[idx] = r.resolveOne(gctx, out[idx].URL)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures stay unresolved

	for _, idx := range pending {
		final := resolved[idx]
		if final == "" || final == out[idx].URL {
			downgrade(&out[idx])
			truncated = true
			continue
		}
		out[idx].URL = CanonicalURL(final)
		if u, err := url.Parse(out[idx].URL); err == nil {
			out[idx].SourceDomain = u.Host
		}
	}

	return dedupeResolved(out), truncated
}

// downgrade marks a citation as an unresolved wrapper. An unresolved URL
// is never anchored, whatever span it carried.
func downgrade(c *providers.Citation) {
	c.SourceType = providers.SourceRedirectOnly
	c.Anchored = false
}

// resolveOne follows one wrapper URL to its destination. HEAD first; servers
// that reject HEAD get one GET. Returns "" when the URL could not be
// resolved or the destination is blocked.
func (r *Resolver) resolveOne(ctx context.Context, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || r.blocklist.Blocked(u.Host) {
		return ""
	}

	if r.cache != nil {
		if final, ok := r.cache.Get(ctx, raw); ok {
			return final
		}
	}

	final, status := r.follow(ctx, http.MethodHead, raw)
	if final == "" || status == http.StatusMethodNotAllowed || status >= 500 {
		final, _ = r.follow(ctx, http.MethodGet, raw)
	}
	if final == "" {
		return ""
	}
	if fu, err := url.Parse(final); err != nil || r.blocklist.Blocked(fu.Host) {
		slog.WarnContext(ctx, "resolver_blocked_destination",
			slog.String("wrapper", raw))
		return ""
	}

	if r.cache != nil && final != raw {
		r.cache.Set(ctx, raw, final, urlcache.DefaultTTL)
	}
	return final
}

// follow issues one request and returns the final URL after redirects plus
// the terminal status code.
func (r *Resolver) follow(ctx context.Context, method, raw string) (string, int) {
	req, err := http.NewRequestWithContext(ctx, method, raw, nil)
	if err != nil {
		return "", 0
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0
	}
	defer resp.Body.Close()
	// 3xx terminal responses mean CheckRedirect stopped the chase (hop cap or
	// blocked hop); the Location target was not vetted, so don't trust it.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return "", resp.StatusCode
	}
	return resp.Request.URL.String(), resp.StatusCode
}

// dedupeResolved re-collapses citations after resolution: two wrappers can
// unwrap to the same destination.
func dedupeResolved(citations []providers.Citation) []providers.Citation {
	d := newDeduper()
	for _, c := range citations {
		d.add(c)
	}
	anchored, unlinked := d.split()
	merged := make([]providers.Citation, 0, len(anchored)+len(unlinked))
	merged = append(merged, anchored...)
	return append(merged, unlinked...)
}
