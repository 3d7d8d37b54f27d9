// Package urlcache stores resolved redirect targets for the citation
// resolver. Google grounding URIs are opaque redirect wrappers; resolving one
// costs an outbound round trip, so the final URL is cached under a digest of
// the wrapper.
//
// Two backends are available:
//   - Redis  — shared across replicas, recommended for production.
//   - Memory — in-process TTL cache, zero external dependencies.
//
// Both implement the Cache interface. Cache failures never fail a run: a
// broken cache behaves like a miss.
package urlcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL is how long a resolved mapping stays valid. Redirect targets
// are stable over days; a day bounds staleness if a publisher moves a page.
const DefaultTTL = 24 * time.Hour

// Cache maps wrapper URLs to their resolved final URLs.
type Cache interface {
	// Get returns the resolved URL for rawURL, ok=false on a miss.
	Get(ctx context.Context, rawURL string) (string, bool)
	// Set stores the resolved URL. ttl <= 0 selects DefaultTTL.
	Set(ctx context.Context, rawURL, finalURL string, ttl time.Duration)
	// Close releases backend resources.
	Close() error
}

// key derives the storage key for a wrapper URL. Wrappers carry long opaque
// tokens; hashing keeps keys short and avoids persisting the token itself.
func key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "urlresolve:" + hex.EncodeToString(sum[:])
}
