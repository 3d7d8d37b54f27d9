package urlcache

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Blocklist decides whether the resolver may fetch a host. It supports two
// matching modes:
//
//   - Exact match: the host must equal the rule exactly (case-insensitive).
//   - Regex match: the host is tested against a compiled regexp.
//
// A nil *Blocklist is safe to call — Blocked always returns false. A small
// built-in set keeps the resolver away from link-local and cloud metadata
// endpoints regardless of configuration.
type Blocklist struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// builtinBlocked hosts are never fetched. SSRF guard for the resolver, which
// follows attacker-influencable redirect chains.
var builtinBlocked = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"169.254.169.254",
	"metadata.google.internal",
}

// NewBlocklist compiles the given exact hosts and regex patterns. Returns an
// error if any pattern fails to compile so misconfiguration is caught at
// startup.
func NewBlocklist(exact, patterns []string) (*Blocklist, error) {
	bl := &Blocklist{
		exact: make(map[string]struct{}, len(exact)+len(builtinBlocked)),
	}

	for _, h := range builtinBlocked {
		bl.exact[h] = struct{}{}
	}
	for _, h := range exact {
		if h != "" {
			bl.exact[strings.ToLower(h)] = struct{}{}
		}
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("urlcache blocklist: invalid pattern %q: %w", p, err)
		}
		bl.patterns = append(bl.patterns, re)
	}

	return bl, nil
}

// Blocked reports whether the resolver must not fetch host. Exact rules are
// checked first (O(1)), then regex patterns in order. The port, if any, is
// ignored.
func (bl *Blocklist) Blocked(host string) bool {
	if bl == nil {
		return false
	}
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if _, ok := bl.exact[host]; ok {
		return true
	}
	for _, re := range bl.patterns {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Len returns the total number of rules configured, built-ins included.
func (bl *Blocklist) Len() int {
	if bl == nil {
		return 0
	}
	return len(bl.exact) + len(bl.patterns)
}
