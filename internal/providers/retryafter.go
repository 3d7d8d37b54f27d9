package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryAfterFromHeaders extracts the longest rate-limit reset hint from a
// 429 response: the standard Retry-After header (delta seconds or an
// HTTP-date) and the OpenAI-style x-ratelimit-reset-* headers (duration
// strings like "6m12s" or "154ms", occasionally bare seconds).
func RetryAfterFromHeaders(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	var best time.Duration
	if v := h.Get("Retry-After"); v != "" {
		if d := parseRetryAfterValue(v); d > best {
			best = d
		}
	}
	for _, key := range []string{"X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Tokens"} {
		if v := h.Get(key); v != "" {
			if d := parseResetValue(v); d > best {
				best = d
			}
		}
	}
	return best
}

func parseRetryAfterValue(v string) time.Duration {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func parseResetValue(v string) time.Duration {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return 0
}
