package ratelimit

import (
	"net/http"
	"strings"
)

// loopbackSentinel is returned when no proxy header identifies the caller.
const loopbackSentinel = "127.0.0.1"

// ClientIP resolves the caller's IP from proxy headers in trust order:
// the CDN's connecting-IP header first, then the first entry of
// X-Forwarded-For, then X-Real-IP. Requests that arrive with none of them
// (local dev, health checks) resolve to the loopback sentinel.
func ClientIP(h http.Header) string {
	if ip := strings.TrimSpace(h.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}

	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
		return ip
	}

	return loopbackSentinel
}
