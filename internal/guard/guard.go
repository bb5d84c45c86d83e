// Package guard composes origin validation and rate limiting into the
// single check that runs at the top of every protected route.
package guard

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropforge/sessiongate/internal/ratelimit"
)

// Error codes carried in rejection bodies.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
)

// Rejection describes why a request was refused. A nil *Rejection from
// Check means the caller may proceed.
type Rejection struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
	Reset   int64  `json:"reset,omitempty"`
}

// Guard validates request origins against an allow-list and enforces the
// named rate-limit policy. One Guard is shared by all routes.
type Guard struct {
	allowedHosts map[string]struct{}
	limiter      *ratelimit.Limiter
}

// New builds a Guard. Allowed origins may be bare hosts or full URLs;
// they are normalized to lowercase hosts without ports.
func New(allowedOrigins []string, limiter *ratelimit.Limiter) *Guard {
	hosts := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if host := normalizeHost(origin); host != "" {
			hosts[host] = struct{}{}
		}
	}
	return &Guard{allowedHosts: hosts, limiter: limiter}
}

// Check runs origin validation first, then the rate limit for the given
// policy. Order matters: a forged origin should be refused before it can
// consume rate-limit budget.
func (g *Guard) Check(r *http.Request, policy string) *Rejection {
	if rej := g.checkOrigin(r); rej != nil {
		return rej
	}

	ip := ratelimit.ClientIP(r.Header)
	result := g.limiter.Check(r.Context(), ip, policy)
	if !result.Success {
		return &Rejection{
			Status:  http.StatusTooManyRequests,
			Message: "too many requests",
			Code:    CodeRateLimited,
			Reset:   result.Reset,
		}
	}

	return nil
}

// checkOrigin matches the request's Origin, falling back to Referer, then
// to the Host header when neither is present (same-origin fetches and
// server action calls often omit both).
func (g *Guard) checkOrigin(r *http.Request) *Rejection {
	host := ""
	switch {
	case r.Header.Get("Origin") != "":
		host = hostFromURL(r.Header.Get("Origin"))
	case r.Header.Get("Referer") != "":
		host = hostFromURL(r.Header.Get("Referer"))
	default:
		host = normalizeHost(r.Host)
	}

	if _, ok := g.allowedHosts[host]; !ok {
		return &Rejection{
			Status:  http.StatusForbidden,
			Message: "origin not allowed",
			Code:    CodeUnauthorized,
		}
	}
	return nil
}

func hostFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return normalizeHost(raw)
	}
	return normalizeHost(u.Host)
}

func normalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimSuffix(host, "/")

	if parsedHost, _, err := net.SplitHostPort(host); err == nil {
		host = parsedHost
	}

	return strings.Trim(host, "[]")
}
