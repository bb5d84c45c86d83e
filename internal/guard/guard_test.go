package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dropforge/sessiongate/internal/ratelimit"
)

func newTestGuard(t *testing.T, origins ...string) *Guard {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return New(origins, ratelimit.NewLimiter(rdb))
}

func TestOriginValidation(t *testing.T) {
	g := newTestGuard(t, "app.example.com", "https://admin.example.com/")

	tests := []struct {
		name    string
		origin  string
		referer string
		host    string
		allowed bool
	}{
		{name: "origin allowed", origin: "https://app.example.com", host: "api.internal", allowed: true},
		{name: "origin with port allowed", origin: "https://app.example.com:3000", host: "api.internal", allowed: true},
		{name: "origin denied", origin: "https://evil.example.com", host: "app.example.com", allowed: false},
		{name: "normalized allow-list entry", origin: "https://admin.example.com", host: "api.internal", allowed: true},
		{name: "referer fallback allowed", referer: "https://app.example.com/campaigns/1", host: "api.internal", allowed: true},
		{name: "referer fallback denied", referer: "https://evil.example.com/", host: "app.example.com", allowed: false},
		{name: "host fallback allowed", host: "app.example.com", allowed: true},
		{name: "host fallback denied", host: "evil.example.com", allowed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.referer != "" {
				req.Header.Set("Referer", tc.referer)
			}

			rej := g.Check(req, ratelimit.PolicyDefault)
			if tc.allowed && rej != nil {
				t.Fatalf("expected pass, got rejection %+v", rej)
			}
			if !tc.allowed {
				if rej == nil {
					t.Fatal("expected rejection")
				}
				if rej.Status != http.StatusForbidden || rej.Code != CodeUnauthorized {
					t.Fatalf("origin rejection should be 403/%s, got %d/%s", CodeUnauthorized, rej.Status, rej.Code)
				}
			}
		})
	}
}

func TestRateLimitRejection(t *testing.T) {
	g := newTestGuard(t, "app.example.com")

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Host = "app.example.com"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		return req
	}

	for i := 0; i < 20; i++ {
		if rej := g.Check(newReq(), ratelimit.PolicyAuth); rej != nil {
			t.Fatalf("request %d rejected early: %+v", i+1, rej)
		}
	}

	rej := g.Check(newReq(), ratelimit.PolicyAuth)
	if rej == nil {
		t.Fatal("expected rate-limit rejection")
	}
	if rej.Status != http.StatusTooManyRequests || rej.Code != CodeRateLimited {
		t.Fatalf("rate-limit rejection should be 429/%s, got %d/%s", CodeRateLimited, rej.Status, rej.Code)
	}
	if rej.Reset == 0 {
		t.Fatal("rate-limit rejection must carry a reset timestamp")
	}
}

func TestOriginCheckedBeforeRateLimit(t *testing.T) {
	g := newTestGuard(t, "app.example.com")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Host = "evil.example.com"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	for i := 0; i < 25; i++ {
		rej := g.Check(req, ratelimit.PolicyAuth)
		if rej == nil || rej.Code != CodeUnauthorized {
			t.Fatalf("forged origin must always hit the origin check, got %+v", rej)
		}
	}

	// The forged requests above must not have consumed the IP's budget.
	ok := httptest.NewRequest(http.MethodPost, "/", nil)
	ok.Host = "app.example.com"
	ok.Header.Set("X-Forwarded-For", "198.51.100.1")
	if rej := g.Check(ok, ratelimit.PolicyAuth); rej != nil {
		t.Fatalf("legitimate request was rejected: %+v", rej)
	}
}

func TestMiddlewareErrorContract(t *testing.T) {
	g := newTestGuard(t, "app.example.com")

	e := echo.New()
	handler := Middleware(g, ratelimit.PolicyAuth)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Host = "evil.example.com"
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body is not JSON: %v", err)
	}
	if body.Code != CodeUnauthorized || body.Error == "" {
		t.Fatalf("unexpected rejection body: %+v", body)
	}

	allowed := httptest.NewRequest(http.MethodPost, "/", nil)
	allowed.Host = "app.example.com"
	rec = httptest.NewRecorder()
	if err := handler(e.NewContext(allowed, rec)); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed request status=%d want 200", rec.Code)
	}
}
