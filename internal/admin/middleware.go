// Package admin exposes the operational surface: session and rate-limit
// statistics behind a bearer token, a host allow-list and a local
// rate limiter.
package admin

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const bearerPrefix = "Bearer "

// RateLimitConfig tunes the in-memory limiter for admin endpoints. The
// admin API is low-traffic and single-operator, so a process-local token
// bucket is enough; the Redis sliding window stays reserved for user
// traffic.
type RateLimitConfig struct {
	Rate      rate.Limit
	Burst     int
	ExpiresIn time.Duration
}

var DefaultRateLimitConfig = RateLimitConfig{
	Rate:      rate.Limit(1),
	Burst:     10,
	ExpiresIn: 5 * time.Minute,
}

// APIMiddleware gates admin routes on a bearer token and, when configured,
// a dedicated admin host. With no token configured the admin API is
// disabled outright rather than left open.
func APIMiddleware(token string, allowedHost string) echo.MiddlewareFunc {
	configuredToken := strings.TrimSpace(token)
	configuredHost := normalizeHost(allowedHost)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if configuredToken == "" {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"message": "admin api disabled: ADMIN_API_TOKEN is not set",
				})
			}

			if configuredHost != "" && normalizeHost(c.Request().Host) != configuredHost {
				return c.NoContent(http.StatusNotFound)
			}

			authHeader := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			}

			provided := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(configuredToken)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			}

			return next(c)
		}
	}
}

// RateLimitMiddleware wraps echo's memory-store limiter keyed by client IP.
func RateLimitMiddleware(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Rate <= 0 {
		config.Rate = DefaultRateLimitConfig.Rate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultRateLimitConfig.Burst
	}
	if config.ExpiresIn <= 0 {
		config.ExpiresIn = DefaultRateLimitConfig.ExpiresIn
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      config.Rate,
		Burst:     config.Burst,
		ExpiresIn: config.ExpiresIn,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			ip := strings.TrimSpace(c.RealIP())
			if ip == "" {
				ip = "unknown"
			}
			return ip, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "forbidden"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
		},
	})
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
