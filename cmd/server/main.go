package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"

	"github.com/dropforge/sessiongate/internal/admin"
	"github.com/dropforge/sessiongate/internal/auth"
	"github.com/dropforge/sessiongate/internal/guard"
	"github.com/dropforge/sessiongate/internal/kv"
	"github.com/dropforge/sessiongate/internal/ratelimit"
	"github.com/dropforge/sessiongate/internal/session"
	"github.com/dropforge/sessiongate/internal/store"
)

func main() {
	ctx := context.Background()

	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	production := env == "production"
	if production && strings.TrimSpace(os.Getenv("SESSION_SECRET")) == "" {
		log.Fatalf("SESSION_SECRET must be set in production")
	}

	// Redis: constructed once, injected everywhere, never reconnected.
	rdb, err := kv.Connect(ctx, kv.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Postgres: durable user records.
	db, err := sql.Open("postgres", os.Getenv("POSTGRES_URL"))
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	// Simple schema migration on startup (for now)
	if schema, err := os.ReadFile("internal/store/schema.sql"); err == nil {
		if _, err := db.Exec(string(schema)); err != nil {
			log.Printf("Schema init error (might be already existing): %v", err)
		}
	}

	allowedOrigins := splitAndTrim(os.Getenv("ALLOWED_ORIGINS"))
	if len(allowedOrigins) == 0 {
		log.Fatalf("ALLOWED_ORIGINS must name at least one origin")
	}

	verifier, err := auth.NewTokenVerifier(os.Getenv("PRIVY_APP_ID"), os.Getenv("PRIVY_VERIFICATION_KEY"))
	if err != nil {
		log.Fatalf("Failed to init token verifier: %v", err)
	}

	users := store.New(db)
	sessions := session.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	g := guard.New(allowedOrigins, limiter)
	authService := auth.New(users, sessions, verifier, production)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Auth routes: strictest policy, they are the login brute-force target.
	authGroup := e.Group("/auth", guard.Middleware(g, ratelimit.PolicyAuth))
	authGroup.POST("/callback", authService.Callback)
	authGroup.GET("/session", authService.Status)
	authGroup.GET("/csrf", authService.CSRFToken)
	authGroup.POST("/logout", authService.Logout, authService.CSRFMiddleware())

	// Application API routes.
	apiGroup := e.Group("/api", guard.Middleware(g, ratelimit.PolicyAPI), authService.CSRFMiddleware())
	apiGroup.GET("/me", authService.Me)

	// Admin surface: bearer token + optional host pinning + local limiter.
	statsHandler := admin.NewHandler(admin.NewStatsService(rdb, nil))
	adminGroup := e.Group("/admin",
		admin.APIMiddleware(os.Getenv("ADMIN_API_TOKEN"), os.Getenv("ADMIN_API_HOST")),
		admin.RateLimitMiddleware(admin.DefaultRateLimitConfig),
	)
	adminGroup.GET("/stats", statsHandler.Stats)

	addr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("Server starting on %s", addr)
	e.Logger.Fatal(e.Start(addr))
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
