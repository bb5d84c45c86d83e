// Package kv owns the process-wide connection to the Redis key-value store
// that backs sessions and rate-limit counters.
//
// The client is constructed exactly once in main and injected into every
// consumer. It is never reconnected implicitly: if the store becomes
// unreachable after startup, operations fail and callers propagate the
// error instead of rebuilding the connection per request.
package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

var ErrMissingURL = errors.New("kv: REDIS_URL is not set")

// Config carries the connection parameters for the key-value store.
// Token is optional and overrides the password embedded in the URL,
// matching hosted Redis offerings that hand out URL + token pairs.
type Config struct {
	URL   string
	Token string
}

// ConfigFromEnv reads REDIS_URL and REDIS_TOKEN.
func ConfigFromEnv() Config {
	return Config{
		URL:   strings.TrimSpace(os.Getenv("REDIS_URL")),
		Token: strings.TrimSpace(os.Getenv("REDIS_TOKEN")),
	}
}

// Connect parses the configuration, dials the store and verifies liveness
// with a ping. It fails fast on missing configuration or an unreachable
// store; there is no retry loop here because a session layer without its
// store is not serving anything useful.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	if cfg.Token != "" {
		opts.Password = cfg.Token
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: ping failed: %w", err)
	}

	return client, nil
}
