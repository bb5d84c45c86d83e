// Package ratelimit bounds the request rate per client IP using sliding
// window counters kept in Redis, so all instances of the service share one
// budget per client.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const ratelimitKeyPrefix = "ratelimit:"

// Policy names accepted by Check. Each policy counts in its own key
// namespace, so hitting one budget never consumes another.
const (
	PolicyDefault = "default"
	PolicyAuth    = "auth"
	PolicyAPI     = "api"
)

type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var policies = map[string]Policy{
	PolicyDefault: {Name: PolicyDefault, Limit: 100, Window: 15 * time.Minute},
	PolicyAuth:    {Name: PolicyAuth, Limit: 20, Window: 5 * time.Minute},
	PolicyAPI:     {Name: PolicyAPI, Limit: 50, Window: time.Minute},
}

// failOpenRemaining and failOpenWindow shape the degraded result returned
// when Redis itself is unavailable: the request is allowed, but the client
// is told almost nothing is left and to come back in a minute.
const (
	failOpenRemaining = 5
	failOpenWindow    = time.Minute
)

// Result reports the outcome of a rate-limit check. Reset is unix
// milliseconds.
type Result struct {
	Success   bool  `json:"success"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Limiter counts requests in Redis sorted sets, one per policy and client.
// Safe for concurrent use; all coordination happens in Redis.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// NewLimiterWithClock is used by tests that need to step the clock.
func NewLimiterWithClock(rdb *redis.Client, now func() time.Time) *Limiter {
	return &Limiter{rdb: rdb, now: now}
}

func limiterKey(policy, ip string) string {
	return ratelimitKeyPrefix + policy + ":" + ip
}

// Check records one request for ip under the named policy and reports
// whether it fits in the sliding window. Unknown policy names fall back to
// the default policy.
//
// Trim, add and count run in one MULTI/EXEC pipeline, so two concurrent
// requests can never both observe a pre-admission count: each sees the
// post-add total including the other's member, and the limit holds. A
// rejected request removes its own member again so it consumes no budget.
//
// FAIL OPEN: any Redis error degrades to an allowed result with a reduced
// remaining budget and a one-minute reset instead of rejecting the request.
// An unavailable limiter should not turn an infra outage into a full
// outage; the trade-off is deliberate and logged.
func (l *Limiter) Check(ctx context.Context, ip, policyName string) Result {
	policy, ok := policies[policyName]
	if !ok {
		policy = policies[PolicyDefault]
	}

	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := nowMs - policy.Window.Milliseconds()
	key := limiterKey(policy.Name, ip)
	member := uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(policy, ip, err)
	}

	// The window replenishes when its oldest retained entry slides out.
	count := int(countCmd.Val())
	reset := nowMs + policy.Window.Milliseconds()
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		reset = int64(oldest[0].Score) + policy.Window.Milliseconds()
	}

	if count > policy.Limit {
		if err := l.rdb.ZRem(ctx, key, member).Err(); err != nil {
			log.Printf("ratelimit: remove rejected member policy=%s ip=%s error=%v", policy.Name, ip, err)
		}
		return Result{
			Success:   false,
			Limit:     policy.Limit,
			Remaining: 0,
			Reset:     reset,
		}
	}

	return Result{
		Success:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - count,
		Reset:     reset,
	}
}

func (l *Limiter) failOpen(policy Policy, ip string, err error) Result {
	log.Printf("ratelimit: failing open policy=%s ip=%s error=%v", policy.Name, ip, err)
	return Result{
		Success:   true,
		Limit:     policy.Limit,
		Remaining: failOpenRemaining,
		Reset:     l.now().Add(failOpenWindow).UnixMilli(),
	}
}

// Policies returns the configured policy set, for the admin surface.
func Policies() []Policy {
	out := make([]Policy, 0, len(policies))
	for _, name := range []string{PolicyDefault, PolicyAuth, PolicyAPI} {
		out = append(out, policies[name])
	}
	return out
}
