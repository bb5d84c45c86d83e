package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dropforge/sessiongate/internal/ratelimit"
)

const statsScanBatch = 500

type StatsSnapshot struct {
	GeneratedAt    time.Time        `json:"generated_at"`
	ActiveSessions int64            `json:"active_sessions"`
	RateLimitKeys  map[string]int64 `json:"rate_limit_keys"`
}

// StatsService counts live session records and rate-limit keys straight
// from Redis. SCAN keeps the iteration incremental; the admin API is not
// on any hot path.
type StatsService struct {
	rdb *redis.Client
	now func() time.Time
}

func NewStatsService(rdb *redis.Client, now func() time.Time) *StatsService {
	if now == nil {
		now = time.Now
	}
	return &StatsService{rdb: rdb, now: now}
}

func (s *StatsService) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	sessions, err := s.countKeys(ctx, "user:*")
	if err != nil {
		return nil, err
	}

	limitKeys := make(map[string]int64)
	for _, policy := range ratelimit.Policies() {
		n, err := s.countKeys(ctx, "ratelimit:"+policy.Name+":*")
		if err != nil {
			return nil, err
		}
		limitKeys[policy.Name] = n
	}

	return &StatsSnapshot{
		GeneratedAt:    s.now(),
		ActiveSessions: sessions,
		RateLimitKeys:  limitKeys,
	}, nil
}

func (s *StatsService) countKeys(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var total int64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, statsScanBatch).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

type Handler struct {
	stats *StatsService
}

func NewHandler(stats *StatsService) *Handler {
	return &Handler{stats: stats}
}

func (h *Handler) Stats(c echo.Context) error {
	snapshot, err := h.stats.Snapshot(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "stats unavailable"})
	}
	return c.JSON(http.StatusOK, snapshot)
}
