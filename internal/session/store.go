package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "user:"

	// opTimeout bounds every store round trip so a wedged Redis cannot
	// hold request handlers open indefinitely.
	opTimeout = 5 * time.Second

	// recordTTL is a safety net matching the user_id cookie lifetime.
	// Activity expiry is enforced by Session.CheckActivity well before
	// Redis would evict the key.
	recordTTL = 7 * 24 * time.Hour
)

var ErrMissingUserID = errors.New("session: user id is required")

func sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

// Store persists session records in Redis.
//
// Reads degrade gracefully: a missing key, malformed JSON, a payload that
// fails schema validation, or a store error all come back as (nil, nil),
// because losing a session only forces re-authentication. Writes and
// deletes surface their errors, because silently dropping a session update
// would leave client and server state disagreeing.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, timeout: opTimeout}
}

// Get fetches and decodes the record for userID. Absence is not an error,
// and neither is a store failure: a transient outage on the read path
// degrades to an absent session rather than breaking the request.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("session: get degraded to absence user=%s error=%v", userID, err)
		}
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		log.Printf("session: discarding malformed record user=%s error=%v payload=%q", userID, err, payload)
		return nil, nil
	}
	if err := rec.validate(); err != nil {
		log.Printf("session: discarding invalid record user=%s error=%v payload=%q", userID, err, payload)
		return nil, nil
	}

	return &rec, nil
}

// Set writes the record for userID, or deletes the key when rec is nil.
func (s *Store) Set(ctx context.Context, userID string, rec *Record) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	if rec == nil {
		return s.Delete(ctx, userID)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("session: marshal failed user=%s error=%v", userID, err)
		return fmt.Errorf("session: marshal user=%s: %w", userID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Set(ctx, sessionKey(userID), payload, recordTTL).Err(); err != nil {
		log.Printf("session: set failed user=%s error=%v", userID, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("session: set timed out user=%s: %w", userID, err)
		}
		return fmt.Errorf("session: set user=%s: %w", userID, err)
	}
	return nil
}

// Delete removes the record for userID. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rdb.Del(ctx, sessionKey(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("session: delete failed user=%s error=%v", userID, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("session: delete timed out user=%s: %w", userID, err)
		}
		return fmt.Errorf("session: delete user=%s: %w", userID, err)
	}
	return nil
}
