package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// ActivityTimeout is the idle window after which a session is destroyed.
	ActivityTimeout = 30 * time.Minute

	// MaxLoginAttempts failed attempts trigger a cooldown of BlockDuration.
	MaxLoginAttempts = 5
	BlockDuration    = 15 * time.Minute

	csrfTokenBytes = 32
)

// Session is the request-scoped view of one user's session record.
// Mutations only touch the in-memory copy and mark it dirty; nothing
// reaches Redis until Save. Two concurrent requests for the same user can
// race on Save: the later write wins and may clobber fields written by the
// earlier one. There is no optimistic concurrency token; this is accepted
// behavior for a cache-backed session, not an invariant.
type Session struct {
	userID     string
	rec        *Record
	store      *Store
	isModified bool
	now        func() time.Time
}

// Options tweaks session behavior. Now is injected by tests that need to
// step the clock; production code leaves it nil.
type Options struct {
	Now func() time.Time
}

func (o Options) nowFunc() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

func unixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// New builds a session record for userID, fills in the defaults and
// persists it immediately. A nil rec starts from an empty record.
func New(ctx context.Context, store *Store, userID string, rec *Record, opts Options) (*Session, error) {
	if rec == nil {
		rec = &Record{}
	}

	now := opts.nowFunc()
	if rec.LastActivity == 0 {
		rec.LastActivity = unixMilli(now())
	}
	if rec.LoginAttempts < 0 {
		rec.LoginAttempts = 0
	}
	// Sessions are only created at login time.
	rec.IsLoggedIn = true

	s := &Session{userID: userID, rec: rec, store: store, now: now}
	if err := store.Set(ctx, userID, rec); err != nil {
		return nil, fmt.Errorf("session: create user=%s: %w", userID, err)
	}
	return s, nil
}

// Load fetches the session for userID. Returns (nil, nil) when no session
// exists or the stored payload was unusable.
func Load(ctx context.Context, store *Store, userID string, opts Options) (*Session, error) {
	rec, err := store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &Session{userID: userID, rec: rec, store: store, now: opts.nowFunc()}, nil
}

func (s *Session) UserID() string { return s.userID }

// IsModified reports whether the session has unsaved changes.
func (s *Session) IsModified() bool { return s.isModified }

func (s *Session) User() *Identity { return s.rec.User }

func (s *Session) SetUser(u *Identity) {
	s.rec.User = u
	s.isModified = true
}

func (s *Session) IsLoggedIn() bool { return s.rec.IsLoggedIn }

func (s *Session) SetLoggedIn(v bool) {
	s.rec.IsLoggedIn = v
	s.isModified = true
}

func (s *Session) CSRFToken() string { return s.rec.CSRFToken }

func (s *Session) LastActivity() int64 { return s.rec.LastActivity }

func (s *Session) LoginAttempts() int { return s.rec.LoginAttempts }

// Touch marks the session dirty so the next Save stamps fresh activity,
// without changing any field.
func (s *Session) Touch() {
	s.isModified = true
}

// Save persists the session if it has unsaved changes. It stamps
// LastActivity and LastUpdated with the current time, so LastActivity is
// non-decreasing across successive saves. Clean sessions skip the write
// entirely.
func (s *Session) Save(ctx context.Context) error {
	if !s.isModified {
		return nil
	}

	nowMs := unixMilli(s.now())
	if nowMs > s.rec.LastActivity {
		s.rec.LastActivity = nowMs
	}
	s.rec.LastUpdated = nowMs

	if err := s.store.Set(ctx, s.userID, s.rec); err != nil {
		return err
	}
	s.isModified = false
	return nil
}

// CheckActivity reports whether the session is still within the activity
// window. An expired session is destroyed and false is returned. A record
// with no LastActivity at all is treated as freshly initialized and
// re-stamped rather than destroyed; partially-initialized sessions should
// not force a re-login.
func (s *Session) CheckActivity(ctx context.Context) (bool, error) {
	nowMs := unixMilli(s.now())

	if s.rec.LastActivity == 0 {
		s.rec.LastActivity = nowMs
		s.isModified = true
		if err := s.Save(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	if nowMs-s.rec.LastActivity > ActivityTimeout.Milliseconds() {
		if err := s.Destroy(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// CheckLoginAttempts reports whether another login attempt is allowed.
// Once MaxLoginAttempts is reached the session stays blocked until
// LoginBlockedUntil; when the block has elapsed the counter resets and the
// attempt is allowed. The block is anchored to its own timestamp, not to
// LastActivity, so unrelated session traffic cannot move the window.
func (s *Session) CheckLoginAttempts() bool {
	if s.rec.LoginAttempts < MaxLoginAttempts {
		return true
	}

	nowMs := unixMilli(s.now())
	if s.rec.LoginBlockedUntil > 0 && nowMs < s.rec.LoginBlockedUntil {
		return false
	}

	s.rec.LoginAttempts = 0
	s.rec.LoginBlockedUntil = 0
	s.isModified = true
	return true
}

// IncrementLoginAttempts bumps the failure counter and starts the block
// window when the limit is reached.
func (s *Session) IncrementLoginAttempts() {
	s.rec.LoginAttempts++
	if s.rec.LoginAttempts >= MaxLoginAttempts && s.rec.LoginBlockedUntil == 0 {
		s.rec.LoginBlockedUntil = unixMilli(s.now()) + BlockDuration.Milliseconds()
	}
	s.isModified = true
}

func (s *Session) ResetLoginAttempts() {
	s.rec.LoginAttempts = 0
	s.rec.LoginBlockedUntil = 0
	s.isModified = true
}

// GenerateCSRFToken issues a fresh 32-byte random token, hex-encoded,
// stores it on the session and returns it.
func (s *Session) GenerateCSRFToken() (string, error) {
	raw := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generate csrf token: %w", err)
	}
	token := hex.EncodeToString(raw)
	s.rec.CSRFToken = token
	s.rec.LastRotated = unixMilli(s.now())
	s.isModified = true
	return token, nil
}

// VerifyCSRFToken compares the supplied token against the stored one in
// constant time. A session without a token never verifies.
func (s *Session) VerifyCSRFToken(token string) bool {
	if s.rec.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.rec.CSRFToken), []byte(token)) == 1
}

// SetFingerprint binds the session to the user agent and IP observed now.
func (s *Session) SetFingerprint(userAgent, ipAddress string) {
	s.rec.Fingerprint = &Fingerprint{UserAgent: userAgent, IPAddress: ipAddress}
	s.isModified = true
}

// VerifyFingerprint checks the supplied values against the recorded ones.
// A session with no fingerprint is unverifiable and fails the check; it is
// not treated as trusted.
func (s *Session) VerifyFingerprint(userAgent, ipAddress string) bool {
	fp := s.rec.Fingerprint
	if fp == nil {
		return false
	}
	if fp.UserAgent != "" && fp.UserAgent != userAgent {
		return false
	}
	if fp.IPAddress != "" && fp.IPAddress != ipAddress {
		return false
	}
	return true
}

// Destroy deletes the persisted record. The in-memory fields are left
// as-is; callers discard the Session afterwards.
func (s *Session) Destroy(ctx context.Context) error {
	return s.store.Delete(ctx, s.userID)
}
