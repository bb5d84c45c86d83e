package session

import (
	"fmt"
	"strings"
)

// Identity is the snapshot of the authenticated user carried inside a
// session record. It mirrors what the identity provider handed us at login;
// the durable user row in Postgres stays the source of truth for profile
// data.
type Identity struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"createdAt"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Fingerprint binds a session to the user agent and IP observed at login.
type Fingerprint struct {
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
}

// Record is the persisted session state, stored as JSON under user:<id>.
// The copy held in memory by a Session is a single-request-scoped view;
// Redis is authoritative. Timestamps are unix milliseconds.
type Record struct {
	User        *Identity    `json:"user,omitempty"`
	IsLoggedIn  bool         `json:"isLoggedIn"`
	CSRFToken   string       `json:"csrfToken,omitempty"`
	Fingerprint *Fingerprint `json:"fingerprint,omitempty"`

	LastActivity  int64 `json:"lastActivity,omitempty"`
	LoginAttempts int   `json:"loginAttempts"`

	// LoginBlockedUntil marks the end of the login-attempt cooldown.
	// Tracked separately from LastActivity so that touching the session
	// cannot extend or shorten the block window.
	LoginBlockedUntil int64 `json:"loginBlockedUntil,omitempty"`

	LastUpdated int64 `json:"lastUpdated,omitempty"`
	LastRotated int64 `json:"lastRotated,omitempty"`
}

// validate rejects payloads that decoded as JSON but do not look like a
// session record. A missing lastActivity is fine (treated as freshly
// initialized by CheckActivity), but negative counters or an identity
// without an id mean the payload is garbage.
func (r *Record) validate() error {
	if r.LoginAttempts < 0 {
		return fmt.Errorf("negative loginAttempts %d", r.LoginAttempts)
	}
	if r.LastActivity < 0 {
		return fmt.Errorf("negative lastActivity %d", r.LastActivity)
	}
	if r.LoginBlockedUntil < 0 {
		return fmt.Errorf("negative loginBlockedUntil %d", r.LoginBlockedUntil)
	}
	if r.User != nil && strings.TrimSpace(r.User.ID) == "" {
		return fmt.Errorf("user present without id")
	}
	return nil
}
