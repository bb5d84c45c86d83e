// Package auth reconciles the identity provider's user object with the
// application session and exposes the session HTTP surface.
package auth

import (
	"context"
	"log"
	"strings"

	"github.com/dropforge/sessiongate/internal/session"
	"github.com/dropforge/sessiongate/internal/store"
)

// UserStore is the durable provisioning target. Satisfied by *store.Store;
// tests substitute a stub so no Postgres is needed.
type UserStore interface {
	UpsertUser(ctx context.Context, u store.User) (*store.User, error)
}

type Service struct {
	users    UserStore
	sessions *session.Store
	verifier *TokenVerifier
	secure   bool
	opts     session.Options
}

// New wires the auth service. secure controls the Secure flag on issued
// cookies and should be true everywhere except local development.
func New(users UserStore, sessions *session.Store, verifier *TokenVerifier, secure bool) *Service {
	return &Service{users: users, sessions: sessions, verifier: verifier, secure: secure}
}

// HandlePrivyAuth resolves the provider payload to the application user.
// An existing session's identity snapshot wins, so a user is not
// re-provisioned on every request; only a first contact reaches Postgres.
// Provisioning failures are logged and returned; authentication must not
// proceed with a fabricated user.
func (s *Service) HandlePrivyAuth(ctx context.Context, p PrivyUser) (*store.User, error) {
	userID := strings.TrimSpace(p.ID)
	if userID == "" {
		return nil, ErrInvalidToken
	}

	sess, err := session.Load(ctx, s.sessions, userID, s.opts)
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.User() != nil {
		ident := sess.User()
		return &store.User{
			PrivyID:       ident.ID,
			Email:         ident.Email,
			WalletAddress: ident.WalletAddress,
			Role:          ident.Role,
		}, nil
	}

	u, err := s.users.UpsertUser(ctx, store.User{
		PrivyID:       userID,
		Email:         p.emailAddress(),
		WalletAddress: p.walletAddress(),
	})
	if err != nil {
		log.Printf("auth: provisioning failed user=%s error=%v", userID, err)
		return nil, err
	}
	return u, nil
}

// createSession builds and persists a logged-in session for the user,
// bound to the caller's fingerprint and seeded with a CSRF token.
func (s *Service) createSession(ctx context.Context, u *store.User, p PrivyUser, userAgent, ip string) (*session.Session, string, error) {
	rec := &session.Record{
		User: &session.Identity{
			ID:            u.PrivyID,
			CreatedAt:     p.CreatedAt,
			WalletAddress: u.WalletAddress,
			Email:         u.Email,
			Role:          u.Role,
		},
	}

	sess, err := session.New(ctx, s.sessions, u.PrivyID, rec, s.opts)
	if err != nil {
		return nil, "", err
	}

	sess.SetFingerprint(userAgent, ip)
	csrfToken, err := sess.GenerateCSRFToken()
	if err != nil {
		return nil, "", err
	}
	if err := sess.Save(ctx); err != nil {
		return nil, "", err
	}
	return sess, csrfToken, nil
}
