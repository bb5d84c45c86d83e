package auth

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const privyIssuer = "privy.io"

var ErrInvalidToken = errors.New("auth: invalid access token")

// PrivyUser is the identity provider's user object as posted by the client
// after a completed login. Only the fields the session layer cares about
// are modeled; the provider attaches plenty more.
type PrivyUser struct {
	ID             string               `json:"id"`
	CreatedAt      int64                `json:"createdAt"`
	Email          *PrivyEmail          `json:"email,omitempty"`
	Wallet         *PrivyWallet         `json:"wallet,omitempty"`
	LinkedAccounts []PrivyLinkedAccount `json:"linkedAccounts,omitempty"`
	Role           string               `json:"role,omitempty"`
}

type PrivyEmail struct {
	Address string `json:"address"`
}

type PrivyWallet struct {
	Address   string `json:"address"`
	ChainType string `json:"chainType,omitempty"`
}

type PrivyLinkedAccount struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// emailAddress digs the address out of the payload, falling back to the
// first linked email account when the top-level field is absent.
func (p PrivyUser) emailAddress() string {
	if p.Email != nil && p.Email.Address != "" {
		return p.Email.Address
	}
	for _, acct := range p.LinkedAccounts {
		if acct.Type == "email" && acct.Address != "" {
			return acct.Address
		}
	}
	return ""
}

func (p PrivyUser) walletAddress() string {
	if p.Wallet != nil && p.Wallet.Address != "" {
		return p.Wallet.Address
	}
	for _, acct := range p.LinkedAccounts {
		if acct.Type == "wallet" && acct.Address != "" {
			return acct.Address
		}
	}
	return ""
}

// TokenVerifier checks Privy access tokens: ES256 JWTs signed with the
// app's verification key, issued by privy.io for our app id.
type TokenVerifier struct {
	appID string
	key   *ecdsa.PublicKey
	now   func() time.Time
}

// NewTokenVerifier parses the PEM-encoded verification key from the
// provider dashboard.
func NewTokenVerifier(appID, verificationKeyPEM string) (*TokenVerifier, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("auth: privy app id is required")
	}

	block, _ := pem.Decode([]byte(verificationKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("auth: verification key is not valid PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse verification key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: verification key is %T, want ECDSA", parsed)
	}

	return &TokenVerifier{appID: appID, key: key, now: time.Now}, nil
}

// TokenClaims are the verified claims of a provider access token.
// Subject is the provider user id (did:privy:...).
type TokenClaims struct {
	Subject   string
	SessionID string
}

type privyClaims struct {
	jwt.Claims
	SessionID string `json:"sid,omitempty"`
}

// VerifyAccessToken validates signature, issuer, audience and expiry.
func (v *TokenVerifier) VerifyAccessToken(raw string) (*TokenClaims, error) {
	token, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims privyClaims
	if err := token.Claims(v.key, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	err = claims.Validate(jwt.Expected{
		Issuer:      privyIssuer,
		AnyAudience: jwt.Audience{v.appID},
		Time:        v.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &TokenClaims{Subject: claims.Subject, SessionID: claims.SessionID}, nil
}
