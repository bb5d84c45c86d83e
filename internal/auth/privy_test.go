package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func newTestKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return priv, pemKey
}

func signTestToken(t *testing.T, priv *ecdsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: priv},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func validClaims(subject string) jwt.Claims {
	now := time.Now()
	return jwt.Claims{
		Issuer:   "privy.io",
		Subject:  subject,
		Audience: jwt.Audience{"app-test"},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestVerifyAccessToken(t *testing.T) {
	priv, pemKey := newTestKeyPair(t)
	verifier, err := NewTokenVerifier("app-test", pemKey)
	if err != nil {
		t.Fatalf("NewTokenVerifier failed: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		raw := signTestToken(t, priv, validClaims("did:privy:u1"))
		claims, err := verifier.VerifyAccessToken(raw)
		if err != nil {
			t.Fatalf("VerifyAccessToken failed: %v", err)
		}
		if claims.Subject != "did:privy:u1" {
			t.Fatalf("subject=%q want did:privy:u1", claims.Subject)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := verifier.VerifyAccessToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims("did:privy:u1")
		claims.Expiry = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		raw := signTestToken(t, priv, claims)
		if _, err := verifier.VerifyAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := validClaims("did:privy:u1")
		claims.Issuer = "someone-else"
		raw := signTestToken(t, priv, claims)
		if _, err := verifier.VerifyAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := validClaims("did:privy:u1")
		claims.Audience = jwt.Audience{"other-app"}
		raw := signTestToken(t, priv, claims)
		if _, err := verifier.VerifyAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for wrong audience, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPriv, _ := newTestKeyPair(t)
		raw := signTestToken(t, otherPriv, validClaims("did:privy:u1"))
		if _, err := verifier.VerifyAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
		}
	})
}

func TestNewTokenVerifierRejectsBadConfig(t *testing.T) {
	_, pemKey := newTestKeyPair(t)

	if _, err := NewTokenVerifier("", pemKey); err == nil {
		t.Fatal("missing app id should be rejected")
	}
	if _, err := NewTokenVerifier("app-test", "not pem at all"); err == nil {
		t.Fatal("non-PEM key should be rejected")
	}
}

func TestPayloadAddressFallbacks(t *testing.T) {
	p := PrivyUser{
		ID: "did:privy:u1",
		LinkedAccounts: []PrivyLinkedAccount{
			{Type: "discord"},
			{Type: "email", Address: "linked@example.com"},
			{Type: "wallet", Address: "0xlinked"},
		},
	}
	if got := p.emailAddress(); got != "linked@example.com" {
		t.Fatalf("emailAddress=%q want linked@example.com", got)
	}
	if got := p.walletAddress(); got != "0xlinked" {
		t.Fatalf("walletAddress=%q want 0xlinked", got)
	}

	p.Email = &PrivyEmail{Address: "top@example.com"}
	p.Wallet = &PrivyWallet{Address: "0xtop"}
	if got := p.emailAddress(); got != "top@example.com" {
		t.Fatalf("emailAddress=%q want top@example.com", got)
	}
	if got := p.walletAddress(); got != "0xtop" {
		t.Fatalf("walletAddress=%q want 0xtop", got)
	}
}
