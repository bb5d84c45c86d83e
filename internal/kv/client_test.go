package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := Connect(ctx, Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping after connect failed: %v", err)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
}

func TestConnectRejectsMalformedURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{URL: "://not-a-url"}); err == nil {
		t.Fatal("malformed url should be rejected")
	}
}

func TestConnectFailsFastOnDeadStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := Connect(context.Background(), Config{URL: "redis://" + addr}); err == nil {
		t.Fatal("unreachable store should fail the liveness check")
	}
}

func TestConnectAppliesToken(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("sekret")
	ctx := context.Background()

	if _, err := Connect(ctx, Config{URL: "redis://" + mr.Addr()}); err == nil {
		t.Fatal("connect without token should fail against an authed store")
	}

	client, err := Connect(ctx, Config{URL: "redis://" + mr.Addr(), Token: "sekret"})
	if err != nil {
		t.Fatalf("Connect with token failed: %v", err)
	}
	_ = client.Close()
}
