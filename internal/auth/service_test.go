package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/custody/internal/config"
	"github.com/congo-pay/custody/internal/identity"
)

func newTestAuth(t *testing.T) (*Service, *identity.Service, identity.Principal) {
	t.Helper()
	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo, nil)
	cfg := config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	ctx := context.Background()
	if _, err := ids.Register(ctx, identity.Credentials{Address: "alice", PIN: "1234", DeviceID: "d1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, err := ids.Authenticate(ctx, identity.Credentials{Address: "alice", PIN: "1234", DeviceID: "d1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return NewService(cfg, repo), ids, p
}

func TestLoginAndVerifyAccess(t *testing.T) {
	svc, _, p := newTestAuth(t)
	pair, err := svc.Login(p)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Version != 0 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if pair.ExpiresIn != 60 {
		t.Fatalf("expected 60s expiry, got %d", pair.ExpiresIn)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	svc, _, p := newTestAuth(t)
	pair, _ := svc.Login(p)

	if _, err := svc.VerifyAccess(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token to be rejected as access token, got %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token to be rejected as refresh token, got %v", err)
	}
	access, exp, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if exp != 60 {
		t.Fatalf("expected 60s expiry, got %d", exp)
	}
	if _, err := svc.VerifyAccess(context.Background(), access); err != nil {
		t.Fatalf("refreshed token should verify: %v", err)
	}
}

func TestLogoutInvalidatesTokens(t *testing.T) {
	svc, _, p := newTestAuth(t)
	pair, _ := svc.Login(p)
	ctx := context.Background()

	if err := svc.Logout(ctx, "alice"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected invalidated access token, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected invalidated refresh token, got %v", err)
	}
}

func TestVerifyAccessRejectsForeignSignature(t *testing.T) {
	svc, _, p := newTestAuth(t)
	other := NewService(config.Config{JWTSecret: "other", RefreshSecret: "other", AccessTokenTTL: time.Minute}, svc.idRepo)
	pair, _ := other.Login(p)
	if _, err := svc.VerifyAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}
}
