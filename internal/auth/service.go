package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/congo-pay/custody/internal/config"
	"github.com/congo-pay/custody/internal/identity"
)

// LocalAddress is the fiber locals key holding the authenticated address.
const LocalAddress = "address"

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenInvalidated = errors.New("token version invalidated")
)

// Claims are the JWT claims of access and refresh tokens. The subject is the
// principal's address.
type Claims struct {
	jwt.RegisteredClaims
	Version int    `json:"ver"`
	Tier    string `json:"tier,omitempty"`
	Type    string `json:"typ"`
}

// Service issues and verifies HS256 token pairs.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
}

// NewService builds a token service.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues tokens for an authenticated principal.
func (s *Service) Login(p identity.Principal) (TokenPair, error) {
	access, err := s.sign(p.Address, p.Tier, p.TokenVersion, tokenAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(p.Address, p.Tier, p.TokenVersion, tokenRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(address, tier string, version int, typ, secret string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Version: version,
		Tier:    tier,
		Type:    typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *Service) parse(tokenStr, typ, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// current checks that the token version still matches the stored principal.
func (s *Service) current(ctx context.Context, claims *Claims) (identity.Principal, error) {
	p, err := s.idRepo.FindByAddress(ctx, claims.Subject)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if p.TokenVersion != claims.Version {
		return identity.Principal{}, ErrTokenInvalidated
	}
	return p, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := s.parse(tokenStr, tokenAccess, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if _, err := s.current(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.parse(refreshToken, tokenRefresh, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	p, err := s.current(ctx, claims)
	if err != nil {
		return "", 0, err
	}
	signed, err := s.sign(p.Address, p.Tier, p.TokenVersion, tokenAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, address string) error {
	p, err := s.idRepo.FindByAddress(ctx, address)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, p.ID, p.TokenVersion+1)
}
