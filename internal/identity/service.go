package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tierZero = "tier0"
	tierOne  = "tier1"

	maxAddressLength = 128
)

// AccountOpener opens the settlement account of a newly registered address.
type AccountOpener interface {
	Open(ctx context.Context, address string) error
}

// Service manages principal lifecycle.
type Service struct {
	repo     Repository
	accounts AccountOpener
	now      func() time.Time
}

// NewService creates a new identity service. accounts may be nil.
func NewService(repo Repository, accounts AccountOpener) *Service {
	return &Service{repo: repo, accounts: accounts, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a new Tier0 principal and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, creds Credentials) (Principal, error) {
	address, err := normalizeAddress(creds.Address)
	if err != nil {
		return Principal{}, err
	}
	if len(creds.PIN) < 4 {
		return Principal{}, fmt.Errorf("%w: must be at least 4 digits", ErrInvalidPIN)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return Principal{}, err
	}

	p := Principal{
		ID:        uuid.New().String(),
		Address:   address,
		Tier:      tierZero,
		PINHash:   hash,
		DeviceID:  creds.DeviceID,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Principal{}, err
	}
	if s.accounts != nil {
		if err := s.accounts.Open(ctx, address); err != nil {
			return Principal{}, fmt.Errorf("open account for %s: %w", address, err)
		}
	}
	return p, nil
}

// Authenticate verifies credentials and device binding.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Principal, error) {
	address, err := normalizeAddress(creds.Address)
	if err != nil {
		return Principal{}, err
	}
	p, err := s.repo.FindByAddress(ctx, address)
	if err != nil {
		return Principal{}, err
	}

	if err := bcrypt.CompareHashAndPassword(p.PINHash, []byte(creds.PIN)); err != nil {
		return Principal{}, ErrInvalidPIN
	}

	if p.DeviceID == "" {
		if creds.DeviceID == "" {
			return Principal{}, ErrDeviceRequired
		}
		if err := s.repo.UpdateDevice(ctx, p.ID, creds.DeviceID); err != nil {
			return Principal{}, err
		}
		p.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && p.DeviceID != creds.DeviceID {
		return Principal{}, ErrDeviceMismatch
	}

	if p.Tier == tierZero {
		p.Tier = tierOne
	}

	p.LastLogin = s.now()
	if err := s.repo.TouchLogin(ctx, p.ID, p.LastLogin); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// Lookup returns the principal registered under address.
func (s *Service) Lookup(ctx context.Context, address string) (Principal, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return Principal{}, err
	}
	return s.repo.FindByAddress(ctx, address)
}

func normalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxAddressLength || strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return s, nil
}
