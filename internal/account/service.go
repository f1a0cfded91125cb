package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/congo-pay/custody/internal/ledger"
)

const defaultStatementLimit = 50

var ErrInvalidAddress = errors.New("invalid address")

// Balance encapsulates available funds for an address.
type Balance struct {
	Address string
	Amount  int64
	AsOf    time.Time
}

// Service exposes the settlement book accounts of registered addresses.
type Service struct {
	ledger ledger.Ledger
}

// NewService builds an account service instance.
func NewService(l ledger.Ledger) *Service {
	return &Service{ledger: l}
}

// Open provisions the ledger account of an address. Opening twice is a no-op.
func (s *Service) Open(ctx context.Context, address string) error {
	code, err := accountCode(address)
	if err != nil {
		return err
	}
	return s.ledger.EnsureAccount(ctx, code)
}

// Balance returns the ledger balance held by an address.
func (s *Service) Balance(ctx context.Context, address string) (Balance, error) {
	code, err := accountCode(address)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, code)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Address: strings.TrimSpace(address), Amount: amount, AsOf: time.Now().UTC()}, nil
}

// Statement lists the most recent postings of an address, newest first.
func (s *Service) Statement(ctx context.Context, address string, limit int) ([]ledger.Entry, error) {
	code, err := accountCode(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultStatementLimit
	}
	return s.ledger.Statement(ctx, code, limit)
}

func accountCode(address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" || strings.ContainsAny(a, " \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return ledger.AddressAccount(a), nil
}
