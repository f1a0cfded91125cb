package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/custody/internal/account"
	"github.com/congo-pay/custody/internal/ledger"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidCard   = errors.New("invalid card number")
)

// Service moves funds between cards and address accounts through the card
// suspense account, so depositors can fund custody wallets and recipients can cash out.
type Service struct {
	ledger   ledger.Ledger
	accounts *account.Service
	acquirer Acquirer
}

// NewService prepares a funding service ensuring the card suspense account exists.
func NewService(ctx context.Context, ledgerBackend ledger.Ledger, accounts *account.Service, acquirer Acquirer) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	if err := ledgerBackend.EnsureAccount(ctx, ledger.CardSuspenseAccountCode); err != nil {
		return nil, err
	}
	return &Service{ledger: ledgerBackend, accounts: accounts, acquirer: acquirer}, nil
}

// CardInInput captures the required data for a card top-up.
type CardInInput struct {
	Address    string
	Amount     int64
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// CardOutInput captures the required data for a card withdrawal.
type CardOutInput struct {
	Address    string
	Amount     int64
	ClientTxID string
	CardNumber string
}

// FundingResult represents the domain outcome of a card operation.
type FundingResult struct {
	TransactionID     string
	Status            string
	AccountBalance    int64
	AcquirerReference string
	CompletedAt       time.Time
}

// CardIn authorizes and records a card top-up into the address account,
// opening the account when needed.
func (s *Service) CardIn(ctx context.Context, input CardInInput) (FundingResult, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return FundingResult{}, err
	}
	if input.Amount <= 0 {
		return FundingResult{}, ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	if err := s.accounts.Open(ctx, input.Address); err != nil {
		return FundingResult{}, err
	}

	decision, err := s.acquirer.Authorize(ctx, Authorization{
		Direction:  Pull,
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
		Reference:  input.ClientTxID,
	})
	if err != nil {
		return FundingResult{}, err
	}

	res, err := s.ledger.Transfer(ctx, ledger.Posting{
		Kind:       ledger.KindCardIn,
		ClientTxID: input.ClientTxID,
		From:       ledger.CardSuspenseAccountCode,
		To:         ledger.AddressAccount(strings.TrimSpace(input.Address)),
		Amount:     input.Amount,
		Status:     ledger.StatusPendingSettlement,
	})
	return toResult(res, res.ToBalance, decision, err)
}

// CardOut authorizes and records a withdrawal from the address account to a card.
func (s *Service) CardOut(ctx context.Context, input CardOutInput) (FundingResult, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return FundingResult{}, err
	}
	if input.Amount <= 0 {
		return FundingResult{}, ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	decision, err := s.acquirer.Authorize(ctx, Authorization{
		Direction:  Push,
		CardNumber: input.CardNumber,
		Amount:     input.Amount,
		Reference:  input.ClientTxID,
	})
	if err != nil {
		return FundingResult{}, err
	}

	res, err := s.ledger.Transfer(ctx, ledger.Posting{
		Kind:       ledger.KindCardOut,
		ClientTxID: input.ClientTxID,
		From:       ledger.AddressAccount(strings.TrimSpace(input.Address)),
		To:         ledger.CardSuspenseAccountCode,
		Amount:     input.Amount,
		Status:     ledger.StatusPendingSettlement,
	})
	return toResult(res, res.FromBalance, decision, err)
}

// toResult keeps the original outcome on a duplicate so replays answer identically.
func toResult(res ledger.TransactionResult, balance int64, decision Decision, err error) (FundingResult, error) {
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return FundingResult{}, err
	}
	return FundingResult{
		TransactionID:     res.TransactionID,
		Status:            res.Status,
		AccountBalance:    balance,
		AcquirerReference: decision.Reference,
		CompletedAt:       time.Now().UTC(),
	}, err
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("%w: must be between 12 and 19 digits", ErrInvalidCard)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: must be numeric", ErrInvalidCard)
		}
	}
	return nil
}
