package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting references an unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// StatusPendingSettlement indicates a card transaction awaiting settlement confirmation.
	StatusPendingSettlement = "pending_settlement"
	// StatusCompleted represents a settled transaction.
	StatusCompleted = "completed"

	// CardSuspenseAccountCode is the ledger account used to park card transactions pre-settlement.
	CardSuspenseAccountCode = "suspense:card"

	suspensePrefix = "suspense:"
	addressPrefix  = "address:"
	vaultPrefix    = "vault:"
)

// Posting kinds recorded on transactions.
const (
	KindCardIn  = "card_in"
	KindCardOut = "card_out"
	KindDeposit = "custody_deposit"
	KindPayout  = "custody_payout"

	// KindDepositReversal undoes a deposit whose journal event was never committed.
	KindDepositReversal = "custody_deposit_reversal"
)

// AddressAccount returns the account code holding funds of an identity.
func AddressAccount(address string) string {
	return addressPrefix + address
}

// VaultAccount returns the account code holding the pooled funds of a custody wallet.
func VaultAccount(walletID string) string {
	return vaultPrefix + walletID
}

// IsSuspense reports whether the account may carry a negative balance.
func IsSuspense(code string) bool {
	return strings.HasPrefix(code, suspensePrefix)
}

// Posting describes a balanced movement of funds between two accounts.
type Posting struct {
	Kind       string
	ClientTxID string
	From       string
	To         string
	Amount     int64
	// Status defaults to StatusCompleted when empty.
	Status string
}

func (p Posting) key() string {
	return p.Kind + ":" + p.ClientTxID
}

func (p Posting) status() string {
	if p.Status == "" {
		return StatusCompleted
	}
	return p.Status
}

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	Status        string
	FromBalance   int64
	ToBalance     int64
}

// Entry is one leg of a transaction as seen from a single account.
type Entry struct {
	TransactionID string
	Kind          string
	ClientTxID    string
	Amount        int64
	Status        string
	PostedAt      time.Time
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, posting Posting) (TransactionResult, error)
	// Statement returns the most recent entries of an account, newest first.
	Statement(ctx context.Context, code string, limit int) ([]Entry, error)
}
