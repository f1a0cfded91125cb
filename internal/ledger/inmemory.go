package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]int64
	transactions map[string]TransactionResult
	entries      map[string][]Entry
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development runs without PostgreSQL.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     make(map[string]int64),
		transactions: make(map[string]TransactionResult),
		entries:      make(map[string][]Entry),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, p Posting) (TransactionResult, error) {
	if p.Amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if res, exists := l.transactions[p.key()]; exists {
		return res, ErrDuplicateTransaction
	}

	fromBalance, ok := l.balances[p.From]
	if !ok {
		return TransactionResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, p.From)
	}
	toBalance, ok := l.balances[p.To]
	if !ok {
		return TransactionResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, p.To)
	}

	if !IsSuspense(p.From) && fromBalance < p.Amount {
		return TransactionResult{}, ErrInsufficientFunds
	}

	fromBalance -= p.Amount
	toBalance += p.Amount
	l.balances[p.From] = fromBalance
	l.balances[p.To] = toBalance

	res := TransactionResult{
		TransactionID: uuid.NewString(),
		Status:        p.status(),
		FromBalance:   fromBalance,
		ToBalance:     toBalance,
	}
	l.transactions[p.key()] = res

	now := time.Now().UTC()
	l.entries[p.From] = append(l.entries[p.From], Entry{
		TransactionID: res.TransactionID, Kind: p.Kind, ClientTxID: p.ClientTxID,
		Amount: -p.Amount, Status: res.Status, PostedAt: now,
	})
	l.entries[p.To] = append(l.entries[p.To], Entry{
		TransactionID: res.TransactionID, Kind: p.Kind, ClientTxID: p.ClientTxID,
		Amount: p.Amount, Status: res.Status, PostedAt: now,
	})
	return res, nil
}

func (l *inMemoryLedger) Statement(_ context.Context, code string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, exists := l.balances[code]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	all := l.entries[code]
	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}
