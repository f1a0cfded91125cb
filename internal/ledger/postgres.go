package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	const query = `
        SELECT a.id, COALESCE(SUM(e.amount), 0)
        FROM accounts a
        LEFT JOIN entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`
	var (
		id      uuid.UUID
		balance int64
	)
	if err := l.db.QueryRow(ctx, query, code).Scan(&id, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return 0, err
	}
	return balance, nil
}

// Transfer records a balanced posting between two accounts inside a single
// database transaction. Both accounts are locked in code order so concurrent
// postings touching the same pair cannot deadlock.
func (l *PostgresLedger) Transfer(ctx context.Context, p Posting) (TransactionResult, error) {
	if p.Amount <= 0 {
		return TransactionResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransactionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ids, err := lockAccounts(ctx, tx, p.From, p.To)
	if err != nil {
		return TransactionResult{}, err
	}
	fromID, toID := ids[p.From], ids[p.To]

	const existingQuery = `SELECT id, status FROM transactions WHERE client_tx_id = $1 AND kind = $2`
	var (
		existingID     uuid.UUID
		existingStatus string
	)
	if err := tx.QueryRow(ctx, existingQuery, p.ClientTxID, p.Kind).Scan(&existingID, &existingStatus); err == nil {
		res, balErr := resultFor(ctx, tx, existingID, existingStatus, fromID, toID)
		if balErr != nil {
			return TransactionResult{}, balErr
		}
		return res, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return TransactionResult{}, err
	}

	if !IsSuspense(p.From) {
		fromBalance, err := balanceForAccount(ctx, tx, fromID)
		if err != nil {
			return TransactionResult{}, err
		}
		if fromBalance < p.Amount {
			return TransactionResult{}, ErrInsufficientFunds
		}
	}

	txID := uuid.New()
	status := p.status()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`,
		txID, p.ClientTxID, p.Kind, status); err != nil {
		return TransactionResult{}, err
	}
	if err := insertEntry(ctx, tx, txID, fromID, -p.Amount); err != nil {
		return TransactionResult{}, err
	}
	if err := insertEntry(ctx, tx, txID, toID, p.Amount); err != nil {
		return TransactionResult{}, err
	}

	res, err := resultFor(ctx, tx, txID, status, fromID, toID)
	if err != nil {
		return TransactionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransactionResult{}, err
	}
	return res, nil
}

// Statement lists the latest entries posted to an account.
func (l *PostgresLedger) Statement(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var accountID uuid.UUID
	if err := l.db.QueryRow(ctx, `SELECT id FROM accounts WHERE code = $1`, code).Scan(&accountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return nil, err
	}

	rows, err := l.db.Query(ctx, `
        SELECT t.id, t.kind, t.client_tx_id, e.amount, t.status, e.created_at
        FROM entries e
        INNER JOIN transactions t ON t.id = e.transaction_id
        WHERE e.account_id = $1
        ORDER BY e.created_at DESC
        LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			txID     uuid.UUID
			postedAt time.Time
		)
		if err := rows.Scan(&txID, &e.Kind, &e.ClientTxID, &e.Amount, &e.Status, &postedAt); err != nil {
			return nil, err
		}
		e.TransactionID = txID.String()
		e.PostedAt = postedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func lockAccounts(ctx context.Context, tx pgx.Tx, codes ...string) (map[string]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `SELECT id, code FROM accounts WHERE code = ANY($1) ORDER BY code FOR UPDATE`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID, len(codes))
	for rows.Next() {
		var (
			id   uuid.UUID
			code string
		)
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		ids[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, code := range codes {
		if _, ok := ids[code]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
	}
	return ids, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, txID, accountID uuid.UUID, amount int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`,
		uuid.New(), txID, accountID, amount)
	return err
}

func resultFor(ctx context.Context, tx pgx.Tx, txID uuid.UUID, status string, fromID, toID uuid.UUID) (TransactionResult, error) {
	fromBal, err := balanceForAccount(ctx, tx, fromID)
	if err != nil {
		return TransactionResult{}, err
	}
	toBal, err := balanceForAccount(ctx, tx, toID)
	if err != nil {
		return TransactionResult{}, err
	}
	return TransactionResult{TransactionID: txID.String(), Status: status, FromBalance: fromBal, ToBalance: toBal}, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}
