package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal stores wallet events in the custody_events table. The
// (wallet_id, seq) primary key rejects a second writer racing on the same wallet.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal builds a journal backed by PostgreSQL.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Append inserts a sealed event.
func (j *PostgresJournal) Append(ctx context.Context, e Event) error {
	body, err := e.MarshalBody()
	if err != nil {
		return err
	}
	tag, err := j.db.Exec(ctx, `INSERT INTO custody_events (wallet_id, seq, kind, body, prev_hash, hash, created_at)
        SELECT $1::text, $2::bigint, $3::text, $4::bytea, $5::bytea, $6::bytea, $7::timestamptz
        WHERE $2::bigint = 0 OR EXISTS (
            SELECT 1 FROM custody_events WHERE wallet_id = $1::text AND seq = $2::bigint - 1 AND hash = $5::bytea
        )`,
		e.WalletID, int64(e.Seq), string(e.Kind), body, e.PrevHash, e.Hash, e.At.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: wallet %s seq %d", ErrJournalConflict, e.WalletID, e.Seq)
		}
		return fmt.Errorf("insert custody event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s seq %d does not extend the chain", ErrJournalConflict, e.WalletID, e.Seq)
	}
	return nil
}

// Load reads every event of a wallet in sequence order.
func (j *PostgresJournal) Load(ctx context.Context, walletID string) ([]Event, error) {
	return j.Since(ctx, walletID, 0)
}

// Since reads the events of a wallet from seq onwards.
func (j *PostgresJournal) Since(ctx context.Context, walletID string, seq uint64) ([]Event, error) {
	rows, err := j.db.Query(ctx, `SELECT body, prev_hash, hash FROM custody_events
        WHERE wallet_id = $1 AND seq >= $2 ORDER BY seq ASC`, walletID, int64(seq))
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var body, prev, hash []byte
		if err := rows.Scan(&body, &prev, &hash); err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		e, err := UnmarshalEvent(body)
		if err != nil {
			return nil, fmt.Errorf("%w: wallet %s: %v", ErrJournalCorrupt, walletID, err)
		}
		e.PrevHash = prev
		e.Hash = hash
		events = append(events, e)
	}
	return events, rows.Err()
}

// WalletIDs lists wallets by deployment time.
func (j *PostgresJournal) WalletIDs(ctx context.Context) ([]string, error) {
	rows, err := j.db.Query(ctx, `SELECT wallet_id FROM custody_events WHERE seq = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query custody wallets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
