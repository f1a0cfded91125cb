package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists principals.
type Repository interface {
	Create(ctx context.Context, p Principal) error
	FindByAddress(ctx context.Context, address string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	UpdateDevice(ctx context.Context, id, deviceID string) error
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const principalColumns = `id, address, tier, pin_hash, device_id, token_version, created_at, last_login`

// Create inserts a new principal.
func (r *PostgresRepository) Create(ctx context.Context, p Principal) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO principals (id, address, tier, pin_hash, device_id, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, p.Address, p.Tier, p.PINHash, p.DeviceID, p.TokenVersion, p.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrPrincipalExists, p.Address)
	}
	return err
}

// FindByAddress fetches a principal by address.
func (r *PostgresRepository) FindByAddress(ctx context.Context, address string) (Principal, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE address = $1`, address))
}

// FindByID fetches a principal by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Principal, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return Principal{}, ErrPrincipalNotFound
	}
	return r.scan(r.db.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, pid))
}

func (r *PostgresRepository) scan(row pgx.Row) (Principal, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		lastLogin *time.Time
		p         Principal
	)
	if err := row.Scan(&id, &p.Address, &p.Tier, &p.PINHash, &p.DeviceID, &p.TokenVersion, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, err
	}
	p.ID = id.String()
	p.CreatedAt = createdAt.UTC()
	if lastLogin != nil {
		p.LastLogin = lastLogin.UTC()
	}
	return p, nil
}

// UpdateDevice stores the principal's bound device identifier.
func (r *PostgresRepository) UpdateDevice(ctx context.Context, id, deviceID string) error {
	return r.update(ctx, `UPDATE principals SET device_id = $1 WHERE id = $2`, id, deviceID)
}

// UpdateTokenVersion replaces the token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.update(ctx, `UPDATE principals SET token_version = $1 WHERE id = $2`, id, version)
}

// TouchLogin records the last successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE principals SET last_login = $1 WHERE id = $2`, id, at.UTC())
}

func (r *PostgresRepository) update(ctx context.Context, query, id string, value any) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return ErrPrincipalNotFound
	}
	cmd, err := r.db.Exec(ctx, query, value, pid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
