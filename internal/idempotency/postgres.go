package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the records table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
	key         TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	owner       TEXT NOT NULL DEFAULT '',
	result      BYTEA,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_records_expires_at ON idempotency_records (expires_at);
`

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps records in the idempotency_records table. Acquire is a
// single conditional upsert so concurrent processes race safely.
type PostgresStore struct {
	db querier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate creates the table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create idempotency_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	r := Record{Key: key}
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT status, owner, result, error, created_at, updated_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&status, &r.Owner, &r.Result, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

func (s *PostgresStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, *Record, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO idempotency_records (key, status, owner, result, error, created_at, updated_at, expires_at)
		VALUES ($1, 'processing', $2, NULL, '', now(), now(), now() + $3 * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET
			status = 'processing',
			owner = EXCLUDED.owner,
			result = NULL,
			error = '',
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.status = 'failed' OR idempotency_records.expires_at <= now()
		RETURNING owner`, key, owner, ttl.Milliseconds(),
	).Scan(&got)
	if err == nil {
		return got == owner, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, err
	}
	cur, err := s.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if cur == nil {
		// Expired between the upsert and the read; the caller polls again.
		cur = &Record{Key: key, Status: StatusProcessing}
	}
	return false, cur, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key, owner string, result []byte, ttl time.Duration) error {
	return s.finish(ctx, `
		UPDATE idempotency_records
		SET status = 'completed', result = $3, updated_at = now(), expires_at = now() + $4 * interval '1 millisecond'
		WHERE key = $1 AND owner = $2 AND status = 'processing'`, key, owner, result, ttl.Milliseconds())
}

func (s *PostgresStore) Fail(ctx context.Context, key, owner, errMsg string, ttl time.Duration) error {
	return s.finish(ctx, `
		UPDATE idempotency_records
		SET status = 'failed', error = $3, updated_at = now(), expires_at = now() + $4 * interval '1 millisecond'
		WHERE key = $1 AND owner = $2 AND status = 'processing'`, key, owner, errMsg, ttl.Milliseconds())
}

func (s *PostgresStore) finish(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

// Sweep deletes expired rows.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
