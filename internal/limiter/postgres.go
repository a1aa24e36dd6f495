package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter shared by every server instance.
type PG struct {
	pool pgxQuerier
	p    Policy
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over the attempt_limiter table.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{pool: q, p: p}
}

// Allow reports whether key may try now and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM attempt_limiter WHERE key=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, key).Scan(&blockedUntil)
	switch {
	case err == nil:
		if d := time.Until(blockedUntil); d > 0 {
			return false, d, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success removes the counters of key.
func (l *PG) Success(ctx context.Context, key string) error {
	const q = `DELETE FROM attempt_limiter WHERE key=$1`
	_, err := l.pool.Exec(ctx, q, key)
	return err
}

// Failure records a failed attempt; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `
INSERT INTO attempt_limiter (key, fail_count, blocked_until, updated_at)
VALUES ($1, 1, 'epoch', now())
ON CONFLICT (key) DO UPDATE
SET
  fail_count = CASE WHEN now() - attempt_limiter.updated_at > make_interval(secs => $2) THEN 1 ELSE attempt_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, l.p.Window.Seconds()).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.p.MaxFails {
		return false, 0, nil
	}
	const upd = `UPDATE attempt_limiter SET blocked_until=$2 WHERE key=$1`
	if _, err := l.pool.Exec(ctx, upd, key, time.Now().Add(l.p.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.p.BlockFor, nil
}
