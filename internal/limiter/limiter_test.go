package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func TestMemory_BlocksAtThresholdAndUnblocks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory(testPolicy)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "bob")
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, d, err := l.Failure(ctx, "bob")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, d)

	ok, d, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, d)

	ok, _, _ = l.Allow(ctx, "alice")
	require.True(t, ok)

	now = now.Add(10 * time.Minute)
	ok, _, _ = l.Allow(ctx, "bob")
	require.True(t, ok)
}

func TestMemory_WindowResetsCount(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemory(testPolicy)
	l.now = func() time.Time { return now }

	_, _, _ = l.Failure(ctx, "bob")
	_, _, _ = l.Failure(ctx, "bob")
	now = now.Add(testPolicy.Window + time.Second)
	blocked, _, _ := l.Failure(ctx, "bob")
	require.False(t, blocked)
}

func TestMemory_SuccessResets(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(testPolicy)
	_, _, _ = l.Failure(ctx, "bob")
	require.Equal(t, 1, l.Len())
	require.NoError(t, l.Success(ctx, "bob"))
	require.Equal(t, 0, l.Len())
}

func TestMemory_PrunesIdle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewMemory(testPolicy)
	l.now = func() time.Time { return now }
	for i := 0; i < memoryPruneAt; i++ {
		l.m[string(rune(i))] = &attempt{fails: 1, updated: now.Add(-time.Hour)}
	}
	_, _, _ = l.Failure(ctx, "fresh")
	require.Equal(t, 1, l.Len())
}

func TestPG_Allow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	l := NewPG(mock, testPolicy)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT blocked_until FROM attempt_limiter WHERE key=\$1`).
		WithArgs("bob").WillReturnError(pgx.ErrNoRows)
	ok, _, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(time.Minute)))
	ok, d, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, d)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Unix(0, 0)))
	ok, _, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("bob").WillReturnError(errors.New("db boom"))
	_, _, err = l.Allow(ctx, "bob")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FailureAndSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	l := NewPG(mock, testPolicy)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO attempt_limiter .+ RETURNING fail_count`).
		WithArgs("bob", testPolicy.Window.Seconds()).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(1))
	blocked, _, err := l.Failure(ctx, "bob")
	require.NoError(t, err)
	require.False(t, blocked)

	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("bob", testPolicy.Window.Seconds()).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE attempt_limiter SET blocked_until=\$2 WHERE key=\$1`).
		WithArgs("bob", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, d, err := l.Failure(ctx, "bob")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, testPolicy.BlockFor, d)

	mock.ExpectExec(`DELETE FROM attempt_limiter WHERE key=\$1`).WithArgs("bob").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, l.Success(ctx, "bob"))

	require.NoError(t, mock.ExpectationsWereMet())
}
