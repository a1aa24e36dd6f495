package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/jackc/pgx/v5"
)

// PeerRepo implements PeerRepository using PostgreSQL.
type PeerRepo struct{ db *DB }

// NewPeerRepo constructs a peer repository.
func NewPeerRepo(db *DB) *PeerRepo { return &PeerRepo{db: db} }

const peerCols = `user_id, ip_address, port, online, last_seen`

// Upsert inserts or replaces the peer row.
func (r *PeerRepo) Upsert(ctx context.Context, p *model.Peer) error {
	const q = `
INSERT INTO peers (` + peerCols + `) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id) DO UPDATE SET ip_address=EXCLUDED.ip_address, port=EXCLUDED.port,
online=EXCLUDED.online, last_seen=EXCLUDED.last_seen`
	_, err := r.db.Pool.Exec(ctx, q, p.UserID, p.IPAddress, p.Port, p.Online, p.LastSeen)
	return err
}

// Get selects a peer by user id.
func (r *PeerRepo) Get(ctx context.Context, userID string) (*model.Peer, error) {
	const q = `SELECT ` + peerCols + ` FROM peers WHERE user_id=$1`
	return scanPeerOne(r.db.Pool.QueryRow(ctx, q, userID))
}

// SetOnline updates the online flag and, when lastSeen is non-zero, last_seen.
func (r *PeerRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen time.Time) (*model.Peer, error) {
	if lastSeen.IsZero() {
		const q = `UPDATE peers SET online=$2 WHERE user_id=$1 RETURNING ` + peerCols
		return scanPeerOne(r.db.Pool.QueryRow(ctx, q, userID, online))
	}
	const q = `UPDATE peers SET online=$2, last_seen=$3 WHERE user_id=$1 RETURNING ` + peerCols
	return scanPeerOne(r.db.Pool.QueryRow(ctx, q, userID, online, lastSeen))
}

// ListOnline returns online peers seen after since.
func (r *PeerRepo) ListOnline(ctx context.Context, since time.Time) ([]model.Peer, error) {
	const q = `SELECT ` + peerCols + ` FROM peers WHERE online AND last_seen > $1 ORDER BY user_id`
	rows, err := r.db.Pool.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Peer
	for rows.Next() {
		var p model.Peer
		if err := scanPeer(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkInactive flips online peers last seen before cutoff to offline.
func (r *PeerRepo) MarkInactive(ctx context.Context, cutoff time.Time) ([]string, error) {
	const q = `UPDATE peers SET online=false WHERE online AND last_seen < $1 RETURNING user_id`
	rows, err := r.db.Pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
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

// CountOnline returns the number of online peers.
func (r *PeerRepo) CountOnline(ctx context.Context) (int64, error) {
	const q = `SELECT count(*) FROM peers WHERE online`
	var n int64
	err := r.db.Pool.QueryRow(ctx, q).Scan(&n)
	return n, err
}

// Delete removes a peer row.
func (r *PeerRepo) Delete(ctx context.Context, userID string) error {
	const q = `DELETE FROM peers WHERE user_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanPeer(row pgx.Row, p *model.Peer) error {
	return row.Scan(&p.UserID, &p.IPAddress, &p.Port, &p.Online, &p.LastSeen)
}

func scanPeerOne(row pgx.Row) (*model.Peer, error) {
	var p model.Peer
	if err := scanPeer(row, &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
