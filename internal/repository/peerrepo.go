package repository

import (
	"context"
	"time"

	"github.com/and161185/sharevault/internal/model"
)

// PeerRepository persists peer liveness records keyed by user id.
type PeerRepository interface {
	// Upsert inserts or replaces the peer for p.UserID.
	Upsert(ctx context.Context, p *model.Peer) error
	// Get loads a peer; ErrNotFound if absent.
	Get(ctx context.Context, userID string) (*model.Peer, error)
	// SetOnline flips the online flag; lastSeen is updated only when non-zero.
	SetOnline(ctx context.Context, userID string, online bool, lastSeen time.Time) (*model.Peer, error)
	// ListOnline returns online peers seen after since (zero means any).
	ListOnline(ctx context.Context, since time.Time) ([]model.Peer, error)
	// MarkInactive sets online=false for online peers with last_seen < cutoff
	// and returns their user ids.
	MarkInactive(ctx context.Context, cutoff time.Time) ([]string, error)
	// CountOnline returns the number of online peers.
	CountOnline(ctx context.Context) (int64, error)
	// Delete removes a peer; ErrNotFound if absent.
	Delete(ctx context.Context, userID string) error
}
