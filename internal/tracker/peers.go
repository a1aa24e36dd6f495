package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"go.uber.org/zap"
)

// Default liveness windows.
const (
	DefaultActivityWindow      = 5 * time.Minute
	DefaultInactivityThreshold = 5 * time.Minute
)

// Peers maintains one liveness record per user on top of a PeerRepository.
type Peers struct {
	repo      repository.PeerRepository
	clock     Clock
	window    time.Duration
	threshold time.Duration
	log       *zap.Logger
}

// PeersOption configures Peers.
type PeersOption func(*Peers)

// WithPeerClock replaces the wall clock.
func WithPeerClock(c Clock) PeersOption { return func(p *Peers) { p.clock = c } }

// WithActivityWindow sets the IsActive window.
func WithActivityWindow(d time.Duration) PeersOption { return func(p *Peers) { p.window = d } }

// WithInactivityThreshold sets how long a peer may stay silent before Sweep
// takes it offline.
func WithInactivityThreshold(d time.Duration) PeersOption {
	return func(p *Peers) { p.threshold = d }
}

// NewPeers constructs a tracker over repo.
func NewPeers(repo repository.PeerRepository, log *zap.Logger, opts ...PeersOption) *Peers {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Peers{
		repo:      repo,
		clock:     SystemClock{},
		window:    DefaultActivityWindow,
		threshold: DefaultInactivityThreshold,
		log:       log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register upserts the peer as online with LastSeen = now.
func (p *Peers) Register(ctx context.Context, userID, ip string, port int) (*model.Peer, error) {
	if userID == "" || ip == "" {
		return nil, fmt.Errorf("user id and ip are required: %w", errs.ErrInvalidPeer)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d: %w", port, errs.ErrInvalidPeer)
	}
	peer := &model.Peer{UserID: userID, IPAddress: ip, Port: port, Online: true, LastSeen: p.clock.Now()}
	if err := p.repo.Upsert(ctx, peer); err != nil {
		return nil, err
	}
	return peer, nil
}

// MarkOnline sets the peer online and refreshes LastSeen.
func (p *Peers) MarkOnline(ctx context.Context, userID string) (*model.Peer, error) {
	return p.repo.SetOnline(ctx, userID, true, p.clock.Now())
}

// MarkOffline sets the peer offline; LastSeen is kept.
func (p *Peers) MarkOffline(ctx context.Context, userID string) (*model.Peer, error) {
	return p.repo.SetOnline(ctx, userID, false, time.Time{})
}

// IsActive reports whether the peer is online and was seen within the
// activity window. Unknown peers are inactive.
func (p *Peers) IsActive(ctx context.Context, userID string) (bool, error) {
	peer, err := p.repo.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return peer.Online && p.clock.Now().Sub(peer.LastSeen) < p.window, nil
}

// Sweep takes offline every online peer whose silence exceeds the threshold.
// A peer seen exactly threshold ago stays online.
func (p *Peers) Sweep(ctx context.Context) ([]string, error) {
	return p.repo.MarkInactive(ctx, p.clock.Now().Add(-p.threshold))
}

func (p *Peers) Get(ctx context.Context, userID string) (*model.Peer, error) {
	return p.repo.Get(ctx, userID)
}

// Online lists all peers flagged online.
func (p *Peers) Online(ctx context.Context) ([]model.Peer, error) {
	return p.repo.ListOnline(ctx, time.Time{})
}

// OnlineSince lists online peers seen after cutoff.
func (p *Peers) OnlineSince(ctx context.Context, cutoff time.Time) ([]model.Peer, error) {
	return p.repo.ListOnline(ctx, cutoff)
}

func (p *Peers) CountOnline(ctx context.Context) (int64, error) {
	return p.repo.CountOnline(ctx)
}

// ConnectionString returns "ip:port" for a user's peer.
func (p *Peers) ConnectionString(ctx context.Context, userID string) (string, error) {
	peer, err := p.repo.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return peer.ConnectionString(), nil
}

func (p *Peers) Delete(ctx context.Context, userID string) error {
	return p.repo.Delete(ctx, userID)
}

// Run sweeps every interval until ctx ends. Sweep errors are logged.
func (p *Peers) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, p.log, "peers", func(ctx context.Context) {
		ids, err := p.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("peer sweep failed", zap.Error(err))
			}
			return
		}
		if len(ids) > 0 {
			p.log.Info("peers marked offline", zap.Strings("user_ids", ids))
		}
	})
}
