package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
)

// PeerRepo is a map-backed PeerRepository.
type PeerRepo struct {
	mu    sync.RWMutex
	peers map[string]model.Peer
}

// NewPeerRepo constructs an empty peer repository.
func NewPeerRepo() *PeerRepo {
	return &PeerRepo{peers: make(map[string]model.Peer)}
}

func (r *PeerRepo) Upsert(_ context.Context, p *model.Peer) error {
	r.mu.Lock()
	r.peers[p.UserID] = *p
	r.mu.Unlock()
	return nil
}

func (r *PeerRepo) Get(_ context.Context, userID string) (*model.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (r *PeerRepo) SetOnline(_ context.Context, userID string, online bool, lastSeen time.Time) (*model.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	p.Online = online
	if !lastSeen.IsZero() {
		p.LastSeen = lastSeen
	}
	r.peers[userID] = p
	return &p, nil
}

func (r *PeerRepo) ListOnline(_ context.Context, since time.Time) ([]model.Peer, error) {
	r.mu.RLock()
	var out []model.Peer
	for _, p := range r.peers {
		if p.Online && p.LastSeen.After(since) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Peer) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (r *PeerRepo) MarkInactive(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	var ids []string
	for id, p := range r.peers {
		if p.Online && p.LastSeen.Before(cutoff) {
			p.Online = false
			r.peers[id] = p
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids, nil
}

func (r *PeerRepo) CountOnline(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, p := range r.peers {
		if p.Online {
			n++
		}
	}
	return n, nil
}

func (r *PeerRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[userID]; !ok {
		return errs.ErrNotFound
	}
	delete(r.peers, userID)
	return nil
}
