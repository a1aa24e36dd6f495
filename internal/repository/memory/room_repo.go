package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// RoomRepo is a map-backed RoomRepository. Each room carries its own mutex
// so updates to different rooms do not contend.
type RoomRepo struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomEntry
}

type roomEntry struct {
	mu      sync.Mutex
	room    *model.Room
	deleted bool
}

// NewRoomRepo constructs an empty room repository.
func NewRoomRepo() *RoomRepo {
	return &RoomRepo{rooms: make(map[uuid.UUID]*roomEntry)}
}

func (r *RoomRepo) Create(_ context.Context, room *model.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return errs.ErrAlreadyExists
	}
	r.rooms[room.ID] = &roomEntry{room: room.Clone()}
	return nil
}

func (r *RoomRepo) entry(id uuid.UUID) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[id]
	return e, ok
}

func (r *RoomRepo) Get(_ context.Context, id uuid.UUID) (*model.Room, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, errs.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, errs.ErrNotFound
	}
	return e.room.Clone(), nil
}

// Update runs fn on a copy under the room mutex and swaps it in when changed.
func (r *RoomRepo) Update(
	ctx context.Context, id uuid.UUID, fn repository.MutateFunc,
) (*model.Room, bool, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, false, errs.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, false, errs.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	work := e.room.Clone()
	changed, err := fn(work)
	if err != nil {
		return nil, false, err
	}
	if changed {
		e.room = work
	}
	return e.room.Clone(), changed, nil
}

func (r *RoomRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()
	if !ok {
		return errs.ErrNotFound
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (r *RoomRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Room, error) {
	return r.filter(func(rm *model.Room) bool { return rm.OwnerID == ownerID }), nil
}

func (r *RoomRepo) ListByMember(_ context.Context, userID string) ([]model.Room, error) {
	return r.filter(func(rm *model.Room) bool { return rm.IsMember(userID) }), nil
}

func (r *RoomRepo) ListByFile(_ context.Context, fileID uuid.UUID) ([]model.Room, error) {
	return r.filter(func(rm *model.Room) bool { return rm.HasFile(fileID) }), nil
}

// filter returns snapshots of matching rooms, oldest first.
func (r *RoomRepo) filter(keep func(*model.Room) bool) []model.Room {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []model.Room
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && keep(e.room) {
			out = append(out, *e.room.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}
