package repository

import (
	"context"

	"github.com/and161185/sharevault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MutateFunc edits a room in place and reports whether it changed.
// Returning an error aborts the update without writing.
type MutateFunc func(r *model.Room) (changed bool, err error)

// RoomRepository persists rooms. Update is the only read-modify-write path
// and is atomic per room.
type RoomRepository interface {
	// Create inserts a new room.
	Create(ctx context.Context, r *model.Room) error
	// Get loads a room snapshot; ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.Room, error)
	// Update applies fn under the room's lock and persists the result when it changed.
	Update(ctx context.Context, id uuid.UUID, fn MutateFunc) (room *model.Room, changed bool, err error)
	// Delete removes a room; ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByOwner returns rooms owned by ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]model.Room, error)
	// ListByMember returns rooms that have userID in members.
	ListByMember(ctx context.Context, userID string) ([]model.Room, error)
	// ListByFile returns rooms whose shared files contain fileID.
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]model.Room, error)
}
