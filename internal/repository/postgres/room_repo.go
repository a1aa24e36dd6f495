package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RoomRepo implements RoomRepository using PostgreSQL.
type RoomRepo struct{ db *DB }

// NewRoomRepo constructs a room repository.
func NewRoomRepo(db *DB) *RoomRepo { return &RoomRepo{db: db} }

const roomCols = `id, name, owner_id, members, creators, shared_files, access_level, created_at`

// Create inserts a new room.
func (r *RoomRepo) Create(ctx context.Context, room *model.Room) error {
	const q = `
INSERT INTO rooms (` + roomCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Pool.Exec(ctx, q,
		room.ID, room.Name, room.OwnerID, room.Members, room.Creators,
		fileIDStrings(room.SharedFiles), string(room.AccessLevel), room.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a room by id.
func (r *RoomRepo) Get(ctx context.Context, id uuid.UUID) (*model.Room, error) {
	const q = `SELECT ` + roomCols + ` FROM rooms WHERE id=$1`
	room, err := scanRoom(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return room, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes
// the room back in the same transaction when fn reports a change.
func (r *RoomRepo) Update(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (*model.Room, bool, error) {
	const sel = `SELECT ` + roomCols + ` FROM rooms WHERE id=$1 FOR UPDATE`
	const upd = `UPDATE rooms SET name=$2, members=$3, creators=$4, shared_files=$5, access_level=$6 WHERE id=$1`

	var (
		room    *model.Room
		changed bool
	)
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		room, err = scanRoom(tx.QueryRow(ctx, sel, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		if changed, err = fn(room); err != nil || !changed {
			return err
		}
		_, err = tx.Exec(ctx, upd, room.ID, room.Name, room.Members, room.Creators,
			fileIDStrings(room.SharedFiles), string(room.AccessLevel))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return room, changed, nil
}

// Delete removes a room.
func (r *RoomRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM rooms WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListByOwner returns rooms owned by ownerID, oldest first.
func (r *RoomRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Room, error) {
	const q = `SELECT ` + roomCols + ` FROM rooms WHERE owner_id=$1 ORDER BY created_at`
	return r.list(ctx, q, ownerID)
}

// ListByMember returns rooms that list userID as a member.
func (r *RoomRepo) ListByMember(ctx context.Context, userID string) ([]model.Room, error) {
	const q = `SELECT ` + roomCols + ` FROM rooms WHERE members @> ARRAY[$1::text] ORDER BY created_at`
	return r.list(ctx, q, userID)
}

// ListByFile returns rooms sharing fileID.
func (r *RoomRepo) ListByFile(ctx context.Context, fileID uuid.UUID) ([]model.Room, error) {
	const q = `SELECT ` + roomCols + ` FROM rooms WHERE shared_files @> ARRAY[$1::text] ORDER BY created_at`
	return r.list(ctx, q, fileID.String())
}

func (r *RoomRepo) list(ctx context.Context, q string, args ...any) ([]model.Room, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *room)
	}
	return out, rows.Err()
}

func scanRoom(row pgx.Row) (*model.Room, error) {
	var (
		id                        uuid.UUID
		name, owner, level        string
		members, creators, shared []string
		created                   time.Time
	)
	if err := row.Scan(&id, &name, &owner, &members, &creators, &shared, &level, &created); err != nil {
		return nil, err
	}
	files := make([]uuid.UUID, 0, len(shared))
	for _, s := range shared {
		fid, err := uuid.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("room %s: shared file %q: %w", id, s, err)
		}
		files = append(files, fid)
	}
	slices.Sort(members)
	slices.Sort(creators)
	return &model.Room{
		ID:          id,
		Name:        name,
		OwnerID:     owner,
		Members:     members,
		Creators:    creators,
		SharedFiles: files,
		AccessLevel: model.AccessLevel(level),
		CreatedAt:   created,
	}, nil
}

func fileIDStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
