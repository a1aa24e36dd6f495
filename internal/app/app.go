// Package app is the facade request handlers call. It enforces per-caller
// access rules and ties uploads and downloads to the transfer tracker.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/limiter"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/service"
	"github.com/and161185/sharevault/internal/tracker"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TokenSweeper expires invite tokens in the background.
type TokenSweeper interface {
	RunTokenSweeper(ctx context.Context, interval time.Duration) error
}

// Intervals configures the background sweeps started by Run.
type Intervals struct {
	TransferSweep time.Duration
	PeerSweep     time.Duration
	TokenSweep    time.Duration
}

// Deps are the components App wires together.
type Deps struct {
	Files     service.FileService
	Rooms     service.RoomService
	Transfers *tracker.Transfers
	Peers     *tracker.Peers
	Tokens    TokenSweeper    // optional
	Limiter   limiter.Limiter // optional; throttles bad join tokens per user
	Log       *zap.Logger
}

type App struct {
	files     service.FileService
	rooms     service.RoomService
	transfers *tracker.Transfers
	peers     *tracker.Peers
	tokens    TokenSweeper
	limiter   limiter.Limiter
	every     Intervals
	log       *zap.Logger
}

// New constructs the facade.
func New(d Deps, every Intervals) *App {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		files:     d.Files,
		rooms:     d.Rooms,
		transfers: d.Transfers,
		peers:     d.Peers,
		tokens:    d.Tokens,
		limiter:   d.Limiter,
		every:     every,
		log:       log,
	}
}

// Run starts the periodic sweeps and blocks until ctx ends.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.transfers.Run(ctx, a.every.TransferSweep) })
	g.Go(func() error { return a.peers.Run(ctx, a.every.PeerSweep) })
	if a.tokens != nil {
		g.Go(func() error { return a.tokens.RunTokenSweeper(ctx, a.every.TokenSweep) })
	}
	return g.Wait()
}

// StoreFile uploads a file and, when roomID is set, shares it there. The
// caller must be a creator of that room. The returned transfer id refers to
// a COMPLETED or FAILED transfer.
func (a *App) StoreFile(ctx context.Context, up model.Upload, roomID uuid.UUID) (*model.FileRecord, uuid.UUID, error) {
	if roomID != uuid.Nil {
		if err := a.requireCreator(ctx, roomID, up.OwnerID); err != nil {
			return nil, uuid.Nil, err
		}
	}
	tid, err := a.transfers.Initialize(up.Filename, int64(len(up.Data)))
	if err != nil {
		return nil, uuid.Nil, err
	}
	rec, err := a.files.Store(ctx, up)
	if err != nil {
		a.failTransfer(tid)
		return nil, tid, err
	}
	if roomID != uuid.Nil {
		if err := a.rooms.AddFile(ctx, roomID, rec.ID); err != nil {
			a.failTransfer(tid)
			if derr := a.files.Delete(context.WithoutCancel(ctx), rec.ID); derr != nil {
				a.log.Error("rollback of unshared upload failed", zap.String("file_id", rec.ID.String()), zap.Error(derr))
			}
			return nil, tid, err
		}
	}
	a.completeTransfer(tid, rec.SizeBytes)
	return rec, tid, nil
}

// LoadFile returns the plaintext to the owner or a member of a room sharing it.
func (a *App) LoadFile(ctx context.Context, fileID uuid.UUID, userID string) ([]byte, *model.FileRecord, uuid.UUID, error) {
	rec, err := a.files.Get(ctx, fileID)
	if err != nil {
		return nil, nil, uuid.Nil, err
	}
	ok, err := a.files.HasAccess(ctx, fileID, userID)
	if err != nil {
		return nil, nil, uuid.Nil, err
	}
	if !ok {
		return nil, nil, uuid.Nil, errs.ErrAccessDenied
	}
	tid, err := a.transfers.Initialize(fileID.String(), rec.SizeBytes)
	if err != nil {
		return nil, nil, uuid.Nil, err
	}
	data, rec, err := a.files.Load(ctx, fileID)
	if err != nil {
		a.failTransfer(tid)
		return nil, nil, tid, err
	}
	a.completeTransfer(tid, int64(len(data)))
	return data, rec, tid, nil
}

// DeleteFile is restricted to the owner.
func (a *App) DeleteFile(ctx context.Context, fileID uuid.UUID, userID string) error {
	rec, err := a.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.OwnerID != userID {
		return errs.ErrAccessDenied
	}
	return a.files.Delete(ctx, fileID)
}

func (a *App) ListFiles(ctx context.Context, ownerID, query string) ([]model.FileRecord, error) {
	return a.files.Search(ctx, ownerID, query)
}

func (a *App) completeTransfer(id uuid.UUID, n int64) {
	if _, err := a.transfers.Update(id, n); err != nil {
		a.log.Warn("transfer update failed", zap.String("transfer_id", id.String()), zap.Error(err))
	}
}

func (a *App) failTransfer(id uuid.UUID) {
	if _, err := a.transfers.Fail(id); err != nil {
		a.log.Warn("transfer fail failed", zap.String("transfer_id", id.String()), zap.Error(err))
	}
}

func (a *App) CreateRoom(ctx context.Context, name, ownerID string, level model.AccessLevel) (*model.Room, error) {
	return a.rooms.Create(ctx, name, ownerID, level)
}

func (a *App) JoinRoom(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	return a.rooms.Join(ctx, roomID, userID)
}

func (a *App) JoinRoomByToken(ctx context.Context, token, userID string) (uuid.UUID, bool, error) {
	if a.limiter == nil {
		return a.rooms.JoinByToken(ctx, token, userID)
	}
	ok, retry, err := a.limiter.Allow(ctx, userID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return uuid.Nil, false, fmt.Errorf("%w: retry in %s", errs.ErrTooManyAttempts, retry.Round(time.Second))
	}
	roomID, joined, err := a.rooms.JoinByToken(ctx, token, userID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if blocked, _, lerr := a.limiter.Failure(ctx, userID); lerr != nil {
			a.log.Warn("limiter failure", zap.Error(lerr))
		} else if blocked {
			a.log.Info("join tokens blocked", zap.String("user", userID))
		}
	case err == nil:
		if lerr := a.limiter.Success(ctx, userID); lerr != nil {
			a.log.Warn("limiter success", zap.Error(lerr))
		}
	}
	return roomID, joined, err
}

// LeaveRoom removes the caller. The owner cannot leave.
func (a *App) LeaveRoom(ctx context.Context, roomID uuid.UUID, userID string) error {
	return a.rooms.RemoveMember(ctx, roomID, userID)
}

// RemoveMember lets the owner remove another member.
func (a *App) RemoveMember(ctx context.Context, roomID uuid.UUID, actorID, memberID string) error {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return err
	}
	return a.rooms.RemoveMember(ctx, roomID, memberID)
}

// PromoteCreator lets the owner grant sharing rights to a member.
func (a *App) PromoteCreator(ctx context.Context, roomID uuid.UUID, actorID, memberID string) error {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return err
	}
	return a.rooms.AddCreator(ctx, roomID, memberID)
}

// DemoteCreator lets the owner revoke sharing rights.
func (a *App) DemoteCreator(ctx context.Context, roomID uuid.UUID, actorID, memberID string) error {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return err
	}
	return a.rooms.RemoveCreator(ctx, roomID, memberID)
}

// SetRoomAccess lets the owner change the access level.
func (a *App) SetRoomAccess(ctx context.Context, roomID uuid.UUID, actorID string, level model.AccessLevel) error {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return err
	}
	return a.rooms.SetAccessLevel(ctx, roomID, level)
}

// AddFileToRoom shares a file the caller can read into a room where the
// caller is a creator.
func (a *App) AddFileToRoom(ctx context.Context, roomID, fileID uuid.UUID, userID string) error {
	if err := a.requireCreator(ctx, roomID, userID); err != nil {
		return err
	}
	ok, err := a.files.HasAccess(ctx, fileID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrAccessDenied
	}
	return a.rooms.AddFile(ctx, roomID, fileID)
}

// RemoveFileFromRoom requires creator rights in the room.
func (a *App) RemoveFileFromRoom(ctx context.Context, roomID, fileID uuid.UUID, userID string) error {
	if err := a.requireCreator(ctx, roomID, userID); err != nil {
		return err
	}
	return a.rooms.RemoveFile(ctx, roomID, fileID)
}

// GenerateJoinToken is available to the owner and creators.
func (a *App) GenerateJoinToken(ctx context.Context, roomID uuid.UUID, userID string) (string, error) {
	if err := a.requireCreator(ctx, roomID, userID); err != nil {
		return "", err
	}
	return a.rooms.GenerateJoinToken(ctx, roomID)
}

// DeleteRoom is restricted to the owner.
func (a *App) DeleteRoom(ctx context.Context, roomID uuid.UUID, userID string) error {
	if err := a.requireOwner(ctx, roomID, userID); err != nil {
		return err
	}
	return a.rooms.Delete(ctx, roomID)
}

func (a *App) GetRoom(ctx context.Context, roomID uuid.UUID, userID string) (*model.Room, error) {
	r, err := a.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.IsMember(userID) {
		return nil, errs.ErrAccessDenied
	}
	return r, nil
}

func (a *App) MyRooms(ctx context.Context, userID string) ([]model.Room, error) {
	return a.rooms.ListByMember(ctx, userID)
}

func (a *App) requireOwner(ctx context.Context, roomID uuid.UUID, userID string) error {
	r, err := a.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if r.OwnerID != userID {
		return fmt.Errorf("%s is not the owner of room %s: %w", userID, roomID, errs.ErrAccessDenied)
	}
	return nil
}

func (a *App) requireCreator(ctx context.Context, roomID uuid.UUID, userID string) error {
	ok, err := a.rooms.CanShareFiles(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s cannot share in room %s: %w", userID, roomID, errs.ErrAccessDenied)
	}
	return nil
}

func (a *App) InitTransfer(subjectID string, totalSize int64) (uuid.UUID, error) {
	return a.transfers.Initialize(subjectID, totalSize)
}

func (a *App) UpdateTransfer(id uuid.UUID, delta int64) (tracker.Snapshot, error) {
	return a.transfers.Update(id, delta)
}

func (a *App) GetTransferProgress(id uuid.UUID) (tracker.Snapshot, error) {
	return a.transfers.Get(id)
}

func (a *App) PauseTransfer(id uuid.UUID) (tracker.Snapshot, error) {
	return a.transfers.Pause(id)
}

func (a *App) ResumeTransfer(id uuid.UUID) (tracker.Snapshot, error) {
	return a.transfers.Resume(id)
}

func (a *App) CancelTransfer(id uuid.UUID) (tracker.Snapshot, error) {
	return a.transfers.Cancel(id)
}

func (a *App) RegisterPeer(ctx context.Context, userID, ip string, port int) (*model.Peer, error) {
	return a.peers.Register(ctx, userID, ip, port)
}

// Heartbeat refreshes an existing peer and re-registers an unknown one.
func (a *App) Heartbeat(ctx context.Context, userID, ip string, port int) (*model.Peer, error) {
	p, err := a.peers.MarkOnline(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return a.peers.Register(ctx, userID, ip, port)
	}
	return p, err
}

func (a *App) GetOnlinePeers(ctx context.Context) ([]model.Peer, error) {
	return a.peers.Online(ctx)
}

func (a *App) MarkPeerOffline(ctx context.Context, userID string) (*model.Peer, error) {
	return a.peers.MarkOffline(ctx, userID)
}
