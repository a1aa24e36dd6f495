package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/and161185/sharevault/internal/crypto"
	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/events"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// RoomService manages room membership, shared files and invite tokens.
type RoomService interface {
	Create(ctx context.Context, name, ownerID string, level model.AccessLevel) (*model.Room, error)
	Get(ctx context.Context, roomID uuid.UUID) (*model.Room, error)
	// Join adds userID; false with no error when already a member.
	Join(ctx context.Context, roomID uuid.UUID, userID string) (bool, error)
	RemoveMember(ctx context.Context, roomID uuid.UUID, userID string) error
	AddCreator(ctx context.Context, roomID uuid.UUID, userID string) error
	RemoveCreator(ctx context.Context, roomID uuid.UUID, userID string) error
	AddFile(ctx context.Context, roomID, fileID uuid.UUID) error
	RemoveFile(ctx context.Context, roomID, fileID uuid.UUID) error
	SetAccessLevel(ctx context.Context, roomID uuid.UUID, level model.AccessLevel) error
	Delete(ctx context.Context, roomID uuid.UUID) error

	CanShareFiles(ctx context.Context, roomID uuid.UUID, userID string) (bool, error)
	HasAccess(ctx context.Context, roomID uuid.UUID, userID string) (bool, error)
	CanAccessFile(ctx context.Context, fileID uuid.UUID, userID string) (bool, error)
	RoomsContainingFile(ctx context.Context, fileID uuid.UUID) ([]model.Room, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Room, error)
	ListByMember(ctx context.Context, userID string) ([]model.Room, error)
	RemoveFileEverywhere(ctx context.Context, fileID uuid.UUID) error

	GenerateJoinToken(ctx context.Context, roomID uuid.UUID) (string, error)
	ResolveToken(token string) (uuid.UUID, error)
	JoinByToken(ctx context.Context, token, userID string) (roomID uuid.UUID, joined bool, err error)
}

// RoomOptions bounds room and token tables. Zero limits mean unbounded.
type RoomOptions struct {
	MaxMembers    int
	MaxFiles      int
	TokenTTL      time.Duration
	MaxJoinTokens int
	// PublishTimeout caps how long a mutation waits for slow subscribers.
	PublishTimeout time.Duration
}

// DefaultPublishTimeout applies when RoomOptions.PublishTimeout is unset.
const DefaultPublishTimeout = 2 * time.Second

// DefaultRoomOptions returns the production defaults.
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{TokenTTL: 24 * time.Hour, MaxJoinTokens: 10000, PublishTimeout: DefaultPublishTimeout}
}

type joinToken struct {
	roomID  uuid.UUID
	expires time.Time
}

// RoomServiceImpl is the RoomService over a RoomRepository and an event publisher.
type RoomServiceImpl struct {
	repo repository.RoomRepository
	pub  events.Publisher
	opts RoomOptions
	log  *zap.Logger
	now  func() time.Time

	tokMu  sync.Mutex
	tokens map[string]joinToken
}

// NewRoomService constructs the registry. pub may be nil.
func NewRoomService(repo repository.RoomRepository, pub events.Publisher, opts RoomOptions, log *zap.Logger) *RoomServiceImpl {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultRoomOptions().TokenTTL
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomServiceImpl{
		repo:   repo,
		pub:    pub,
		opts:   opts,
		log:    log,
		now:    time.Now,
		tokens: make(map[string]joinToken),
	}
}

func (s *RoomServiceImpl) publish(ctx context.Context, typ model.EventType, roomID uuid.UUID, userID string, fileID uuid.UUID) {
	if s.pub == nil {
		return
	}
	ev := model.RoomEvent{Type: typ, RoomID: roomID, UserID: userID, FileID: fileID, At: s.now().UTC()}
	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("event not delivered",
			zap.String("type", string(typ)),
			zap.String("room_id", roomID.String()),
			zap.Error(err))
	}
}

func (s *RoomServiceImpl) Create(ctx context.Context, name, ownerID string, level model.AccessLevel) (*model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || ownerID == "" {
		return nil, fmt.Errorf("name and owner are required: %w", errs.ErrInvalidSettings)
	}
	if level == "" {
		level = model.AccessPublic
	}
	if !level.Valid() {
		return nil, fmt.Errorf("access level %q: %w", level, errs.ErrInvalidSettings)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	room := model.NewRoom(id, name, ownerID, level, s.now().UTC())
	if err := s.repo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	s.log.Info("room created", zap.String("room_id", id.String()), zap.String("owner_id", ownerID))
	s.publish(ctx, model.EventRoomCreated, id, ownerID, uuid.Nil)
	return room, nil
}

func (s *RoomServiceImpl) Get(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	return s.repo.Get(ctx, roomID)
}

func (s *RoomServiceImpl) Join(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("empty user: %w", errs.ErrInvalidSettings)
	}
	_, changed, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if r.IsMember(userID) {
			return false, nil
		}
		if r.AccessLevel == model.AccessPrivate && r.OwnerID != userID {
			return false, errs.ErrAccessDenied
		}
		if s.opts.MaxMembers > 0 && len(r.Members) >= s.opts.MaxMembers {
			return false, errs.ErrMaxMembersExceeded
		}
		return r.AddMember(userID), nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.publish(ctx, model.EventUserJoined, roomID, userID, uuid.Nil)
	}
	return changed, nil
}

func (s *RoomServiceImpl) RemoveMember(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if r.OwnerID == userID {
			return false, fmt.Errorf("owner cannot leave: %w", errs.ErrAccessDenied)
		}
		if !r.RemoveMember(userID) {
			return false, errs.ErrMemberNotFound
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, model.EventUserLeft, roomID, userID, uuid.Nil)
	return nil
}

func (s *RoomServiceImpl) AddCreator(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if !r.IsMember(userID) {
			return false, errs.ErrMemberNotFound
		}
		if !r.AddCreator(userID) {
			return false, errs.ErrMemberAlreadyExists
		}
		return true, nil
	})
	return err
}

func (s *RoomServiceImpl) RemoveCreator(ctx context.Context, roomID uuid.UUID, userID string) error {
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if r.OwnerID == userID {
			return false, fmt.Errorf("owner is always a creator: %w", errs.ErrAccessDenied)
		}
		if !r.IsMember(userID) {
			return false, errs.ErrMemberNotFound
		}
		return r.RemoveCreator(userID), nil
	})
	return err
}

func (s *RoomServiceImpl) AddFile(ctx context.Context, roomID, fileID uuid.UUID) error {
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if r.HasFile(fileID) {
			return false, errs.ErrFileAlreadyShared
		}
		if s.opts.MaxFiles > 0 && len(r.SharedFiles) >= s.opts.MaxFiles {
			return false, errs.ErrMaxFilesExceeded
		}
		return r.AddFile(fileID), nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, model.EventFileShared, roomID, "", fileID)
	return nil
}

func (s *RoomServiceImpl) RemoveFile(ctx context.Context, roomID, fileID uuid.UUID) error {
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if !r.RemoveFile(fileID) {
			return false, errs.ErrFileNotFoundInRoom
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, model.EventFileUnshared, roomID, "", fileID)
	return nil
}

func (s *RoomServiceImpl) SetAccessLevel(ctx context.Context, roomID uuid.UUID, level model.AccessLevel) error {
	if !level.Valid() {
		return fmt.Errorf("access level %q: %w", level, errs.ErrInvalidSettings)
	}
	_, _, err := s.repo.Update(ctx, roomID, func(r *model.Room) (bool, error) {
		if r.AccessLevel == level {
			return false, nil
		}
		r.AccessLevel = level
		return true, nil
	})
	return err
}

// Delete removes the room and its invite tokens. Shared files are untouched.
func (s *RoomServiceImpl) Delete(ctx context.Context, roomID uuid.UUID) error {
	room, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, roomID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete room %s: %w: %w", roomID, errs.ErrDeletion, err)
	}
	s.dropTokens(roomID)
	s.log.Info("room deleted", zap.String("room_id", roomID.String()))
	s.publish(ctx, model.EventRoomDeleted, roomID, room.OwnerID, uuid.Nil)
	return nil
}

func (s *RoomServiceImpl) CanShareFiles(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	r, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return r.IsCreator(userID), nil
}

func (s *RoomServiceImpl) HasAccess(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	r, err := s.repo.Get(ctx, roomID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.IsMember(userID), nil
}

// CanAccessFile reports whether any room sharing fileID has userID as member.
func (s *RoomServiceImpl) CanAccessFile(ctx context.Context, fileID uuid.UUID, userID string) (bool, error) {
	rooms, err := s.repo.ListByFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	for i := range rooms {
		if rooms[i].IsMember(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *RoomServiceImpl) RoomsContainingFile(ctx context.Context, fileID uuid.UUID) ([]model.Room, error) {
	return s.repo.ListByFile(ctx, fileID)
}

func (s *RoomServiceImpl) ListByOwner(ctx context.Context, ownerID string) ([]model.Room, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *RoomServiceImpl) ListByMember(ctx context.Context, userID string) ([]model.Room, error) {
	return s.repo.ListByMember(ctx, userID)
}

// RemoveFileEverywhere unshares fileID from every room that lists it.
func (s *RoomServiceImpl) RemoveFileEverywhere(ctx context.Context, fileID uuid.UUID) error {
	rooms, err := s.repo.ListByFile(ctx, fileID)
	if err != nil {
		return err
	}
	var errList []error
	for i := range rooms {
		_, changed, err := s.repo.Update(ctx, rooms[i].ID, func(r *model.Room) (bool, error) {
			return r.RemoveFile(fileID), nil
		})
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			errList = append(errList, fmt.Errorf("room %s: %w", rooms[i].ID, err))
		case changed:
			s.publish(ctx, model.EventFileUnshared, rooms[i].ID, "", fileID)
		}
	}
	return errors.Join(errList...)
}

// GenerateJoinToken issues an opaque invite token valid for TokenTTL.
func (s *RoomServiceImpl) GenerateJoinToken(ctx context.Context, roomID uuid.UUID) (string, error) {
	if _, err := s.repo.Get(ctx, roomID); err != nil {
		return "", err
	}
	raw, err := crypto.RandBytes(24)
	if err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(raw)
	now := s.now()

	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	if s.opts.MaxJoinTokens > 0 && len(s.tokens) >= s.opts.MaxJoinTokens {
		s.sweepLocked(now)
		if len(s.tokens) >= s.opts.MaxJoinTokens {
			s.evictOldestLocked()
		}
	}
	s.tokens[tok] = joinToken{roomID: roomID, expires: now.Add(s.opts.TokenTTL)}
	return tok, nil
}

// ResolveToken maps a token to its room; ErrNotFound when unknown or expired.
func (s *RoomServiceImpl) ResolveToken(token string) (uuid.UUID, error) {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	jt, ok := s.tokens[token]
	if !ok {
		return uuid.Nil, errs.ErrNotFound
	}
	if !s.now().Before(jt.expires) {
		delete(s.tokens, token)
		return uuid.Nil, errs.ErrNotFound
	}
	return jt.roomID, nil
}

func (s *RoomServiceImpl) JoinByToken(ctx context.Context, token, userID string) (uuid.UUID, bool, error) {
	roomID, err := s.ResolveToken(token)
	if err != nil {
		return uuid.Nil, false, err
	}
	joined, err := s.Join(ctx, roomID, userID)
	return roomID, joined, err
}

// SweepTokens drops expired tokens and returns how many were removed.
func (s *RoomServiceImpl) SweepTokens() int {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *RoomServiceImpl) sweepLocked(now time.Time) int {
	n := 0
	for k, jt := range s.tokens {
		if !now.Before(jt.expires) {
			delete(s.tokens, k)
			n++
		}
	}
	return n
}

func (s *RoomServiceImpl) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, jt := range s.tokens {
		if oldest == "" || jt.expires.Before(at) {
			oldest, at = k, jt.expires
		}
	}
	delete(s.tokens, oldest)
}

func (s *RoomServiceImpl) dropTokens(roomID uuid.UUID) {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	for k, jt := range s.tokens {
		if jt.roomID == roomID {
			delete(s.tokens, k)
		}
	}
}

// RunTokenSweeper expires tokens every interval until ctx ends.
func (s *RoomServiceImpl) RunTokenSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.SweepTokens(); n > 0 {
				s.log.Debug("join tokens expired", zap.Int("removed", n))
			}
		}
	}
}
