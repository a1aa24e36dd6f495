package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/events"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRooms(t *testing.T, opts RoomOptions) (*RoomServiceImpl, *recorder) {
	t.Helper()
	f := newFixture(t, DefaultFileOptions(), opts)
	return f.rooms, f.events
}

func TestRoomService_CreateValidation(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()

	_, err := s.Create(ctx, "  ", "alice", model.AccessPublic)
	require.ErrorIs(t, err, errs.ErrInvalidSettings)
	_, err = s.Create(ctx, "team", "alice", "SECRET")
	require.ErrorIs(t, err, errs.ErrInvalidSettings)
	require.Empty(t, ev.types())

	room, err := s.Create(ctx, "team", "alice", "")
	require.NoError(t, err)
	require.Equal(t, model.AccessPublic, room.AccessLevel)
	require.True(t, room.IsMember("alice"))
	require.True(t, room.IsCreator("alice"))
}

func TestRoomService_OwnerInvariant(t *testing.T) {
	s, _ := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, err := s.Create(ctx, "team", "alice", model.AccessPublic)
	require.NoError(t, err)

	require.ErrorIs(t, s.RemoveMember(ctx, room.ID, "alice"), errs.ErrAccessDenied)
	require.ErrorIs(t, s.RemoveCreator(ctx, room.ID, "alice"), errs.ErrAccessDenied)

	got, err := s.Get(ctx, room.ID)
	require.NoError(t, err)
	require.True(t, got.IsMember("alice"))
	require.True(t, got.IsCreator("alice"))
}

func TestRoomService_JoinIsIdempotent(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, err := s.Create(ctx, "team", "alice", model.AccessPublic)
	require.NoError(t, err)

	joined, err := s.Join(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.True(t, joined)
	joined, err = s.Join(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.False(t, joined)
	joined, err = s.Join(ctx, room.ID, "alice")
	require.NoError(t, err)
	require.False(t, joined)

	require.Equal(t, []model.EventType{model.EventRoomCreated, model.EventUserJoined}, ev.types())
	got, _ := s.Get(ctx, room.ID)
	require.Equal(t, []string{"alice", "bob"}, got.Members)
}

func TestRoomService_JoinAccessLevels(t *testing.T) {
	s, _ := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()

	private, err := s.Create(ctx, "p", "alice", model.AccessPrivate)
	require.NoError(t, err)
	_, err = s.Join(ctx, private.ID, "bob")
	require.ErrorIs(t, err, errs.ErrAccessDenied)

	restricted, err := s.Create(ctx, "r", "alice", model.AccessRestricted)
	require.NoError(t, err)
	joined, err := s.Join(ctx, restricted.ID, "bob")
	require.NoError(t, err)
	require.True(t, joined)

	require.NoError(t, s.SetAccessLevel(ctx, private.ID, model.AccessPublic))
	joined, err = s.Join(ctx, private.ID, "bob")
	require.NoError(t, err)
	require.True(t, joined)

	_, err = s.Join(ctx, uuid.Must(uuid.NewV4()), "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, s.SetAccessLevel(ctx, private.ID, "OPEN"), errs.ErrInvalidSettings)
}

func TestRoomService_Limits(t *testing.T) {
	s, _ := newRooms(t, RoomOptions{MaxMembers: 2, MaxFiles: 1})
	ctx := context.Background()
	room, err := s.Create(ctx, "team", "alice", model.AccessPublic)
	require.NoError(t, err)

	_, err = s.Join(ctx, room.ID, "bob")
	require.NoError(t, err)
	_, err = s.Join(ctx, room.ID, "carol")
	require.ErrorIs(t, err, errs.ErrMaxMembersExceeded)

	require.NoError(t, s.AddFile(ctx, room.ID, uuid.Must(uuid.NewV4())))
	require.ErrorIs(t, s.AddFile(ctx, room.ID, uuid.Must(uuid.NewV4())), errs.ErrMaxFilesExceeded)
}

func TestRoomService_MembersAndCreators(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, err := s.Create(ctx, "team", "alice", model.AccessPublic)
	require.NoError(t, err)

	require.ErrorIs(t, s.AddCreator(ctx, room.ID, "bob"), errs.ErrMemberNotFound)
	_, err = s.Join(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, s.AddCreator(ctx, room.ID, "bob"))
	require.ErrorIs(t, s.AddCreator(ctx, room.ID, "bob"), errs.ErrMemberAlreadyExists)

	ok, err := s.CanShareFiles(ctx, room.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RemoveMember(ctx, room.ID, "bob"))
	require.ErrorIs(t, s.RemoveMember(ctx, room.ID, "bob"), errs.ErrMemberNotFound)
	got, _ := s.Get(ctx, room.ID)
	require.False(t, got.IsCreator("bob"), "leaving drops creator rights")

	require.Equal(t, []model.EventType{model.EventRoomCreated, model.EventUserJoined, model.EventUserLeft}, ev.types())
}

func TestRoomService_Files(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, err := s.Create(ctx, "team", "alice", model.AccessPublic)
	require.NoError(t, err)
	f1, f2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	require.NoError(t, s.AddFile(ctx, room.ID, f1))
	require.NoError(t, s.AddFile(ctx, room.ID, f2))
	require.ErrorIs(t, s.AddFile(ctx, room.ID, f1), errs.ErrFileAlreadyShared)

	got, _ := s.Get(ctx, room.ID)
	require.Equal(t, []uuid.UUID{f1, f2}, got.SharedFiles)

	require.NoError(t, s.RemoveFile(ctx, room.ID, f1))
	require.ErrorIs(t, s.RemoveFile(ctx, room.ID, f1), errs.ErrFileNotFoundInRoom)

	rooms, err := s.RoomsContainingFile(ctx, f2)
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	require.Equal(t, []model.EventType{
		model.EventRoomCreated, model.EventFileShared, model.EventFileShared, model.EventFileUnshared,
	}, ev.types())
}

func TestRoomService_CanAccessFile(t *testing.T) {
	s, _ := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	fid := uuid.Must(uuid.NewV4())
	a, _ := s.Create(ctx, "a", "alice", model.AccessPublic)
	b, _ := s.Create(ctx, "b", "bob", model.AccessPublic)
	require.NoError(t, s.AddFile(ctx, a.ID, fid))
	require.NoError(t, s.AddFile(ctx, b.ID, fid))

	ok, err := s.CanAccessFile(ctx, fid, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.CanAccessFile(ctx, fid, "carol")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RemoveFileEverywhere(ctx, fid))
	ok, _ = s.CanAccessFile(ctx, fid, "bob")
	require.False(t, ok)

	has, err := s.HasAccess(ctx, a.ID, "alice")
	require.NoError(t, err)
	require.True(t, has)
	has, err = s.HasAccess(ctx, uuid.Must(uuid.NewV4()), "alice")
	require.NoError(t, err)
	require.False(t, has)
}

func TestRoomService_Delete(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, _ := s.Create(ctx, "team", "alice", model.AccessPublic)
	tok, err := s.GenerateJoinToken(ctx, room.ID)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, room.ID))
	require.ErrorIs(t, s.Delete(ctx, room.ID), errs.ErrNotFound)
	_, err = s.ResolveToken(tok)
	require.ErrorIs(t, err, errs.ErrNotFound)

	owned, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, owned)
	require.Equal(t, []model.EventType{model.EventRoomCreated, model.EventRoomDeleted}, ev.types())
}

func TestRoomService_JoinTokens(t *testing.T) {
	s, _ := newRooms(t, RoomOptions{TokenTTL: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	room, _ := s.Create(ctx, "team", "alice", model.AccessPublic)

	_, err := s.GenerateJoinToken(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	tok, err := s.GenerateJoinToken(ctx, room.ID)
	require.NoError(t, err)
	got, err := s.ResolveToken(tok)
	require.NoError(t, err)
	require.Equal(t, room.ID, got)

	id, joined, err := s.JoinByToken(ctx, tok, "bob")
	require.NoError(t, err)
	require.True(t, joined)
	require.Equal(t, room.ID, id)

	_, err = s.ResolveToken("nope")
	require.ErrorIs(t, err, errs.ErrNotFound)

	now = now.Add(time.Minute)
	_, err = s.ResolveToken(tok)
	require.ErrorIs(t, err, errs.ErrNotFound, "tokens expire at their TTL")
}

func TestRoomService_TokenCap(t *testing.T) {
	s, _ := newRooms(t, RoomOptions{TokenTTL: time.Hour, MaxJoinTokens: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	room, _ := s.Create(ctx, "team", "alice", model.AccessPublic)

	first, _ := s.GenerateJoinToken(ctx, room.ID)
	now = now.Add(time.Second)
	second, _ := s.GenerateJoinToken(ctx, room.ID)
	now = now.Add(time.Second)
	third, err := s.GenerateJoinToken(ctx, room.ID)
	require.NoError(t, err)

	_, err = s.ResolveToken(first)
	require.ErrorIs(t, err, errs.ErrNotFound, "oldest token is evicted")
	for _, tok := range []string{second, third} {
		_, err = s.ResolveToken(tok)
		require.NoError(t, err)
	}

	now = now.Add(2 * time.Hour)
	require.Equal(t, 2, s.SweepTokens())
}

func TestRoomService_ConcurrentJoins(t *testing.T) {
	s, ev := newRooms(t, DefaultRoomOptions())
	ctx := context.Background()
	room, _ := s.Create(ctx, "team", "alice", model.AccessPublic)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user-%02d", i%25)
			_, err := s.Join(ctx, room.ID, user)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, room.ID)
	require.Len(t, got.Members, 26)
	require.Len(t, ev.types(), 26, "one ROOM_CREATED plus one USER_JOINED per distinct user")
}

func TestRoomService_StalledSubscriberDoesNotBlockMutations(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log)
	stalled := bus.Subscribe(0)
	defer stalled.Close()
	s := NewRoomService(memory.NewRoomRepo(), bus, RoomOptions{PublishTimeout: 20 * time.Millisecond}, log)
	ctx := context.Background()

	done := make(chan struct{})
	var room *model.Room
	var err error
	go func() {
		defer close(done)
		room, err = s.Create(ctx, "team", "alice", model.AccessPublic)
		if err == nil {
			_, err = s.Join(ctx, room.ID, "bob")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("room mutation blocked on a stalled subscriber")
	}
	require.NoError(t, err)

	got, err := s.Get(ctx, room.ID)
	require.NoError(t, err)
	require.True(t, got.IsMember("bob"))
}
