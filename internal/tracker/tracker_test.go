package tracker

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTransfers_ProgressToCompletion(t *testing.T) {
	clk := newFakeClock()
	tr := NewTransfers(nil, WithTransferClock(clk))

	id, err := tr.Initialize("file-1", 1000)
	require.NoError(t, err)
	s, err := tr.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateInitialized, s.State)

	clk.Advance(2 * time.Second)
	s, err = tr.Update(id, 400)
	require.NoError(t, err)
	require.Equal(t, StateInProgress, s.State)
	require.InDelta(t, 40.0, s.Percentage(), 0.001)
	require.Equal(t, int64(200), s.Rate())
	eta, ok := s.ETA()
	require.True(t, ok)
	require.Equal(t, 3*time.Second, eta)

	s, err = tr.Update(id, 600)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, s.State)
	require.InDelta(t, 100.0, s.Percentage(), 0.001)

	s, err = tr.Update(id, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1000), s.BytesTransferred, "terminal transfers ignore updates")
}

func TestTransfers_DerivedValuesWithoutElapsedTime(t *testing.T) {
	s := Snapshot{TotalSize: 0}
	require.Zero(t, s.Percentage())
	require.Zero(t, s.Rate())
	_, ok := s.ETA()
	require.False(t, ok)
}

func TestTransfers_PauseResume(t *testing.T) {
	tr := NewTransfers(nil)
	id, err := tr.Initialize("f", 100)
	require.NoError(t, err)

	s, err := tr.Pause(id)
	require.NoError(t, err)
	require.Equal(t, StateInitialized, s.State, "pause only applies to IN_PROGRESS")

	_, err = tr.Update(id, 10)
	require.NoError(t, err)
	s, err = tr.Pause(id)
	require.NoError(t, err)
	require.Equal(t, StatePaused, s.State)

	s, err = tr.Resume(id)
	require.NoError(t, err)
	require.Equal(t, StateInProgress, s.State)

	s, err = tr.Resume(id)
	require.NoError(t, err)
	require.Equal(t, StateInProgress, s.State)
}

func TestTransfers_CancelAndFailAreTerminal(t *testing.T) {
	tr := NewTransfers(nil)
	a, _ := tr.Initialize("a", 10)
	b, _ := tr.Initialize("b", 10)

	s, err := tr.Cancel(a)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, s.State)
	s, err = tr.Fail(a)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, s.State)

	s, err = tr.Fail(b)
	require.NoError(t, err)
	require.Equal(t, StateFailed, s.State)
}

func TestTransfers_Errors(t *testing.T) {
	tr := NewTransfers(nil)
	_, err := tr.Get(uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = tr.Initialize("f", -1)
	require.ErrorIs(t, err, errs.ErrTransfer)

	id, _ := tr.Initialize("f", 10)
	_, err = tr.Update(id, -5)
	require.ErrorIs(t, err, errs.ErrTransfer)
}

func TestTransfers_UpdateRejectsOverflow(t *testing.T) {
	tr := NewTransfers(nil)
	id, err := tr.Initialize("x", 10)
	require.NoError(t, err)
	_, err = tr.Update(id, 5)
	require.NoError(t, err)

	snap, err := tr.Update(id, math.MaxInt64)
	require.ErrorIs(t, err, errs.ErrTransfer)
	require.Equal(t, int64(5), snap.BytesTransferred)
	require.Equal(t, StateInProgress, snap.State)

	snap, err = tr.Update(id, 5)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, snap.State)
}

func TestTransfers_CleanupKeepsActive(t *testing.T) {
	clk := newFakeClock()
	tr := NewTransfers(nil, WithTransferClock(clk))
	active, _ := tr.Initialize("active", 100)
	done, _ := tr.Initialize("done", 10)
	_, _ = tr.Update(done, 10)

	clk.Advance(time.Hour)
	require.Equal(t, 1, tr.Cleanup(time.Minute))

	_, err := tr.Get(active)
	require.NoError(t, err)
	_, err = tr.Get(done)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, 1, tr.Len())
}

func TestTransfers_MaxTransfers(t *testing.T) {
	clk := newFakeClock()
	tr := NewTransfers(nil, WithTransferClock(clk), WithMaxTransfers(2), WithRetention(time.Minute))
	a, err := tr.Initialize("a", 1)
	require.NoError(t, err)
	_, err = tr.Initialize("b", 1)
	require.NoError(t, err)

	_, err = tr.Initialize("c", 1)
	require.ErrorIs(t, err, errs.ErrTransfer)

	_, _ = tr.Update(a, 1)
	clk.Advance(2 * time.Minute)
	_, err = tr.Initialize("c", 1)
	require.NoError(t, err, "full table is swept before rejecting")
}

func TestTransfers_ConcurrentUpdates(t *testing.T) {
	tr := NewTransfers(nil)
	id, _ := tr.Initialize("f", 1_000_000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = tr.Update(id, 1)
			}
		}()
	}
	wg.Wait()
	s, _ := tr.Get(id)
	require.Equal(t, int64(5000), s.BytesTransferred)
}

func TestTransfers_RunStopsOnCancel(t *testing.T) {
	tr := NewTransfers(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPeers_SweepBoundary(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	p := NewPeers(memory.NewPeerRepo(), nil, WithPeerClock(clk))

	_, err := p.Register(ctx, "stale", "10.0.0.1", 7000)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = p.Register(ctx, "edge", "10.0.0.2", 7000)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = p.Register(ctx, "fresh", "10.0.0.3", 7000)
	require.NoError(t, err)

	// stale: 6m, edge: exactly 5m, fresh: 4m
	clk.Advance(4 * time.Minute)
	ids, err := p.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, ids)

	n, err := p.CountOnline(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	active, err := p.IsActive(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, active)
	active, err = p.IsActive(ctx, "edge")
	require.NoError(t, err)
	require.False(t, active, "activity window is strict")
}

func TestPeers_RegisterUpserts(t *testing.T) {
	ctx := context.Background()
	p := NewPeers(memory.NewPeerRepo(), nil)

	_, err := p.Register(ctx, "alice", "10.0.0.1", 7000)
	require.NoError(t, err)
	_, err = p.MarkOffline(ctx, "alice")
	require.NoError(t, err)
	_, err = p.Register(ctx, "alice", "10.0.0.9", 7001)
	require.NoError(t, err)

	cs, err := p.ConnectionString(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9:7001", cs)

	online, err := p.Online(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)
}

func TestPeers_UnknownAndInvalid(t *testing.T) {
	ctx := context.Background()
	p := NewPeers(memory.NewPeerRepo(), nil)

	active, err := p.IsActive(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, active)

	_, err = p.MarkOnline(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.Register(ctx, "", "10.0.0.1", 1)
	require.ErrorIs(t, err, errs.ErrInvalidPeer)
	_, err = p.Register(ctx, "bob", "10.0.0.1", 70000)
	require.ErrorIs(t, err, errs.ErrInvalidPeer)
	_, err = p.Register(ctx, "bob", "10.0.0.1", 0)
	require.ErrorIs(t, err, errs.ErrInvalidPeer)
}

func TestPeers_MarkOnlineRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	p := NewPeers(memory.NewPeerRepo(), nil, WithPeerClock(clk))
	_, err := p.Register(ctx, "alice", "10.0.0.1", 7000)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	active, _ := p.IsActive(ctx, "alice")
	require.False(t, active)

	_, err = p.MarkOnline(ctx, "alice")
	require.NoError(t, err)
	active, _ = p.IsActive(ctx, "alice")
	require.True(t, active)

	since, err := p.OnlineSince(ctx, clk.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.NoError(t, p.Delete(ctx, "alice"))
}
