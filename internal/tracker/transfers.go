package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// State is a transfer lifecycle state.
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateInProgress  State = "IN_PROGRESS"
	StatePaused      State = "PAUSED"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
	StateCancelled   State = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Snapshot is a point-in-time copy of one transfer.
type Snapshot struct {
	ID               uuid.UUID
	SubjectID        string
	TotalSize        int64
	BytesTransferred int64
	State            State
	StartTime        time.Time
	LastUpdateTime   time.Time
}

// Percentage is bytes/total*100, or 0 for an empty transfer.
func (s Snapshot) Percentage() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.BytesTransferred) / float64(s.TotalSize) * 100
}

// Rate is the average throughput in bytes per second between start and the
// last update; 0 when no time has elapsed.
func (s Snapshot) Rate() int64 {
	ms := s.LastUpdateTime.Sub(s.StartTime).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return s.BytesTransferred * 1000 / ms
}

// ETA estimates the remaining time; ok is false when the rate is 0.
func (s Snapshot) ETA() (eta time.Duration, ok bool) {
	rate := s.Rate()
	if rate == 0 {
		return 0, false
	}
	remaining := max(s.TotalSize-s.BytesTransferred, 0)
	return time.Duration(remaining/rate) * time.Second, true
}

type transfer struct {
	mu   sync.Mutex
	snap Snapshot
}

// Transfers tracks progress by transfer id. Each entry has its own mutex;
// there is no table-wide lock.
type Transfers struct {
	entries   sync.Map // uuid.UUID -> *transfer
	count     atomic.Int64
	max       int64
	retention time.Duration
	clock     Clock
	log       *zap.Logger
}

// TransfersOption configures Transfers.
type TransfersOption func(*Transfers)

// WithMaxTransfers caps live records; 0 means unbounded.
func WithMaxTransfers(n int) TransfersOption {
	return func(t *Transfers) { t.max = int64(n) }
}

// WithRetention sets how long terminal records are kept.
func WithRetention(d time.Duration) TransfersOption {
	return func(t *Transfers) { t.retention = d }
}

// WithTransferClock replaces the wall clock.
func WithTransferClock(c Clock) TransfersOption {
	return func(t *Transfers) { t.clock = c }
}

// NewTransfers constructs an empty tracker.
func NewTransfers(log *zap.Logger, opts ...TransfersOption) *Transfers {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transfers{retention: time.Hour, clock: SystemClock{}, log: log}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transfers) reserve() bool {
	for {
		n := t.count.Load()
		if t.max > 0 && n >= t.max {
			return false
		}
		if t.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Initialize creates an INITIALIZED record. When the table is full a cleanup
// pass runs first; ErrTransfer if it is still full.
func (t *Transfers) Initialize(subjectID string, totalSize int64) (uuid.UUID, error) {
	if totalSize < 0 {
		return uuid.Nil, fmt.Errorf("negative total size: %w", errs.ErrTransfer)
	}
	if !t.reserve() {
		t.Cleanup(t.retention)
		if !t.reserve() {
			return uuid.Nil, fmt.Errorf("transfer table full (%d): %w", t.max, errs.ErrTransfer)
		}
	}
	id, err := uuid.NewV4()
	if err != nil {
		t.count.Add(-1)
		return uuid.Nil, err
	}
	now := t.clock.Now()
	t.entries.Store(id, &transfer{snap: Snapshot{
		ID:             id,
		SubjectID:      subjectID,
		TotalSize:      totalSize,
		State:          StateInitialized,
		StartTime:      now,
		LastUpdateTime: now,
	}})
	return id, nil
}

func (t *Transfers) with(id uuid.UUID, fn func(s *Snapshot, now time.Time) error) (Snapshot, error) {
	v, ok := t.entries.Load(id)
	if !ok {
		return Snapshot{}, errs.ErrNotFound
	}
	tr := v.(*transfer)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if fn != nil {
		if err := fn(&tr.snap, t.clock.Now()); err != nil {
			return tr.snap, err
		}
	}
	return tr.snap, nil
}

// Update adds delta bytes. The first update moves INITIALIZED to IN_PROGRESS;
// reaching the total completes the transfer. Terminal transfers are unchanged.
func (t *Transfers) Update(id uuid.UUID, delta int64) (Snapshot, error) {
	if delta < 0 {
		return Snapshot{}, fmt.Errorf("negative delta %d: %w", delta, errs.ErrTransfer)
	}
	return t.with(id, func(s *Snapshot, now time.Time) error {
		if s.State.Terminal() {
			return nil
		}
		if delta > math.MaxInt64-s.BytesTransferred {
			return fmt.Errorf("delta %d overflows %d transferred bytes: %w", delta, s.BytesTransferred, errs.ErrTransfer)
		}
		s.BytesTransferred += delta
		s.LastUpdateTime = now
		if s.State == StateInitialized {
			s.State = StateInProgress
		}
		if s.BytesTransferred >= s.TotalSize {
			s.State = StateCompleted
		}
		return nil
	})
}

// Pause moves IN_PROGRESS to PAUSED; otherwise a no-op.
func (t *Transfers) Pause(id uuid.UUID) (Snapshot, error) {
	return t.with(id, func(s *Snapshot, _ time.Time) error {
		if s.State == StateInProgress {
			s.State = StatePaused
		}
		return nil
	})
}

// Resume moves PAUSED to IN_PROGRESS; otherwise a no-op.
func (t *Transfers) Resume(id uuid.UUID) (Snapshot, error) {
	return t.with(id, func(s *Snapshot, now time.Time) error {
		if s.State == StatePaused {
			s.State = StateInProgress
			s.LastUpdateTime = now
		}
		return nil
	})
}

// Cancel ends a non-terminal transfer as CANCELLED.
func (t *Transfers) Cancel(id uuid.UUID) (Snapshot, error) {
	return t.finish(id, StateCancelled)
}

// Fail ends a non-terminal transfer as FAILED.
func (t *Transfers) Fail(id uuid.UUID) (Snapshot, error) {
	return t.finish(id, StateFailed)
}

func (t *Transfers) finish(id uuid.UUID, st State) (Snapshot, error) {
	return t.with(id, func(s *Snapshot, now time.Time) error {
		if s.State.Terminal() {
			return nil
		}
		s.State = st
		s.LastUpdateTime = now
		return nil
	})
}

// Get returns the current snapshot.
func (t *Transfers) Get(id uuid.UUID) (Snapshot, error) {
	return t.with(id, nil)
}

// Len returns the number of tracked transfers.
func (t *Transfers) Len() int { return int(t.count.Load()) }

// Cleanup removes terminal records idle for longer than maxAge and returns
// how many were removed. Non-terminal records are kept regardless of age.
func (t *Transfers) Cleanup(maxAge time.Duration) int {
	now := t.clock.Now()
	removed := 0
	t.entries.Range(func(k, v any) bool {
		tr := v.(*transfer)
		tr.mu.Lock()
		expired := tr.snap.State.Terminal() && now.Sub(tr.snap.LastUpdateTime) > maxAge
		tr.mu.Unlock()
		if expired && t.entries.CompareAndDelete(k, v) {
			t.count.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps terminal records every interval until ctx ends.
func (t *Transfers) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, t.log, "transfers", func(context.Context) {
		if n := t.Cleanup(t.retention); n > 0 {
			t.log.Debug("transfers swept", zap.Int("removed", n), zap.Int("remaining", t.Len()))
		}
	})
}
