package limiter

import (
	"context"
	"sync"
	"time"
)

// memoryPruneAt is the table size that triggers dropping idle entries.
const memoryPruneAt = 10000

type attempt struct {
	fails        int
	updated      time.Time
	blockedUntil time.Time
}

// Memory is an in-process Limiter.
type Memory struct {
	p   Policy
	now func() time.Time

	mu sync.Mutex
	m  map[string]*attempt
}

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{p: p, now: time.Now, m: make(map[string]*attempt)}
}

func (l *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.m[key]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (l *Memory) Success(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
	return nil
}

func (l *Memory) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	a, ok := l.m[key]
	if !ok {
		if len(l.m) >= memoryPruneAt {
			l.pruneLocked(now)
		}
		a = &attempt{}
		l.m[key] = a
	}
	if now.Sub(a.updated) > l.p.Window {
		a.fails = 0
	}
	a.fails++
	a.updated = now
	if a.fails >= l.p.MaxFails {
		a.blockedUntil = now.Add(l.p.BlockFor)
		return true, l.p.BlockFor, nil
	}
	return false, 0, nil
}

// Len returns the number of tracked keys.
func (l *Memory) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Memory) pruneLocked(now time.Time) {
	for k, a := range l.m {
		if now.Sub(a.updated) > l.p.Window && !a.blockedUntil.After(now) {
			delete(l.m, k)
		}
	}
}
