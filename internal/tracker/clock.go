// Package tracker keeps in-flight transfer progress and peer liveness, and
// runs the periodic sweeps that expire both.
package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// every calls fn each interval until ctx ends. It returns nil on cancellation
// so it can run under an errgroup.
func every(ctx context.Context, interval time.Duration, log *zap.Logger, name string, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	log.Info("sweeper started", zap.String("sweeper", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped", zap.String("sweeper", name))
			return nil
		case <-t.C:
			fn(ctx)
		}
	}
}
