// Package lockmgr implements the two advisory OS file locks Knots
// coordinates same-host clients with: repo_lock and cache_lock (spec.md
// §4.2). Built on github.com/gofrs/flock, which wraps flock(2) on unix and
// LockFileEx on Windows — both release automatically on process death, the
// property spec.md requires instead of a PID-file scheme.
package lockmgr

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	"go.knotsvc.dev/knots/internal/knotserr"
)

// pollInterval is how often a blocking Acquire retries TryLock while
// waiting for the holder to release.
const pollInterval = 50 * time.Millisecond

// Guard holds an acquired lock; Close releases it. Guard is safe to close
// more than once.
type Guard struct {
	fl *flock.Flock
}

// Close releases the lock. It is a no-op if already released.
func (g *Guard) Close() error {
	if g == nil || g.fl == nil {
		return nil
	}
	return g.fl.Unlock()
}

// Acquire blocks up to timeout trying to take the exclusive lock at path,
// returning knotserr.ErrLockTimeout if it does not succeed in time
// (spec.md §5: blocking acquires have a 30s ceiling by default, configured
// by the caller's timeout).
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Guard, error) {
	fl := flock.New(path)

	// One immediate attempt first, so a zero timeout still takes a free lock.
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if locked {
		return &Guard{fl: fl}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err = fl.TryLockContext(ctx, pollInterval)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, knotserr.ErrLockTimeout
		}
		if err != nil {
			return nil, err
		}
		return nil, knotserr.ErrLockTimeout
	}
	return &Guard{fl: fl}, nil
}

// TryAcquire attempts the lock at path without blocking. ok is false if
// another holder currently has it.
func TryAcquire(path string) (guard *Guard, ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return &Guard{fl: fl}, true, nil
}

// Sweep attempts a non-blocking try-lock/unlock round trip and reports
// whether the lock was free, for operator-visible diagnostics. This is not
// itself part of the replication protocol: OS advisory locks already
// release on process death, so no stale-lock break logic is required the
// way a PID-file scheme would need (contrast with
// nikolasavic-lokt/internal/lock/sweep.go's PID-liveness check, which this
// adapts away from since spec.md mandates the OS-primitive model instead).
func Sweep(path string) (free bool, err error) {
	guard, ok, err := TryAcquire(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, guard.Close()
}
