// Package replication implements the Replication Service from spec.md
// §4.5: push/pull/sync over the dedicated knots worktree, retrying
// non-fast-forward rejections and backing off transient failures inside a
// wall-clock budget, with local commits always preserved on failure.
package replication

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.knotsvc.dev/knots/internal/cachestore"
	"go.knotsvc.dev/knots/internal/config"
	"go.knotsvc.dev/knots/internal/gitadapter"
	"go.knotsvc.dev/knots/internal/knotserr"
	"go.knotsvc.dev/knots/internal/lockmgr"
	"go.knotsvc.dev/knots/internal/worktree"
	knotslog "go.knotsvc.dev/knots/log"
)

// Service ties the worktree, cache, and lock paths together to run the
// replication protocol. It holds no locks itself between calls: Sync and
// PushIfMatch acquire repoLock, Pull acquires cacheLock for its apply step,
// and Push acquires neither; repo_lock is always taken before cache_lock
// (spec.md §5).
type Service struct {
	Worktree      *worktree.Manager
	Cache         *cachestore.Store
	MainRepoPath  string
	RepoLockPath  string
	CacheLockPath string
	Cfg           *config.Config
}

// New constructs a Service.
func New(wt *worktree.Manager, cache *cachestore.Store, cfg *config.Config, mainRepoPath, repoLockPath, cacheLockPath string) *Service {
	return &Service{
		Worktree:      wt,
		Cache:         cache,
		MainRepoPath:  mainRepoPath,
		RepoLockPath:  repoLockPath,
		CacheLockPath: cacheLockPath,
		Cfg:           cfg,
	}
}

// PushResult is the outcome of a Push call, per spec.md §4.5.1.
type PushResult struct {
	Pushed    bool
	Committed bool
	Queued    bool
	Commit    string
	Reason    string
}

// Push writes files in one commit and attempts to push it, per the
// algorithm in spec.md §4.5.1. Callers are expected to have already
// acquired repo_lock for the duration of this call (spec.md §4.5.4's write
// command pattern); Push itself does not acquire repo_lock so that the
// caller can build its event files while already holding it.
func (s *Service) Push(ctx context.Context, files []worktree.EventFile, message string, budget time.Duration) (PushResult, error) {
	logger := knotslog.SubLogger(knotslog.FromContext(ctx), "replication")
	deadline := time.Now().Add(budget)
	state := pushIdle

	if err := s.Worktree.EnsureExists(ctx, s.MainRepoPath); err != nil {
		return PushResult{}, fmt.Errorf("ensure worktree: %w", err)
	}

	const maxAttempts = 3
	attempts := s.Cfg.MaxPushAttempts
	if attempts <= 0 {
		attempts = maxAttempts
	}

	var lastCommit string
	budgetOut := false
	lastNonFF := false
	for attempt := 0; attempt < attempts; attempt++ {
		// Only the network push (and the retry/backoff it feeds) is
		// gated by the budget; the local reset/clean/stage/commit below
		// is not network I/O and must happen even with budget=0 (spec.md
		// §8.3: a zero push budget still produces a local commit).
		if attempt > 0 && time.Now().After(deadline) {
			budgetOut = true
			break
		}

		state = pushFetched
		if err := s.Worktree.Repo.Fetch(ctx, s.remote(), s.Worktree.Branch, s.Cfg.Sync.FetchArgs); err == nil {
			if remoteHead, err := s.Worktree.Repo.RevParse(ctx, s.remote()+"/"+s.Worktree.Branch); err == nil {
				if err := s.Worktree.Repo.ResetHard(ctx, remoteHead); err != nil {
					return PushResult{}, fmt.Errorf("reset to remote head: %w", err)
				}
			} else if localHead, err := s.Worktree.Repo.RevParse(ctx, "HEAD"); err == nil {
				// First-push bootstrap: no remote branch yet, stay on local HEAD.
				if err := s.Worktree.Repo.ResetHard(ctx, localHead); err != nil {
					return PushResult{}, fmt.Errorf("reset to local head: %w", err)
				}
			}
		}

		state = pushClean
		if err := s.Worktree.EnsureClean(ctx); err != nil {
			return PushResult{}, err
		}

		state = pushStaged
		var paths []string
		for _, f := range files {
			conflict, err := s.copyWithCollisionPolicy(f)
			if err != nil {
				return PushResult{}, err
			}
			if conflict {
				return PushResult{}, knotserr.ErrFileConflict
			}
			paths = append(paths, f.RelPath)
		}
		// Stage only the event directories that exist: git add fails on a
		// pathspec that matches nothing.
		var stageDirs []string
		for _, dir := range []string{".knots/index", ".knots/events"} {
			if _, err := os.Stat(filepath.Join(s.Worktree.Path, dir)); err == nil {
				stageDirs = append(stageDirs, dir)
			}
		}
		if err := s.Worktree.Repo.AddPaths(ctx, stageDirs); err != nil {
			return PushResult{}, fmt.Errorf("stage event files: %w", err)
		}

		staged, err := s.Worktree.Repo.HasStagedChanges(ctx)
		if err != nil {
			return PushResult{}, err
		}
		if !staged {
			return PushResult{Pushed: false, Committed: false}, nil
		}

		state = pushCommitted
		commit, err := s.Worktree.Repo.Commit(ctx, message)
		if err != nil {
			return PushResult{}, fmt.Errorf("commit: %w", err)
		}
		lastCommit = commit

		if time.Now().After(deadline) {
			budgetOut = true
			break
		}

		outcome, err := s.Worktree.Repo.PushBranch(ctx, s.remote(), s.Worktree.Branch, nil)
		if err != nil {
			return PushResult{}, err
		}

		switch outcome {
		case gitadapter.PushAccepted:
			state = pushPushed
			logger.Debug("push accepted", "commit", commit, "attempt", attempt)
			return PushResult{Pushed: true, Committed: true, Commit: commit}, nil

		case gitadapter.PushNonFastForward:
			state = pushRejected
			lastNonFF = true
			logger.Debug("push rejected non-fast-forward, retrying", "attempt", attempt, "state", state.String())
			continue

		case gitadapter.PushTransient:
			state = pushRejected
			lastNonFF = false
			delay := backoffDelay(attempt, 100*time.Millisecond, 2*time.Second)
			logger.Debug("push transient failure, backing off", "attempt", attempt, "delay", delay)
			sleepWithinBudget(ctx, delay, deadline)
			continue

		default:
			state = pushFailed
			return PushResult{}, fmt.Errorf("push failed in unexpected state %s", state)
		}
	}

	// Attempts used up by non-fast-forward rejections escalate; a spent
	// budget or trailing transient failures leave the local commit queued.
	if lastCommit != "" && (budgetOut || !lastNonFF) {
		return PushResult{Queued: true, Commit: lastCommit, Reason: "budget exhausted with local commit pending"}, nil
	}
	return PushResult{}, knotserr.ErrMergeConflictEscalation
}

func (s *Service) remote() string {
	if s.Cfg.Remote == "" {
		return "origin"
	}
	return s.Cfg.Remote
}

// copyWithCollisionPolicy writes f into the worktree unless the
// destination already exists with different bytes, per spec.md §4.5.1
// step 2c: identical bytes are a silent no-op (idempotent retry), absent
// is a create, and differing bytes is always an abort — an event file
// collision indicates an ID collision or a bug and must never be papered
// over by overwriting.
func (s *Service) copyWithCollisionPolicy(f worktree.EventFile) (conflict bool, err error) {
	fullPath := filepath.Join(s.Worktree.Path, f.RelPath)
	existing, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, s.Worktree.WriteAtomic(f.RelPath, f.Bytes)
		}
		return false, err
	}
	if bytes.Equal(existing, f.Bytes) {
		return false, nil
	}
	return true, nil
}

// AcquireRepoLock acquires the repo_lock with the configured blocking
// timeout, returning a Guard the caller must Close.
func (s *Service) AcquireRepoLock(ctx context.Context) (*lockmgr.Guard, error) {
	timeout := time.Duration(s.Cfg.LockTimeoutSeconds) * time.Second
	return lockmgr.Acquire(ctx, s.RepoLockPath, timeout)
}

// AcquireCacheLock acquires the cache_lock with the configured blocking
// timeout, returning a Guard the caller must Close. Callers must never
// hold cache_lock while acquiring repo_lock (spec.md §5 lock ordering).
func (s *Service) AcquireCacheLock(ctx context.Context) (*lockmgr.Guard, error) {
	timeout := time.Duration(s.Cfg.LockTimeoutSeconds) * time.Second
	return lockmgr.Acquire(ctx, s.CacheLockPath, timeout)
}
