package replication

import (
	"context"
	"errors"
	"time"

	"go.knotsvc.dev/knots/internal/knotserr"
	"go.knotsvc.dev/knots/internal/lockmgr"
	knotslog "go.knotsvc.dev/knots/log"
)

// SyncResult reports what Sync actually did.
type SyncResult struct {
	Push PushResult
	Pull string // resulting commit, empty if pull was skipped
}

// Sync enforces the strict push-then-pull ordering of spec.md §4.5.3: push
// (with an empty file set if there is nothing local pending, purely to
// flush a previously Queued commit) runs first; if it escalates to
// MergeConflictEscalation, Sync aborts without pulling so a caller sees
// the escalation rather than a pull that silently papers over it.
func (s *Service) Sync(ctx context.Context, budget time.Duration) (SyncResult, error) {
	repoGuard, err := s.AcquireRepoLock(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	defer repoGuard.Close()

	pushResult, err := s.Push(ctx, nil, "sync: flush pending commits", budget)
	if err != nil {
		if errors.Is(err, knotserr.ErrMergeConflictEscalation) {
			return SyncResult{Push: pushResult}, err
		}
		return SyncResult{}, err
	}

	commit, err := s.Pull(ctx)
	if err != nil {
		return SyncResult{Push: pushResult}, err
	}
	return SyncResult{Push: pushResult, Pull: commit}, nil
}

// AutoSyncOnRead implements spec.md §4.5.6: try-acquire repo_lock with
// zero wait; if held by another client, skip syncing and let the caller
// serve cached results while marking sync_pending. If acquired, run the
// fetch/apply/demote sequence within auto_budget_ms, committing whatever
// partial progress completed even if the budget overruns mid-step.
func (s *Service) AutoSyncOnRead(ctx context.Context) error {
	guard, ok, err := lockmgr.TryAcquire(s.RepoLockPath)
	if err != nil {
		return err
	}
	if !ok {
		return s.Cache.SetMeta(ctx, "sync_pending", "true")
	}
	defer guard.Close()

	budget := time.Duration(s.Cfg.Sync.AutoBudgetMS) * time.Millisecond
	autoCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	logger := knotslog.SubLogger(knotslog.FromContext(ctx), "replication")
	if _, err := s.Pull(autoCtx); err != nil {
		logger.Debug("auto-sync overran or failed, serving cached results", "error", err)
		return s.Cache.SetMeta(ctx, "sync_pending", "true")
	}
	return s.Cache.SetMeta(ctx, "sync_pending", "false")
}
