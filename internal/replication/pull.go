package replication

import (
	"context"
	"fmt"
)

// Pull fetches the remote knots branch, fast-forwards the worktree, and
// applies every new event up to the resulting commit, then runs
// DemoteAndEvict, per spec.md §4.5.2. Pull creates the worktree first if
// it does not exist yet, and acquires cache_lock for the apply step only,
// not for the fetch/reset, matching the write command pattern's lock
// scoping in spec.md §4.5.4.
func (s *Service) Pull(ctx context.Context) (commit string, err error) {
	if err := s.Worktree.EnsureExists(ctx, s.MainRepoPath); err != nil {
		return "", fmt.Errorf("ensure worktree: %w", err)
	}
	if err := s.Worktree.Repo.Fetch(ctx, s.remote(), s.Worktree.Branch, s.Cfg.Sync.FetchArgs); err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	remoteHead, err := s.Worktree.Repo.RevParse(ctx, s.remote()+"/"+s.Worktree.Branch)
	if err != nil {
		// Remote branch doesn't exist yet; nothing to pull.
		return s.Worktree.Repo.RevParse(ctx, "HEAD")
	}
	if err := s.Worktree.Repo.ResetHard(ctx, remoteHead); err != nil {
		return "", fmt.Errorf("fast-forward to remote head: %w", err)
	}

	cacheGuard, err := s.AcquireCacheLock(ctx)
	if err != nil {
		return "", err
	}
	defer cacheGuard.Close()

	if err := s.Cache.ApplyEventsUpTo(ctx, s.Worktree.Repo, remoteHead); err != nil {
		return "", fmt.Errorf("apply events: %w", err)
	}
	if _, _, err := s.Cache.DemoteAndEvict(ctx); err != nil {
		return "", fmt.Errorf("demote/evict: %w", err)
	}
	if err := s.Cache.SetMeta(ctx, "sync_pending", "false"); err != nil {
		return "", err
	}

	return remoteHead, nil
}
