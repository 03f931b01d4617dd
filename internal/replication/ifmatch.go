package replication

import (
	"context"
	"fmt"
	"time"

	"go.knotsvc.dev/knots/internal/events"
	"go.knotsvc.dev/knots/internal/knotserr"
	"go.knotsvc.dev/knots/internal/worktree"
)

// BuildFunc constructs the event files for an If-Match write once the
// caller knows which workflow ETag precondition to embed.
type BuildFunc func(precondition *events.Precondition) ([]worktree.EventFile, error)

// PushIfMatch implements the If-Match variant from spec.md §4.5.5: bring
// the cache up to the remote head under repo_lock, compare the knot's
// current workflow ETag against expectedETag, and only then build and
// push the caller's events with that ETag embedded as a precondition. No
// event is built, let alone pushed, if the ETag has already moved.
func (s *Service) PushIfMatch(ctx context.Context, knotID, expectedETag string, build BuildFunc, message string, budget time.Duration) (PushResult, error) {
	repoGuard, err := s.AcquireRepoLock(ctx)
	if err != nil {
		return PushResult{}, err
	}

	if err := s.Worktree.EnsureExists(ctx, s.MainRepoPath); err != nil {
		repoGuard.Close()
		return PushResult{}, fmt.Errorf("ensure worktree: %w", err)
	}

	head, err := s.ffToRemote(ctx)
	if err != nil {
		repoGuard.Close()
		return PushResult{}, err
	}

	if err := s.applyUpTo(ctx, head); err != nil {
		repoGuard.Close()
		return PushResult{}, err
	}

	currentETag, _, err := s.Cache.GetWorkflowETag(ctx, knotID)
	if err != nil {
		repoGuard.Close()
		return PushResult{}, err
	}
	if currentETag != expectedETag {
		repoGuard.Close()
		return PushResult{}, &knotserr.StaleWorkflowHeadError{Expected: expectedETag, Current: currentETag}
	}

	precondition := &events.Precondition{WorkflowETag: expectedETag}
	files, err := build(precondition)
	if err != nil {
		repoGuard.Close()
		return PushResult{}, err
	}

	result, err := s.Push(ctx, files, message, budget)
	repoGuard.Close()
	if err != nil {
		return PushResult{}, err
	}

	localHead, err := s.Worktree.Repo.RevParse(ctx, "HEAD")
	if err != nil {
		return result, err
	}
	if err := s.applyUpTo(ctx, localHead); err != nil {
		return result, err
	}
	return result, nil
}

// ffToRemote fetches and fast-forwards the worktree to the remote head,
// falling back to local HEAD on first-push bootstrap (no remote branch
// yet, so the fetch fails), returning the resulting commit.
func (s *Service) ffToRemote(ctx context.Context) (string, error) {
	if err := s.Worktree.Repo.Fetch(ctx, s.remote(), s.Worktree.Branch, s.Cfg.Sync.FetchArgs); err == nil {
		if remoteHead, err := s.Worktree.Repo.RevParse(ctx, s.remote()+"/"+s.Worktree.Branch); err == nil {
			if err := s.Worktree.Repo.ResetHard(ctx, remoteHead); err != nil {
				return "", fmt.Errorf("fast-forward to remote head: %w", err)
			}
			return remoteHead, nil
		}
	}
	return s.Worktree.Repo.RevParse(ctx, "HEAD")
}

func (s *Service) applyUpTo(ctx context.Context, commit string) error {
	cacheGuard, err := s.AcquireCacheLock(ctx)
	if err != nil {
		return err
	}
	defer cacheGuard.Close()
	return s.Cache.ApplyEventsUpTo(ctx, s.Worktree.Repo, commit)
}
