// Command knots is the thin entry point wiring the replication + cache
// core together, grounded on cmd/knot/main.go's urfave/cli/v3 + tlog
// wiring shape (teacher). Argument parsing and the full CLI surface are
// out of scope (spec.md §1 Non-goals); this exists only so the core is
// reachable and runnable, per SPEC_FULL.md §1.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"go.knotsvc.dev/knots/internal/cachestore"
	"go.knotsvc.dev/knots/internal/config"
	"go.knotsvc.dev/knots/internal/gitadapter"
	"go.knotsvc.dev/knots/internal/lockmgr"
	"go.knotsvc.dev/knots/internal/replication"
	"go.knotsvc.dev/knots/internal/worktree"
	knotslog "go.knotsvc.dev/knots/log"
)

const (
	defaultLockTimeout = 30 * time.Second
	defaultSyncBudget  = 800 * time.Millisecond
)

func main() {
	cmd := &cli.Command{
		Name:  "knots",
		Usage: "local-first, git-backed work-item tracker",
		Commands: []*cli.Command{
			initCommand(),
			syncCommand(),
			statusCommand(),
			coldSyncCommand(),
		},
	}

	logger := knotslog.New("knots")
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = knotslog.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// repoPaths derives the fixed local-state layout from spec.md §6.2 off of
// the current working directory's .git root.
type repoPaths struct {
	mainRepo      string
	worktreePath  string
	cacheDBPath   string
	repoLockPath  string
	cacheLockPath string
}

func derivePaths(mainRepo string) repoPaths {
	gitDir := filepath.Join(mainRepo, ".git")
	cacheDir := filepath.Join(mainRepo, ".knots", "cache")
	return repoPaths{
		mainRepo:      mainRepo,
		worktreePath:  filepath.Join(mainRepo, ".knots", "_worktree"),
		cacheDBPath:   filepath.Join(cacheDir, "state.sqlite"),
		repoLockPath:  filepath.Join(gitDir, "knots.lock"),
		cacheLockPath: filepath.Join(cacheDir, "cache.lock"),
	}
}

func initService(ctx context.Context) (*replication.Service, *cachestore.Store, repoPaths, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, repoPaths{}, err
	}
	paths := derivePaths(cwd)

	if err := os.MkdirAll(filepath.Dir(paths.cacheDBPath), 0o755); err != nil {
		return nil, nil, paths, err
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, paths, err
	}
	if err := config.LoadYAMLOverlay(cfg, filepath.Join(cwd, "knots.yml")); err != nil {
		return nil, nil, paths, err
	}

	store, err := cachestore.Open(ctx, paths.cacheDBPath, cfg.HotWindowDays)
	if err != nil {
		return nil, nil, paths, err
	}

	wt := worktree.New(paths.worktreePath, cfg.Branch)
	svc := replication.New(wt, store, cfg, paths.mainRepo, paths.repoLockPath, paths.cacheLockPath)
	return svc, store, paths, nil
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create the dedicated knots worktree and cache database",
		Action: func(ctx context.Context, _ *cli.Command) error {
			svc, store, paths, err := initService(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			guard, err := lockmgr.Acquire(ctx, paths.repoLockPath, defaultLockTimeout)
			if err != nil {
				return err
			}
			defer guard.Close()

			if err := svc.Worktree.EnsureExists(ctx, paths.mainRepo); err != nil {
				return fmt.Errorf("ensure worktree: %w", err)
			}
			fmt.Fprintf(os.Stdout, "knots worktree ready at %s\n", paths.worktreePath)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "push any pending local commits, then pull and apply remote history",
		Action: func(ctx context.Context, _ *cli.Command) error {
			svc, store, _, err := initService(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			budget := defaultSyncBudget
			result, err := svc.Sync(ctx, budget)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "push: pushed=%v queued=%v commit=%s\npull: %s\n",
				result.Push.Pushed, result.Push.Queued, result.Push.Commit, result.Pull)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "report worktree cleanliness and sync_pending",
		Action: func(ctx context.Context, _ *cli.Command) error {
			svc, store, _, err := initService(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			repo := gitadapter.Open(svc.Worktree.Path)
			clean, err := repo.IsClean(ctx)
			if err != nil {
				return err
			}
			pending, _, err := store.GetMeta(ctx, "sync_pending")
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "worktree clean: %v\nsync pending: %s\n", clean, pending)

			// In-process read of the branch head, mirroring knotserver's
			// go-git-backed read path rather than shelling out to `git log`.
			if gitRepo, hash, err := repo.PlainOpenCommit("HEAD"); err == nil {
				if commitObj, err := gitRepo.CommitObject(hash); err == nil {
					fmt.Fprintf(os.Stdout, "head: %s %q\n", hash.String()[:12], commitObj.Message)
				}
			}
			return nil
		},
	}
}

func coldSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "cold-sync",
		Usage: "catalog every terminal knot reached since the last cold-sync into cold_catalog",
		Action: func(ctx context.Context, _ *cli.Command) error {
			svc, store, _, err := initService(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			repo := gitadapter.Open(svc.Worktree.Path)
			head, err := repo.RevParse(ctx, "HEAD")
			if err != nil {
				return fmt.Errorf("resolve worktree head: %w", err)
			}

			added, err := store.ColdSync(ctx, repo, head)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cold-sync: %d knot(s) cataloged at %s\n", added, head[:12])
			return nil
		},
	}
}
