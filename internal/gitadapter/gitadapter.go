// Package gitadapter wraps a child `git` process the way
// knotserver/git/cmd.go wraps it for tangled.sh: mutations shell out to the
// git binary inside a fixed worktree directory, while read-only structured
// access layers go-git on top. See spec.md §4.1.
package gitadapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"go.knotsvc.dev/knots/internal/knotserr"
)

// Repo is a thin wrapper around a worktree directory; every operation
// runs `git` with cmd.Dir set to Path.
type Repo struct {
	Path string
}

// Open returns a Repo rooted at path. It does not validate that path
// contains a git worktree; callers that need that should call IsClean or
// RevParse and handle the resulting error.
func Open(path string) *Repo {
	return &Repo{Path: path}
}

func (r *Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &knotserr.GitFatalError{Message: "git binary not found"}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("git %s: %w, stderr: %s", args[0], err, stderr.String())
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// EnsureWorktree creates the dedicated worktree at Path checked out on
// branch if it does not already exist. If branch exists neither locally
// nor as origin/<branch>, an empty orphan branch is created (the
// first-push bootstrap path, spec.md §4.5.1 step 2a / §8.3).
func (r *Repo) EnsureWorktree(ctx context.Context, mainRepoPath, branch string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return &knotserr.GitFatalError{Message: "git binary not found"}
	}

	addCmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", r.Path)
	addCmd.Dir = mainRepoPath
	var stderr bytes.Buffer
	addCmd.Stderr = &stderr
	if err := addCmd.Run(); err != nil {
		// worktree may already exist; that's not fatal, fall through to
		// the checkout/orphan-create attempt below.
		if !strings.Contains(stderr.String(), "already exists") {
			return fmt.Errorf("git worktree add: %w, stderr: %s", err, stderr.String())
		}
	}

	if _, err := r.run(ctx, "rev-parse", "--verify", branch); err == nil {
		_, err := r.run(ctx, "checkout", branch)
		return err
	}
	if _, err := r.run(ctx, "rev-parse", "--verify", "origin/"+branch); err == nil {
		_, err := r.run(ctx, "checkout", "-B", branch, "origin/"+branch)
		return err
	}

	if _, err := r.run(ctx, "checkout", "--orphan", branch); err != nil {
		return err
	}
	// An orphan checkout keeps the start commit's files staged; clear them
	// so the new branch starts empty and the worktree is clean.
	_, err := r.run(ctx, "rm", "-r", "-f", "-q", "--ignore-unmatch", ".")
	return err
}

// Fetch runs `git fetch remote branch extraArgs...` and returns its error,
// which includes the case where the branch does not exist on the remote
// yet. Push and PushIfMatch treat a failed fetch as that bootstrap case and
// stay on local HEAD; Pull returns the error.
func (r *Repo) Fetch(ctx context.Context, remote, branch string, extraArgs []string) error {
	args := append([]string{"fetch", remote, branch}, extraArgs...)
	_, err := r.run(ctx, args...)
	return err
}

// RevParse resolves ref to a commit hash.
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := r.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ResetHard resets the worktree to commit.
func (r *Repo) ResetHard(ctx context.Context, commit string) error {
	_, err := r.run(ctx, "reset", "--hard", commit)
	return err
}

// IsClean reports whether the worktree has no staged or unstaged changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

// AddPaths force-stages paths, bypassing any .gitignore entry that would
// otherwise hide event files (spec.md §4.1).
func (r *Repo) AddPaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-f", "--"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

// HasStagedChanges reports whether anything is currently staged.
func (r *Repo) HasStagedChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = r.Path
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached --quiet: %w", err)
}

// Commit commits staged changes with message and returns the new commit
// hash.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.RevParse(ctx, "HEAD")
}

// PushOutcome classifies the result of a push attempt, per spec.md §4.1
// "distinguishes non-fast-forward rejection, transient failures, and
// fatal failures by pattern-matching the child process's stderr."
type PushOutcome int

const (
	PushAccepted PushOutcome = iota
	PushNonFastForward
	PushTransient
	PushFatal
)

func (o PushOutcome) String() string {
	switch o {
	case PushAccepted:
		return "accepted"
	case PushNonFastForward:
		return "non-fast-forward"
	case PushTransient:
		return "transient"
	default:
		return "fatal"
	}
}

var nonFastForwardMarkers = []string{
	"non-fast-forward",
	"fetch first",
	"rejected",
	"stale info",
}

var transientMarkers = []string{
	"could not resolve host",
	"connection timed out",
	"connection refused",
	"early eof",
	"the remote end hung up unexpectedly",
	"temporary failure",
	"network is unreachable",
}

// classifyPushStderr pattern-matches a push failure's stderr into one of
// the three non-success outcomes (spec.md §4.1, §4.6).
func classifyPushStderr(stderr string) PushOutcome {
	lower := strings.ToLower(stderr)
	for _, m := range nonFastForwardMarkers {
		if strings.Contains(lower, m) {
			return PushNonFastForward
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return PushTransient
		}
	}
	return PushFatal
}

// PushBranch pushes branch to remote. On failure it classifies the
// rejection via classifyPushStderr; on success it returns PushAccepted and
// a nil error.
func (r *Repo) PushBranch(ctx context.Context, remote, branch string, extraArgs []string) (PushOutcome, error) {
	args := append([]string{"push", remote, branch}, extraArgs...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return PushAccepted, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return PushFatal, &knotserr.GitFatalError{Message: "git binary not found"}
	}

	outcome := classifyPushStderr(stderr.String())
	switch outcome {
	case PushNonFastForward, PushTransient:
		return outcome, nil
	default:
		return PushFatal, &knotserr.GitPushError{Message: stderr.String()}
	}
}

// NameStatus is one line of `git diff --name-status` output.
type NameStatus struct {
	Status byte
	Path   string
}

// DiffNameStatus enumerates the name-status diff between two commits,
// restricted to pathFilter (e.g. ".knots/index"). Used by the reducer to
// discover new event files without a full tree walk (spec.md §4.1, §4.3).
func (r *Repo) DiffNameStatus(ctx context.Context, oldCommit, newCommit, pathFilter string) ([]NameStatus, error) {
	args := []string{"diff", "--name-status", oldCommit, newCommit}
	if pathFilter != "" {
		args = append(args, "--", pathFilter)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	results := make([]NameStatus, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || len(parts[0]) == 0 {
			continue
		}
		results = append(results, NameStatus{Status: parts[0][0], Path: parts[1]})
	}
	return results, nil
}

// ListTree lists every file path under pathPrefix as it exists in commit,
// used by cachestore's Rehydrate to enumerate a knot's full event history
// without needing a separate by-knot-id index (spec.md §10).
func (r *Repo) ListTree(ctx context.Context, commit, pathPrefix string) ([]string, error) {
	out, err := r.run(ctx, "ls-tree", "-r", "--name-only", commit, "--", pathPrefix)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	paths := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			paths = append(paths, l)
		}
	}
	return paths, nil
}

// ShowFile returns the contents of path as it exists in commit, without
// requiring the worktree to currently be checked out at commit.
func (r *Repo) ShowFile(ctx context.Context, commit, path string) ([]byte, error) {
	return r.run(ctx, "show", commit+":"+path)
}

// EmptyTreeHash is git's well-known hash of the empty tree, used as the
// "before" side of a diff when no prior watermark commit exists yet.
const EmptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// PlainOpenCommit resolves ref to a go-git commit object for in-process
// inspection, mirroring knotserver/git.GitRepo's go-git-backed read path.
func (r *Repo) PlainOpenCommit(ref string) (*git.Repository, plumbing.Hash, error) {
	repo, err := git.PlainOpen(r.Path)
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("opening %s: %w", r.Path, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("resolving rev %s: %w", ref, err)
	}
	return repo, *hash, nil
}
