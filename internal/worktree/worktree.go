// Package worktree manages the dedicated `knots` worktree and produces
// event file payloads with sortable, collision-free IDs, written
// atomically (spec.md §4.4). Path construction uses
// github.com/cyphar/filepath-securejoin the way guard/guard.go uses it to
// safely join untrusted path segments (here, knot IDs and date components
// sourced from event payloads) onto a trusted root.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"go.knotsvc.dev/knots/internal/gitadapter"
	"go.knotsvc.dev/knots/internal/knotserr"
)

// EventID is a sortable, globally unique event identifier (UUIDv7, string
// form). Filename = event ID, so lexicographic sort == chronological sort
// (spec.md §3.2).
type EventID string

// NewEventID mints a fresh UUIDv7 event ID.
func NewEventID() EventID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system's random source is broken;
		// there is no sane way to proceed without unique event IDs.
		panic(fmt.Sprintf("worktree: generating event id: %v", err))
	}
	return EventID(id.String())
}

// EventFile is an in-memory payload ready to be written atomically to the
// worktree.
type EventFile struct {
	RelPath string
	Bytes   []byte
}

// EventPath returns the date-partitioned relative path for an event file,
// per spec.md §6.1: .knots/<kind>/YYYY/MM/DD/<event_id>-<suffix>.json
func EventPath(kind string, ts time.Time, eventID EventID, suffix string) (string, error) {
	utc := ts.UTC()
	dir := fmt.Sprintf(".knots/%s/%04d/%02d/%02d", kind, utc.Year(), utc.Month(), utc.Day())
	name := fmt.Sprintf("%s-%s.json", eventID, suffix)
	return securejoin.SecureJoin(dir, name)
}

// Manager owns the dedicated worktree directory and writes event files
// into it.
type Manager struct {
	Path   string
	Branch string
	Repo   *gitadapter.Repo
}

// New returns a Manager rooted at worktreePath, checked out on branch.
func New(worktreePath, branch string) *Manager {
	return &Manager{
		Path:   worktreePath,
		Branch: branch,
		Repo:   gitadapter.Open(worktreePath),
	}
}

// EnsureExists creates the worktree (checked out on Branch) if it does not
// already exist.
func (m *Manager) EnsureExists(ctx context.Context, mainRepoPath string) error {
	return m.Repo.EnsureWorktree(ctx, mainRepoPath, m.Branch)
}

// EnsureClean verifies the worktree has no staged or unstaged changes,
// returning knotserr.ErrDirtyWorktree otherwise. Callers must not
// auto-clean (spec.md §4.4, §7).
func (m *Manager) EnsureClean(ctx context.Context) error {
	clean, err := m.Repo.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return knotserr.ErrDirtyWorktree
	}
	return nil
}

// WriteAtomic writes bytes to relPath (relative to the worktree root)
// using the tmp-fsync-rename idiom: a partial write never becomes visible
// under the final name, so a crash mid-write never corrupts an event file.
// A relPath that is absolute or climbs out of the worktree root is
// rejected rather than written.
func (m *Manager) WriteAtomic(relPath string, bytes []byte) error {
	if !filepath.IsLocal(relPath) {
		return fmt.Errorf("event path %q escapes the worktree root", relPath)
	}
	fullPath, err := securejoin.SecureJoin(m.Path, relPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(bytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, fullPath, err)
	}
	return nil
}

// WriteFiles writes every EventFile atomically, stopping at the first
// error (the caller is expected to have already resolved collisions via
// the replication service's copy-with-collision-policy before this is
// invoked with final paths).
func (m *Manager) WriteFiles(files []EventFile) error {
	for _, f := range files {
		if err := m.WriteAtomic(f.RelPath, f.Bytes); err != nil {
			return err
		}
	}
	return nil
}
