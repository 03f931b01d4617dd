package gitadapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// initTestRepo creates a minimal git repository with one commit and
// returns its Repo wrapper, mirroring how knotserver's own git tests spin
// up a throwaway repository under t.TempDir().
func initTestRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-q", "-m", "initial")

	return Open(dir)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestIsCleanAndAddPaths(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	clean, err := repo.IsClean(ctx)
	require.NoError(t, err)
	require.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Path, "notes.txt"), []byte("x"), 0o644))

	clean, err = repo.IsClean(ctx)
	require.NoError(t, err)
	require.False(t, clean)

	require.NoError(t, repo.AddPaths(ctx, []string{"notes.txt"}))
	staged, err := repo.HasStagedChanges(ctx)
	require.NoError(t, err)
	require.True(t, staged)

	commit, err := repo.Commit(ctx, "add notes")
	require.NoError(t, err)
	require.NotEmpty(t, commit)

	clean, err = repo.IsClean(ctx)
	require.NoError(t, err)
	require.True(t, clean)
}

func TestDiffNameStatus(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	first, err := repo.RevParse(ctx, "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Path, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, repo.AddPaths(ctx, []string{"a.json"}))
	second, err := repo.Commit(ctx, "add a.json")
	require.NoError(t, err)

	diffs, err := repo.DiffNameStatus(ctx, first, second, "")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, byte('A'), diffs[0].Status)
	require.Equal(t, "a.json", diffs[0].Path)
}

func TestShowFileAndListTree(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(repo.Path, ".knots/events"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Path, ".knots/events/e1.json"), []byte(`{"v":1}`), 0o644))
	require.NoError(t, repo.AddPaths(ctx, []string{".knots/events"}))
	commit, err := repo.Commit(ctx, "add event")
	require.NoError(t, err)

	body, err := repo.ShowFile(ctx, commit, ".knots/events/e1.json")
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(body))

	paths, err := repo.ListTree(ctx, commit, ".knots/events")
	require.NoError(t, err)
	require.Equal(t, []string{".knots/events/e1.json"}, paths)
}

func TestDiffNameStatusFromEmptyTreeBaseline(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	diffs, err := repo.DiffNameStatus(ctx, EmptyTreeHash, "HEAD", "")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "README.md", diffs[0].Path)
}

func TestPushBranchClassifiesMissingRemote(t *testing.T) {
	repo := initTestRepo(t)
	ctx := context.Background()

	outcome, err := repo.PushBranch(ctx, "nonexistent-remote", "main", nil)
	require.Error(t, err)
	require.Equal(t, PushFatal, outcome)
}
