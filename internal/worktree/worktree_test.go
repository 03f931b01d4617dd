package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDIsSortable(t *testing.T) {
	a := NewEventID()
	time.Sleep(time.Millisecond)
	b := NewEventID()
	assert.Less(t, string(a), string(b), "later-minted UUIDv7 IDs must sort after earlier ones")
}

func TestEventPathDatePartitioning(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := EventID("0190e1c0-0000-7000-8000-000000000001")

	path, err := EventPath("events", ts, id, "knot.title_set")
	require.NoError(t, err)
	assert.Equal(t, ".knots/events/2026/07/30/0190e1c0-0000-7000-8000-000000000001-knot.title_set.json", path)
}

func TestWriteAtomicCreatesFileAndCleansUpTmp(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "knots")

	err := m.WriteAtomic(".knots/index/2026/07/30/evt-idx.knot_head.json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(dir, ".knots/index/2026/07/30/evt-idx.knot_head.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	entries, err := os.ReadDir(filepath.Join(dir, ".knots/index/2026/07/30"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, isTmpFile(e.Name()), "no leftover tmp file should remain: %s", e.Name())
	}
}

func isTmpFile(name string) bool {
	return len(name) > 5 && name[:5] == ".tmp-"
}

func TestWriteFilesStopsAtFirstError(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, "knots")

	files := []EventFile{
		{RelPath: ".knots/events/2026/07/30/a-knot.created.json", Bytes: []byte("a")},
		{RelPath: "../escape.json", Bytes: []byte("b")},
	}
	err := m.WriteFiles(files)
	assert.Error(t, err, "a path escaping the worktree root must be rejected")

	_, err = os.Stat(filepath.Join(dir, ".knots/events/2026/07/30/a-knot.created.json"))
	assert.NoError(t, err, "the first file should still have been written before the second failed")
}

func TestIsWorkflowRelevant(t *testing.T) {
	assert.True(t, IsWorkflowRelevant("title"))
	assert.True(t, IsWorkflowRelevant("description", "state"))
	assert.False(t, IsWorkflowRelevant("description"))
	assert.False(t, IsWorkflowRelevant())
}
