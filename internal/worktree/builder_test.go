package worktree

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.knotsvc.dev/knots/internal/events"
)

func TestBuildFullProducesIndependentEventID(t *testing.T) {
	ts := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	fullID, fullFile, err := BuildFull("K-1", ts, events.TypeTitleSet, events.TitleSetData{Title: "fix foo"}, nil)
	require.NoError(t, err)

	idxID, idxFile, err := BuildIndex("K-1", ts, events.Head{Title: strPtr("fix foo"), UpdatedAt: ts.Format(time.RFC3339)}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, fullID, idxID, "full and index events mint independent IDs even when paired")

	var full events.Full
	require.NoError(t, json.Unmarshal(fullFile.Bytes, &full))
	assert.Equal(t, "K-1", full.KnotID)
	assert.Equal(t, events.TypeTitleSet, full.Type)

	var idx events.Index
	require.NoError(t, json.Unmarshal(idxFile.Bytes, &idx))
	assert.Equal(t, "K-1", idx.KnotID)
	assert.Equal(t, events.TypeIndexKnotHead, idx.Type)
	require.NotNil(t, idx.Head.Title)
	assert.Equal(t, "fix foo", *idx.Head.Title)
}

func TestBuildFullEmbedsPrecondition(t *testing.T) {
	ts := time.Now().UTC()
	_, file, err := BuildFull("K-1", ts, events.TypeStateSet, events.StateSetData{State: "implementing"}, &events.Precondition{WorkflowETag: "etag-1"})
	require.NoError(t, err)

	var full events.Full
	require.NoError(t, json.Unmarshal(file.Bytes, &full))
	require.NotNil(t, full.Precondition)
	assert.Equal(t, "etag-1", full.Precondition.WorkflowETag)
}

func strPtr(s string) *string { return &s }
