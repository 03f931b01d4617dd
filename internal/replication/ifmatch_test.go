package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.knotsvc.dev/knots/internal/events"
	"go.knotsvc.dev/knots/internal/knotserr"
	"go.knotsvc.dev/knots/internal/worktree"
)

func createKnot(t *testing.T, svc *Service, knotID, title, state string) PushResult {
	t.Helper()
	ctx := context.Background()
	ts := time.Now().UTC()

	_, idxFile, err := worktree.BuildIndex(knotID, ts, events.Head{
		Title: &title, State: strPtr(state), UpdatedAt: ts.Format(time.RFC3339),
	}, nil)
	require.NoError(t, err)
	_, fullFile, err := worktree.BuildFull(knotID, ts, events.TypeKnotCreated, events.CreatedData{
		Title: title, State: state,
	}, nil)
	require.NoError(t, err)

	result, err := svc.Push(ctx, []worktree.EventFile{idxFile, fullFile}, "create "+knotID, time.Second)
	require.NoError(t, err)
	require.True(t, result.Pushed)
	return result
}

func TestPushIfMatchSucceedsWithCurrentETag(t *testing.T) {
	bare := newBareRemote(t)
	svc, store := newClient(t, bare)
	ctx := context.Background()

	createKnot(t, svc, "K-10", "fix foo", "ready_for_planning")
	require.NoError(t, store.ApplyEventsUpTo(ctx, svc.Worktree.Repo, mustRevParse(t, svc)))

	etag, ok, err := store.GetWorkflowETag(ctx, "K-10")
	require.NoError(t, err)
	require.True(t, ok)

	build := func(precondition *events.Precondition) ([]worktree.EventFile, error) {
		ts := time.Now().UTC()
		newState := "implementing"
		_, idxFile, err := worktree.BuildIndex("K-10", ts, events.Head{
			State: &newState, UpdatedAt: ts.Format(time.RFC3339),
		}, precondition)
		return []worktree.EventFile{idxFile}, err
	}

	result, err := svc.PushIfMatch(ctx, "K-10", etag, build, "advance K-10", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Pushed)

	k, err := store.Get(ctx, "K-10")
	require.NoError(t, err)
	assert.Equal(t, "implementing", k.State)
}

func TestPushIfMatchRejectsStaleETag(t *testing.T) {
	bare := newBareRemote(t)
	svc, store := newClient(t, bare)
	ctx := context.Background()

	createKnot(t, svc, "K-11", "fix bar", "ready_for_planning")
	require.NoError(t, store.ApplyEventsUpTo(ctx, svc.Worktree.Repo, mustRevParse(t, svc)))

	build := func(precondition *events.Precondition) ([]worktree.EventFile, error) {
		t.Fatal("build must not be called when the ETag is stale")
		return nil, nil
	}

	_, err := svc.PushIfMatch(ctx, "K-11", "not-the-real-etag", build, "stale write", time.Second)
	require.Error(t, err)
	var staleErr *knotserr.StaleWorkflowHeadError
	assert.ErrorAs(t, err, &staleErr)
}

func mustRevParse(t *testing.T, svc *Service) string {
	t.Helper()
	commit, err := svc.Worktree.Repo.RevParse(context.Background(), "HEAD")
	require.NoError(t, err)
	return commit
}
