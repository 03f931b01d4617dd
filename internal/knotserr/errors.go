// Package knotserr defines the error taxonomy the replication and cache
// core surfaces to callers, per the contract in spec.md §6.5.
package knotserr

import (
	"errors"
	"fmt"
)

var (
	// ErrDirtyWorktree means the dedicated worktree had uncommitted
	// changes when a clean state was required; callers must not
	// auto-clean, only surface the error.
	ErrDirtyWorktree = errors.New("worktree has uncommitted changes")

	// ErrFileConflict means an event file destination already existed
	// with different bytes than the one being written. This indicates an
	// event ID collision or corruption, never a normal retry case.
	ErrFileConflict = errors.New("event file exists with different contents")

	// ErrMergeConflictEscalation means a push exhausted its attempt
	// budget against repeated non-fast-forward rejections.
	ErrMergeConflictEscalation = errors.New("push retries exhausted")

	// ErrLockTimeout means a blocking lock acquisition did not succeed
	// within its timeout.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrNotInitialized means the knots worktree/cache has not been set
	// up for this repository yet.
	ErrNotInitialized = errors.New("knots repository not initialized")

	// ErrCacheMigrationFailed means the schema migration ladder failed to
	// bring the cache up to the expected schema_version.
	ErrCacheMigrationFailed = errors.New("cache schema migration failed")
)

// StaleWorkflowHeadError is returned when an If-Match write's expected
// workflow ETag does not match the cache's current value for the knot.
type StaleWorkflowHeadError struct {
	Expected string
	Current  string
}

func (e *StaleWorkflowHeadError) Error() string {
	return fmt.Sprintf("stale workflow head: expected %s, current %s", e.Expected, e.Current)
}

// GitPushError wraps a fatal (non-retryable) push failure, carrying the
// child git process's stderr.
type GitPushError struct {
	Message string
}

func (e *GitPushError) Error() string {
	return fmt.Sprintf("git push failed: %s", e.Message)
}

// GitFatalError wraps an unrecoverable git adapter failure: a missing git
// binary, permission denial, or an unparseable fatal condition.
type GitFatalError struct {
	Message string
}

func (e *GitFatalError) Error() string {
	return fmt.Sprintf("git: %s", e.Message)
}
