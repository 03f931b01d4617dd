package knotserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaleWorkflowHeadErrorMessage(t *testing.T) {
	err := &StaleWorkflowHeadError{Expected: "abc", Current: "def"}
	assert.Equal(t, "stale workflow head: expected abc, current def", err.Error())
}

func TestGitPushErrorMessage(t *testing.T) {
	err := &GitPushError{Message: "! [rejected] knots -> knots (non-fast-forward)"}
	assert.Contains(t, err.Error(), "non-fast-forward")
}

func TestGitFatalErrorMessage(t *testing.T) {
	err := &GitFatalError{Message: "git binary not found"}
	assert.Equal(t, "git: git binary not found", err.Error())
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrDirtyWorktree,
		ErrFileConflict,
		ErrMergeConflictEscalation,
		ErrLockTimeout,
		ErrNotInitialized,
		ErrCacheMigrationFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %v must not match %v", a, b)
		}
	}
}
