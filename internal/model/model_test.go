package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeKindMirror(t *testing.T) {
	mirror, ok := EdgeBlocks.Mirror()
	assert.True(t, ok)
	assert.Equal(t, EdgeBlockedBy, mirror)

	mirror, ok = EdgeBlockedBy.Mirror()
	assert.True(t, ok)
	assert.Equal(t, EdgeBlocks, mirror)

	_, ok = EdgeParentOf.Mirror()
	assert.False(t, ok, "parent_of has no mirror kind")
}

func TestIsTerminal(t *testing.T) {
	for _, state := range []string{"shipped", "deferred", "abandoned"} {
		assert.True(t, IsTerminal(state), "%s should be terminal", state)
	}
	for _, state := range []string{"ready_for_planning", "implementing", "in_review", ""} {
		assert.False(t, IsTerminal(state), "%s should not be terminal", state)
	}
}

func TestKnotTerminal(t *testing.T) {
	k := Knot{State: "shipped"}
	assert.True(t, k.Terminal())

	k.State = "implementing"
	assert.False(t, k.Terminal())
}
