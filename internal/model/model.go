// Package model defines the domain entity Knots projects into its cache:
// the Knot itself, its notes and handoff capsules, and the edges between
// knots. See spec.md §3.
package model

import "time"

// Tier classifies where a knot currently lives in the cache: fully
// materialized (Hot), headline-only (Warm), or demoted out of both
// (Cold, only present in cold_catalog after an explicit cold-sync).
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// EdgeKind is one of the three directed relation types between knots.
type EdgeKind string

const (
	EdgeBlocks    EdgeKind = "blocks"
	EdgeBlockedBy EdgeKind = "blocked_by"
	EdgeParentOf  EdgeKind = "parent_of"
)

// Mirror returns the symmetric edge kind that must always co-exist with
// this one in the projection (spec.md §3.4). parent_of has no mirror.
func (k EdgeKind) Mirror() (EdgeKind, bool) {
	switch k {
	case EdgeBlocks:
		return EdgeBlockedBy, true
	case EdgeBlockedBy:
		return EdgeBlocks, true
	default:
		return "", false
	}
}

// TerminalStates is the set of workflow states that demote a knot into
// cold-only storage, per spec.md §3.6.
var TerminalStates = map[string]bool{
	"shipped":   true,
	"deferred":  true,
	"abandoned": true,
}

// IsTerminal reports whether state is one of the terminal states.
func IsTerminal(state string) bool {
	return TerminalStates[state]
}

// Edge is a directed, typed relation between two knots. The tuple
// (Src, Kind, Dst) is unique.
type Edge struct {
	Src  string
	Kind EdgeKind
	Dst  string
}

// Entry is the common shape shared by notes and handoff capsules: free
// text attributed to a user, optionally authored by an agent.
type Entry struct {
	Ord       int
	Text      string
	Username  string
	DateTime  time.Time
	AgentName string
	Model     string
	Version   string
}

// ReviewStats tracks rework/outcome history for a knot's review decisions.
type ReviewStats struct {
	KnotID               string
	ReworkCount          int
	LastDecisionAt       time.Time
	LastOutcome          string
	LastRejectCategories []string
}

// Knot is the domain entity a client sees: the materialized projection of
// every event ever applied to a particular knot ID.
type Knot struct {
	ID          string
	Title       string
	Description string
	Priority    int
	Type        string
	State       string
	Tags        []string
	Notes       []Entry
	Handoffs    []Entry
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProfileID   string

	// WorkflowETag is the event ID of the most recent workflow-relevant
	// idx.knot_head applied for this knot (spec.md §3.7). Empty if the
	// knot has never received a workflow-relevant event (should not
	// happen once created, since knot.created is always workflow-relevant).
	WorkflowETag string

	// Tier records where this projection was read from; Warm knots carry
	// only the headline: ID, Title, State, UpdatedAt and WorkflowETag.
	Tier Tier
}

// Terminal reports whether the knot's current state is one of the
// terminal states (spec.md §3.1 "terminal flag (derived from status)").
func (k Knot) Terminal() bool {
	return IsTerminal(k.State)
}
