// Package events defines the on-disk JSON envelopes written to the knots
// git branch (spec.md §6.3) and the event type vocabulary (spec.md §3.3).
package events

import "encoding/json"

// Type is one of the fixed event type strings recognized by the reducer.
type Type string

const (
	TypeKnotCreated    Type = "knot.created"
	TypeTitleSet       Type = "knot.title_set"
	TypeDescriptionSet Type = "knot.description_set"
	TypeStateSet       Type = "knot.state_set"
	TypePrioritySet    Type = "knot.priority_set"
	TypeTypeSet        Type = "knot.type_set"
	TypeTagAdd         Type = "knot.tag_add"
	TypeTagRemove      Type = "knot.tag_remove"
	TypeNoteAdded      Type = "knot.note_added"
	TypeHandoffAdded   Type = "knot.handoff_added"
	TypeEdgeAdd        Type = "knot.edge_add"
	TypeEdgeRemove     Type = "knot.edge_remove"
	TypeReviewDecision Type = "knot.review_decision"
	TypeIndexKnotHead  Type = "idx.knot_head"
)

// WorkflowRelevantFields is the default set of fields whose change must
// accompany an idx.knot_head event in the same commit (spec.md §3.7). The
// split between workflow-relevant and activity-only fields is
// implementation-defined beyond this default (spec.md §9 Open Question);
// expressing it as data rather than an inline conditional lets a future
// profile/workflow catalog extend it without touching the event writer.
var WorkflowRelevantFields = map[string]bool{
	"title": true,
	"state": true,
	"edges": true,
	"tags":  true, // routing tags, per spec.md §3.7 "routing-relevant"
}

// Precondition embeds an expected workflow ETag in a write; the reducer
// MAY discard events whose embedded precondition does not match the
// currently stored ETag, as defense in depth alongside the service-layer
// check (spec.md §4.5.5).
type Precondition struct {
	WorkflowETag string `json:"workflow_etag"`
}

// Full is the complete-payload event written to
// .knots/events/YYYY/MM/DD/<event_id>-<type>.json
type Full struct {
	EventID      string          `json:"event_id"`
	Type         Type            `json:"type"`
	TS           string          `json:"ts"`
	KnotID       string          `json:"knot_id"`
	Precondition *Precondition   `json:"precondition,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// Head is the payload carried by an idx.knot_head index event.
type Head struct {
	Title     *string `json:"title,omitempty"`
	State     *string `json:"state,omitempty"`
	UpdatedAt string  `json:"updated_at"`
	Terminal  *bool   `json:"terminal,omitempty"`
}

// Index is the small headline-delta event written to
// .knots/index/YYYY/MM/DD/<event_id>-idx.knot_head.json
type Index struct {
	EventID      string        `json:"event_id"`
	Type         Type          `json:"type"`
	TS           string        `json:"ts"`
	KnotID       string        `json:"knot_id"`
	Head         Head          `json:"head"`
	Precondition *Precondition `json:"precondition,omitempty"`
}

// Data payloads for each full event type, marshaled into Full.Data.

type CreatedData struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	ProfileID   string `json:"profile_id,omitempty"`
	State       string `json:"state"`
}

type TitleSetData struct {
	Title string `json:"title"`
}

type DescriptionSetData struct {
	Description string `json:"description"`
}

type StateSetData struct {
	State string `json:"state"`
}

type PrioritySetData struct {
	Priority int `json:"priority"`
}

type TypeSetData struct {
	Type string `json:"type"`
}

type TagData struct {
	Tag string `json:"tag"`
}

type NoteAddedData struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	DateTime  string `json:"datetime"`
	AgentName string `json:"agent_name,omitempty"`
	Model     string `json:"model,omitempty"`
	Version   string `json:"version,omitempty"`
}

// HandoffAddedData shares NoteAddedData's shape, per spec.md §3.1 "handoff
// capsules (same shape as notes)".
type HandoffAddedData = NoteAddedData

type EdgeData struct {
	Kind string `json:"kind"`
	Dst  string `json:"dst"`
}

type ReviewDecisionData struct {
	Outcome          string   `json:"outcome"`
	RejectCategories []string `json:"reject_categories,omitempty"`
	DecidedAt        string   `json:"decided_at"`
}
