package worktree

import (
	"encoding/json"
	"fmt"
	"time"

	"go.knotsvc.dev/knots/internal/events"
)

// BuildFull constructs the full event envelope and its event file for a
// mutation, per spec.md §3.2/§6.3. The caller supplies the already
// JSON-marshalable data payload (one of the events.*Data types).
func BuildFull(knotID string, ts time.Time, evType events.Type, data any, precondition *events.Precondition) (EventID, EventFile, error) {
	id := NewEventID()

	raw, err := json.Marshal(data)
	if err != nil {
		return "", EventFile{}, fmt.Errorf("marshal event data: %w", err)
	}

	full := events.Full{
		EventID:      string(id),
		Type:         evType,
		TS:           ts.UTC().Format(time.RFC3339),
		KnotID:       knotID,
		Precondition: precondition,
		Data:         raw,
	}

	body, err := json.Marshal(full)
	if err != nil {
		return "", EventFile{}, fmt.Errorf("marshal full event: %w", err)
	}

	relPath, err := EventPath("events", ts, id, string(evType))
	if err != nil {
		return "", EventFile{}, err
	}

	return id, EventFile{RelPath: relPath, Bytes: body}, nil
}

// BuildIndex constructs the idx.knot_head event file that must accompany
// any full event changing a workflow-relevant field (spec.md §3.2, §3.7).
// It always mints its own fresh ID, independent of the paired full
// event's, matching spec.md §6.3's independent event_id per file.
func BuildIndex(knotID string, ts time.Time, head events.Head, precondition *events.Precondition) (EventID, EventFile, error) {
	id := NewEventID()

	idx := events.Index{
		EventID:      string(id),
		Type:         events.TypeIndexKnotHead,
		TS:           ts.UTC().Format(time.RFC3339),
		KnotID:       knotID,
		Head:         head,
		Precondition: precondition,
	}

	body, err := json.Marshal(idx)
	if err != nil {
		return "", EventFile{}, fmt.Errorf("marshal index event: %w", err)
	}

	relPath, err := EventPath("index", ts, id, "idx.knot_head")
	if err != nil {
		return "", EventFile{}, err
	}

	return id, EventFile{RelPath: relPath, Bytes: body}, nil
}

// IsWorkflowRelevant reports whether any of the changed field names in
// fields requires a same-commit idx.knot_head event (spec.md §3.7).
func IsWorkflowRelevant(fields ...string) bool {
	for _, f := range fields {
		if events.WorkflowRelevantFields[f] {
			return true
		}
	}
	return false
}
