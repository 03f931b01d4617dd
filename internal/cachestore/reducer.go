package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.knotsvc.dev/knots/internal/events"
	"go.knotsvc.dev/knots/internal/gitadapter"
	"go.knotsvc.dev/knots/internal/model"
)

// ApplyEventsUpTo brings the cache up to date with targetCommit on repo's
// knots branch: it diffs .knots/index and .knots/events separately against
// the last watermark commits recorded in meta, applies every new event in
// event-ID order, and advances both watermarks atomically with the batch
// (spec.md §4.3 "Updates to last_index_head_commit and
// last_full_head_commit happen atomically with the batch").
//
// Re-running ApplyEventsUpTo with the same targetCommit is a no-op: the
// diff against an already-advanced watermark is empty.
func (s *Store) ApplyEventsUpTo(ctx context.Context, repo *gitadapter.Repo, targetCommit string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	lastIndexHead, ok, err := s.getMetaConn(ctx, conn, "last_index_head_commit")
	if err != nil {
		return err
	}
	if !ok {
		lastIndexHead = gitadapter.EmptyTreeHash
	}
	lastFullHead, ok, err := s.getMetaConn(ctx, conn, "last_full_head_commit")
	if err != nil {
		return err
	}
	if !ok {
		lastFullHead = gitadapter.EmptyTreeHash
	}

	indexDiffs, err := repo.DiffNameStatus(ctx, lastIndexHead, targetCommit, ".knots/index")
	if err != nil {
		return fmt.Errorf("diff index stream: %w", err)
	}
	fullDiffs, err := repo.DiffNameStatus(ctx, lastFullHead, targetCommit, ".knots/events")
	if err != nil {
		return fmt.Errorf("diff events stream: %w", err)
	}
	sortByPath(indexDiffs)
	sortByPath(fullDiffs)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range indexDiffs {
		if d.Status == 'D' {
			continue // event files are append-only; a deletion in the diff is not expected
		}
		raw, err := repo.ShowFile(ctx, targetCommit, d.Path)
		if err != nil {
			return fmt.Errorf("read %s at %s: %w", d.Path, targetCommit, err)
		}
		var ev events.Index
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("unmarshal index event %s: %w", d.Path, err)
		}
		if err := s.reduceIndex(ctx, tx, ev); err != nil {
			return fmt.Errorf("apply index event %s: %w", d.Path, err)
		}
	}

	for _, d := range fullDiffs {
		if d.Status == 'D' {
			continue
		}
		raw, err := repo.ShowFile(ctx, targetCommit, d.Path)
		if err != nil {
			return fmt.Errorf("read %s at %s: %w", d.Path, targetCommit, err)
		}
		var ev events.Full
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("unmarshal full event %s: %w", d.Path, err)
		}
		if err := s.reduceFull(ctx, tx, ev); err != nil {
			return fmt.Errorf("apply full event %s: %w", d.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		insert into meta (key, value) values ('last_index_head_commit', ?)
		on conflict (key) do update set value = excluded.value
	`, targetCommit); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into meta (key, value) values ('last_full_head_commit', ?)
		on conflict (key) do update set value = excluded.value
	`, targetCommit); err != nil {
		return err
	}

	return tx.Commit()
}

func sortByPath(diffs []gitadapter.NameStatus) {
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
}

// knotLocation is what reduceIndex needs to know about a knot's current
// cache row before applying a new headline delta.
type knotLocation struct {
	found        bool
	tier         model.Tier
	title        string
	state        string
	workflowETag string
}

func (s *Store) lookupKnot(ctx context.Context, tx *sql.Tx, knotID string) (knotLocation, error) {
	var loc knotLocation
	row := tx.QueryRowContext(ctx, `select title, state, workflow_etag from knot_hot where id = ?`, knotID)
	var etag sql.NullString
	if err := row.Scan(&loc.title, &loc.state, &etag); err == nil {
		loc.found = true
		loc.tier = model.TierHot
		loc.workflowETag = etag.String
		return loc, nil
	} else if err != sql.ErrNoRows {
		return loc, err
	}

	row = tx.QueryRowContext(ctx, `select title, state, workflow_etag from knot_warm where id = ?`, knotID)
	if err := row.Scan(&loc.title, &loc.state, &etag); err == nil {
		loc.found = true
		loc.tier = model.TierWarm
		loc.workflowETag = etag.String
		return loc, nil
	} else if err != sql.ErrNoRows {
		return loc, err
	}

	row = tx.QueryRowContext(ctx, `select title, state from cold_catalog where id = ?`, knotID)
	if err := row.Scan(&loc.title, &loc.state); err == nil {
		loc.found = true
		loc.tier = model.TierCold
		return loc, nil
	} else if err != sql.ErrNoRows {
		return loc, err
	}

	return loc, nil
}

// reduceIndex applies one idx.knot_head event, per spec.md §4.3 step 1:
// upsert the headline, compute terminality, classify hot/warm/cold, and
// (always, since an index event is by definition workflow-relevant)
// advance workflow_etag to this event's ID.
func (s *Store) reduceIndex(ctx context.Context, tx *sql.Tx, ev events.Index) error {
	loc, err := s.lookupKnot(ctx, tx, ev.KnotID)
	if err != nil {
		return err
	}

	if ev.Precondition != nil && loc.found && loc.workflowETag != "" && ev.Precondition.WorkflowETag != loc.workflowETag {
		// Stale write replayed after a newer one already landed; discard
		// per spec.md §4.5.5 defense-in-depth.
		return nil
	}

	title := loc.title
	if ev.Head.Title != nil {
		title = *ev.Head.Title
	}
	state := loc.state
	if ev.Head.State != nil {
		state = *ev.Head.State
	}
	terminal := model.IsTerminal(state)
	if ev.Head.Terminal != nil {
		terminal = *ev.Head.Terminal
	}

	updatedAt, err := time.Parse(time.RFC3339, ev.Head.UpdatedAt)
	if err != nil {
		updatedAt = time.Now().UTC()
	}

	if terminal {
		if _, err := tx.ExecContext(ctx, `
			insert into cold_catalog (id, title, state, updated_at) values (?, ?, ?, ?)
			on conflict (id) do update set title = excluded.title, state = excluded.state, updated_at = excluded.updated_at
		`, ev.KnotID, title, state, ev.Head.UpdatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_hot where id = ?`, ev.KnotID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_warm where id = ?`, ev.KnotID); err != nil {
			return err
		}
		return nil
	}

	tier := s.nowTier(state, updatedAt, time.Now().UTC())

	if tier == model.TierHot {
		if _, err := tx.ExecContext(ctx, `
			insert into knot_hot (id, title, state, updated_at, workflow_etag, terminal)
			values (?, ?, ?, ?, ?, 0)
			on conflict (id) do update set
				title = excluded.title,
				state = excluded.state,
				updated_at = excluded.updated_at,
				workflow_etag = excluded.workflow_etag,
				terminal = 0
		`, ev.KnotID, title, state, ev.Head.UpdatedAt, ev.EventID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_warm where id = ?`, ev.KnotID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from cold_catalog where id = ?`, ev.KnotID); err != nil {
			return err
		}
		return nil
	}

	// Warm: headline only. Demoting out of hot drops the materialized
	// body (notes/edges/etc. stay in their tables, orphaned, until the
	// knot is promoted back to hot and rehydrated from the event log).
	if _, err := tx.ExecContext(ctx, `
		insert into knot_warm (id, title, state, updated_at, workflow_etag, terminal)
		values (?, ?, ?, ?, ?, 0)
		on conflict (id) do update set
			title = excluded.title,
			state = excluded.state,
			updated_at = excluded.updated_at,
			workflow_etag = excluded.workflow_etag,
			terminal = 0
	`, ev.KnotID, title, state, ev.Head.UpdatedAt, ev.EventID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from knot_hot where id = ?`, ev.KnotID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from cold_catalog where id = ?`, ev.KnotID); err != nil {
		return err
	}
	return nil
}

// reduceFull applies one full-body event, per spec.md §4.3 step 2: only
// for knots currently hot. A full event for a warm or cold knot is
// dropped; the body is rebuilt from the event log on the next rehydration
// (Rehydrate's promotion back to hot), not by replaying history out of
// order here.
func (s *Store) reduceFull(ctx context.Context, tx *sql.Tx, ev events.Full) error {
	var isHot bool
	if err := tx.QueryRowContext(ctx, `select exists (select 1 from knot_hot where id = ?)`, ev.KnotID).Scan(&isHot); err != nil {
		return err
	}
	if !isHot {
		return nil
	}

	switch ev.Type {
	case events.TypeKnotCreated:
		var d events.CreatedData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			update knot_hot set description = ?, priority = ?, type = ?, profile_id = ?, created_at = ?
			where id = ?
		`, d.Description, d.Priority, d.Type, d.ProfileID, ev.TS, ev.KnotID)
		return err

	case events.TypeTitleSet:
		var d events.TitleSetData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `update knot_hot set title = ? where id = ?`, d.Title, ev.KnotID)
		return err

	case events.TypeDescriptionSet:
		var d events.DescriptionSetData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `update knot_hot set description = ? where id = ?`, d.Description, ev.KnotID)
		return err

	case events.TypeStateSet:
		var d events.StateSetData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		terminal := 0
		if model.IsTerminal(d.State) {
			terminal = 1
		}
		_, err := tx.ExecContext(ctx, `update knot_hot set state = ?, terminal = ? where id = ?`, d.State, terminal, ev.KnotID)
		return err

	case events.TypePrioritySet:
		var d events.PrioritySetData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `update knot_hot set priority = ? where id = ?`, d.Priority, ev.KnotID)
		return err

	case events.TypeTypeSet:
		var d events.TypeSetData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `update knot_hot set type = ? where id = ?`, d.Type, ev.KnotID)
		return err

	case events.TypeTagAdd:
		var d events.TagData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `insert into tag (knot_id, tag) values (?, ?) on conflict (knot_id, tag) do nothing`, ev.KnotID, d.Tag)
		return err

	case events.TypeTagRemove:
		var d events.TagData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `delete from tag where knot_id = ? and tag = ?`, ev.KnotID, d.Tag)
		return err

	case events.TypeNoteAdded:
		var d events.NoteAddedData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		return s.insertEntry(ctx, tx, "note", "last_note_ord", ev.EventID, ev.KnotID, d)

	case events.TypeHandoffAdded:
		var d events.HandoffAddedData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		return s.insertEntry(ctx, tx, "handoff_capsule", "last_handoff_ord", ev.EventID, ev.KnotID, d)

	case events.TypeEdgeAdd:
		var d events.EdgeData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		return applyEdge(ctx, tx, ev.KnotID, model.EdgeKind(d.Kind), d.Dst, true)

	case events.TypeEdgeRemove:
		var d events.EdgeData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		return applyEdge(ctx, tx, ev.KnotID, model.EdgeKind(d.Kind), d.Dst, false)

	case events.TypeReviewDecision:
		var d events.ReviewDecisionData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return err
		}
		return applyReviewDecision(ctx, tx, ev.KnotID, ev.EventID, d)

	default:
		return nil
	}
}

// insertEntry inserts one note or handoff_capsule row, keyed on the
// event's own ID so a replayed event is a harmless no-op (on conflict do
// nothing), and assigns the next ordinal from a small per-knot counter
// table rather than count(*) so a replay never reuses an ordinal already
// handed out.
func (s *Store) insertEntry(ctx context.Context, tx *sql.Tx, table, ordTable, eventID, knotID string, d events.NoteAddedData) error {
	var nextOrd int
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`select next_ord from %s where knot_id = ?`, ordTable), knotID)
	if err := row.Scan(&nextOrd); err == sql.ErrNoRows {
		nextOrd = 0
	} else if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (id, knot_id, ord, text, username, datetime, agent_name, model, version)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do nothing
	`, table), eventID, knotID, nextOrd, d.Text, d.Username, d.DateTime, d.AgentName, d.Model, d.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil // already applied
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (knot_id, next_ord) values (?, ?)
		on conflict (knot_id) do update set next_ord = excluded.next_ord
	`, ordTable), knotID, nextOrd+1)
	return err
}

func applyEdge(ctx context.Context, tx *sql.Tx, src string, kind model.EdgeKind, dst string, add bool) error {
	if add {
		if _, err := tx.ExecContext(ctx, `insert into edge (src, kind, dst) values (?, ?, ?) on conflict (src, kind, dst) do nothing`, src, string(kind), dst); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `delete from edge where src = ? and kind = ? and dst = ?`, src, string(kind), dst); err != nil {
			return err
		}
	}
	mirror, ok := kind.Mirror()
	if !ok {
		return nil
	}
	if add {
		_, err := tx.ExecContext(ctx, `insert into edge (src, kind, dst) values (?, ?, ?) on conflict (src, kind, dst) do nothing`, dst, string(mirror), src)
		return err
	}
	_, err := tx.ExecContext(ctx, `delete from edge where src = ? and kind = ? and dst = ?`, dst, string(mirror), src)
	return err
}

// applyReviewDecision updates rework/outcome history, guarded by
// last_event_id so a replayed review.decision event never double-counts
// rework_count.
func applyReviewDecision(ctx context.Context, tx *sql.Tx, knotID, eventID string, d events.ReviewDecisionData) error {
	var lastEventID sql.NullString
	err := tx.QueryRowContext(ctx, `select last_event_id from review_stats where id = ?`, knotID).Scan(&lastEventID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if lastEventID.String == eventID {
		return nil // already applied
	}

	reworkDelta := 0
	if d.Outcome == "reject" {
		reworkDelta = 1
	}

	_, err = tx.ExecContext(ctx, `
		insert into review_stats (id, rework_count, last_decision_at, last_outcome, last_reject_categories, last_event_id)
		values (?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			rework_count = rework_count + ?,
			last_decision_at = excluded.last_decision_at,
			last_outcome = excluded.last_outcome,
			last_reject_categories = excluded.last_reject_categories,
			last_event_id = excluded.last_event_id
	`, knotID, reworkDelta, d.DecidedAt, d.Outcome, strings.Join(d.RejectCategories, ","), eventID, reworkDelta)
	return err
}
