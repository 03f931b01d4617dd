package cachestore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.knotsvc.dev/knots/internal/model"
)

// Get returns the materialized projection of knot id at whatever tier it
// currently lives in. A warm result carries only ID/Title/State/UpdatedAt/
// WorkflowETag/Tier; the caller (the replication/service layer) is
// responsible for triggering rehydration via Rehydrate if a full body is
// required (spec.md §4.2, §10).
func (s *Store) Get(ctx context.Context, id string) (*model.Knot, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	k, err := s.getHot(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	if k != nil {
		return k, nil
	}

	k, err = s.getWarm(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	if k != nil {
		return k, nil
	}

	return s.getCold(ctx, conn, id)
}

func (s *Store) getHot(ctx context.Context, conn *sql.Conn, id string) (*model.Knot, error) {
	var k model.Knot
	var createdAt, updatedAt string
	var etag sql.NullString
	row := conn.QueryRowContext(ctx, `
		select id, title, description, priority, type, state, profile_id, workflow_etag, created_at, updated_at
		from knot_hot where id = ?
	`, id)
	err := row.Scan(&k.ID, &k.Title, &k.Description, &k.Priority, &k.Type, &k.State, &k.ProfileID, &etag, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.WorkflowETag = etag.String
	k.Tier = model.TierHot
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if k.Tags, err = s.loadTags(ctx, conn, id); err != nil {
		return nil, err
	}
	if k.Notes, err = s.loadEntries(ctx, conn, "note", id); err != nil {
		return nil, err
	}
	if k.Handoffs, err = s.loadEntries(ctx, conn, "handoff_capsule", id); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) getWarm(ctx context.Context, conn *sql.Conn, id string) (*model.Knot, error) {
	var k model.Knot
	var etag sql.NullString
	var updatedAt string
	row := conn.QueryRowContext(ctx, `select id, title, state, updated_at, workflow_etag from knot_warm where id = ?`, id)
	err := row.Scan(&k.ID, &k.Title, &k.State, &updatedAt, &etag)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.WorkflowETag = etag.String
	k.Tier = model.TierWarm
	k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &k, nil
}

func (s *Store) getCold(ctx context.Context, conn *sql.Conn, id string) (*model.Knot, error) {
	var k model.Knot
	var updatedAt string
	row := conn.QueryRowContext(ctx, `select id, title, state, updated_at from cold_catalog where id = ?`, id)
	err := row.Scan(&k.ID, &k.Title, &k.State, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.Tier = model.TierCold
	k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &k, nil
}

func (s *Store) loadTags(ctx context.Context, conn *sql.Conn, knotID string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `select tag from tag where knot_id = ? order by tag`, knotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) loadEntries(ctx context.Context, conn *sql.Conn, table, knotID string) ([]model.Entry, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		select ord, text, username, datetime, agent_name, model, version from %s
		where knot_id = ? order by ord
	`, table), knotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var dt string
		var agentName, modelName, version sql.NullString
		if err := rows.Scan(&e.Ord, &e.Text, &e.Username, &dt, &agentName, &modelName, &version); err != nil {
			return nil, err
		}
		e.DateTime, _ = time.Parse(time.RFC3339, dt)
		e.AgentName = agentName.String
		e.Model = modelName.String
		e.Version = version.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns every knot matching lf across all three tiers (spec.md
// §4.2, §4.3, SPEC_FULL.md §6.2): full rows from knot_hot, headline-only
// rows from knot_warm, and (only when lf.IncludeTerminal is set)
// headline-only rows from cold_catalog, merged and ordered by
// updated_at descending. A Type/ProfileID filter only ever matches
// knot_hot, since warm/cold rows don't materialize those columns.
func (s *Store) List(ctx context.Context, lf ListFilter) ([]model.Knot, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	hot, err := s.listHot(ctx, conn, lf)
	if err != nil {
		return nil, err
	}
	out := hot

	// A Type/ProfileID filter can never match a warm/cold headline row
	// (neither table materializes those columns), so skip both tiers
	// entirely rather than query them only to discard every result.
	if lf.Type == "" && lf.ProfileID == "" {
		warm, err := s.listWarm(ctx, conn, lf)
		if err != nil {
			return nil, err
		}
		out = append(out, warm...)

		if lf.IncludeTerminal {
			cold, err := s.listCold(ctx, conn, lf)
			if err != nil {
				return nil, err
			}
			out = append(out, cold...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	for i := range out {
		tags, err := s.loadTags(ctx, conn, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

func (s *Store) listHot(ctx context.Context, conn *sql.Conn, lf ListFilter) ([]model.Knot, error) {
	f := lf.buildFor("knot_hot")
	query := fmt.Sprintf(`
		select id, title, description, priority, type, state, profile_id, workflow_etag, created_at, updated_at
		from knot_hot where %s order by updated_at desc
	`, f.SQL())

	rows, err := conn.QueryContext(ctx, query, f.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Knot
	for rows.Next() {
		var k model.Knot
		var createdAt, updatedAt string
		var etag sql.NullString
		if err := rows.Scan(&k.ID, &k.Title, &k.Description, &k.Priority, &k.Type, &k.State, &k.ProfileID, &etag, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		k.WorkflowETag = etag.String
		k.Tier = model.TierHot
		k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) listWarm(ctx context.Context, conn *sql.Conn, lf ListFilter) ([]model.Knot, error) {
	f := lf.buildFor("knot_warm")
	query := fmt.Sprintf(`
		select id, title, state, updated_at, workflow_etag from knot_warm where %s order by updated_at desc
	`, f.SQL())

	rows, err := conn.QueryContext(ctx, query, f.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Knot
	for rows.Next() {
		var k model.Knot
		var updatedAt string
		var etag sql.NullString
		if err := rows.Scan(&k.ID, &k.Title, &k.State, &updatedAt, &etag); err != nil {
			return nil, err
		}
		k.WorkflowETag = etag.String
		k.Tier = model.TierWarm
		k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) listCold(ctx context.Context, conn *sql.Conn, lf ListFilter) ([]model.Knot, error) {
	f := lf.buildFor("cold_catalog")
	query := fmt.Sprintf(`
		select id, title, state, updated_at from cold_catalog where %s order by updated_at desc
	`, f.SQL())

	rows, err := conn.QueryContext(ctx, query, f.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Knot
	for rows.Next() {
		var k model.Knot
		var updatedAt string
		if err := rows.Scan(&k.ID, &k.Title, &k.State, &updatedAt); err != nil {
			return nil, err
		}
		k.Tier = model.TierCold
		k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetWorkflowETag returns the current workflow ETag for id across
// whichever tier it lives in, used by the service layer's optimistic
// concurrency check before minting a workflow-relevant event (spec.md
// §3.7, §4.5.5). The empty string with ok=false means the knot is not
// known to the cache at all (cold-sync may still find it).
func (s *Store) GetWorkflowETag(ctx context.Context, id string) (etag string, ok bool, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()

	var ns sql.NullString
	row := conn.QueryRowContext(ctx, `select workflow_etag from knot_hot where id = ?`, id)
	if err := row.Scan(&ns); err == nil {
		return ns.String, true, nil
	} else if err != sql.ErrNoRows {
		return "", false, err
	}

	row = conn.QueryRowContext(ctx, `select workflow_etag from knot_warm where id = ?`, id)
	if err := row.Scan(&ns); err == nil {
		return ns.String, true, nil
	} else if err != sql.ErrNoRows {
		return "", false, err
	}

	var exists bool
	if err := conn.QueryRowContext(ctx, `select exists (select 1 from cold_catalog where id = ?)`, id).Scan(&exists); err != nil {
		return "", false, err
	}
	return "", exists, nil
}

// DemoteAndEvict moves every hot knot whose updated_at has fallen outside
// the hot window into warm, and every terminal knot in hot or warm into
// cold_catalog. It is the sweep counterpart to the promotion that happens
// inline during reduceIndex; call it periodically (e.g. once per sync
// cycle) since a knot's own age can cross the hot window's boundary
// without any new event ever arriving for it (spec.md §3.6).
func (s *Store) DemoteAndEvict(ctx context.Context) (demoted, evicted int, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	cutoff := now.Add(-s.hotWindow).Format(time.RFC3339)

	rows, err := tx.QueryContext(ctx, `
		select id, title, state, updated_at, workflow_etag from knot_hot
		where terminal = 1 or updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	type row struct {
		id, title, state, updatedAt string
		etag                        sql.NullString
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.title, &r.state, &r.updatedAt, &r.etag); err != nil {
			rows.Close()
			return 0, 0, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, err
	}
	rows.Close()

	for _, r := range candidates {
		if model.IsTerminal(r.state) {
			if _, err := tx.ExecContext(ctx, `
				insert into cold_catalog (id, title, state, updated_at) values (?, ?, ?, ?)
				on conflict (id) do update set title = excluded.title, state = excluded.state, updated_at = excluded.updated_at
			`, r.id, r.title, r.state, r.updatedAt); err != nil {
				return 0, 0, err
			}
			if _, err := tx.ExecContext(ctx, `delete from knot_hot where id = ?`, r.id); err != nil {
				return 0, 0, err
			}
			evicted++
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			insert into knot_warm (id, title, state, updated_at, workflow_etag, terminal) values (?, ?, ?, ?, ?, 0)
			on conflict (id) do update set title = excluded.title, state = excluded.state, updated_at = excluded.updated_at, workflow_etag = excluded.workflow_etag
		`, r.id, r.title, r.state, r.updatedAt, r.etag); err != nil {
			return 0, 0, err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_hot where id = ?`, r.id); err != nil {
			return 0, 0, err
		}
		demoted++
	}

	return demoted, evicted, tx.Commit()
}
