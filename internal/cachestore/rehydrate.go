package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.knotsvc.dev/knots/internal/events"
	"go.knotsvc.dev/knots/internal/gitadapter"
	"go.knotsvc.dev/knots/internal/model"
)

// Rehydrate promotes knot id back to hot by replaying its full event
// history from the knots branch at commit, bypassing the "full events only
// apply to already-hot knots" rule in reduceFull (spec.md §10, the
// supplemented on-demand rehydration path for a warm knot a client asks to
// open in full). Event file bodies are memoized per (commit, path) in the
// Store's ristretto cache so repeated rehydration of a stable history
// doesn't re-read and re-parse every blob each time, mirroring
// knotserver/git.go's per-path commit cache.
func (s *Store) Rehydrate(ctx context.Context, repo *gitadapter.Repo, commit, knotID string) error {
	paths, err := repo.ListTree(ctx, commit, ".knots/events")
	if err != nil {
		return fmt.Errorf("list event tree: %w", err)
	}
	sort.Strings(paths)

	var matched []events.Full
	for _, p := range paths {
		// Event paths don't carry knot_id, so every file is read (once per
		// commit, via the memo) and matched on its envelope's knot_id.
		ev, err := s.showFullEventMemoized(ctx, repo, commit, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if ev.KnotID == knotID {
			matched = append(matched, ev)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EventID < matched[j].EventID })

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Force the knot hot so reduceFull's "currently hot" guard accepts the
	// replay: a warm knot keeps its headline fields, any other knot with no
	// hot row gets placeholders; a subsequent index event, if any is
	// pending, will correct the headline fields as usual.
	if _, err := tx.ExecContext(ctx, `
		insert into knot_hot (id, title, state, updated_at, workflow_etag, terminal)
		select id, title, state, updated_at, workflow_etag, 0 from knot_warm where id = ?
		on conflict (id) do nothing
	`, knotID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into knot_hot (id, title, state, updated_at, workflow_etag, terminal)
		values (?, '', '', '', null, 0)
		on conflict (id) do nothing
	`, knotID); err != nil {
		return err
	}

	for _, ev := range matched {
		if err := s.reduceFull(ctx, tx, ev); err != nil {
			return fmt.Errorf("replay %s: %w", ev.EventID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from knot_warm where id = ?`, knotID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from cold_catalog where id = ?`, knotID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) showFullEventMemoized(ctx context.Context, repo *gitadapter.Repo, commit, path string) (events.Full, error) {
	key := commit + ":" + path
	if v, ok := s.memo.Get(key); ok {
		return v.(events.Full), nil
	}

	raw, err := repo.ShowFile(ctx, commit, path)
	if err != nil {
		return events.Full{}, err
	}
	var ev events.Full
	if err := json.Unmarshal(raw, &ev); err != nil {
		return events.Full{}, err
	}
	s.memo.Set(key, ev, int64(len(raw)))
	return ev, nil
}

// ColdSync ensures every knot that has ever reached a terminal state has a
// row in cold_catalog, even one whose last headline update landed directly
// in hot/warm without going through reduceIndex's own terminal branch
// (spec.md §10 "cold-sync rehydration into cold_catalog"). It is
// incremental: the index-stream commit it last ran at is recorded in
// meta["last_cold_sync_commit"], and each call only diffs new index events
// since that watermark rather than re-walking the whole tree, the same
// watermark-and-diff shape ApplyEventsUpTo uses for last_index_head_commit.
func (s *Store) ColdSync(ctx context.Context, repo *gitadapter.Repo, commit string) (added int, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	lastColdSync, ok, err := s.getMetaConn(ctx, conn, "last_cold_sync_commit")
	if err != nil {
		return 0, err
	}
	if !ok {
		lastColdSync = gitadapter.EmptyTreeHash
	}

	diffs, err := repo.DiffNameStatus(ctx, lastColdSync, commit, ".knots/index")
	if err != nil {
		return 0, fmt.Errorf("diff index stream: %w", err)
	}

	latestHead := map[string]events.Head{}
	for _, d := range diffs {
		if d.Status == 'D' {
			continue // event files are append-only
		}
		raw, err := repo.ShowFile(ctx, commit, d.Path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", d.Path, err)
		}
		var ev events.Index
		if err := json.Unmarshal(raw, &ev); err != nil {
			return 0, fmt.Errorf("unmarshal %s: %w", d.Path, err)
		}
		state := ""
		if ev.Head.State != nil {
			state = *ev.Head.State
		}
		terminal := model.IsTerminal(state)
		if ev.Head.Terminal != nil {
			terminal = *ev.Head.Terminal
		}
		if !terminal {
			continue // ColdSync only catalogs terminal heads; non-terminal knots are tracked by hot/warm
		}
		prev, ok := latestHead[ev.KnotID]
		if !ok || ev.Head.UpdatedAt > prev.UpdatedAt {
			latestHead[ev.KnotID] = ev.Head
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for knotID, head := range latestHead {
		title := ""
		if head.Title != nil {
			title = *head.Title
		}
		state := ""
		if head.State != nil {
			state = *head.State
		}
		if _, err := tx.ExecContext(ctx, `
			insert into cold_catalog (id, title, state, updated_at) values (?, ?, ?, ?)
			on conflict (id) do update set title = excluded.title, state = excluded.state, updated_at = excluded.updated_at
		`, knotID, title, state, head.UpdatedAt); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_hot where id = ?`, knotID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `delete from knot_warm where id = ?`, knotID); err != nil {
			return 0, err
		}
		added++
	}

	if _, err := tx.ExecContext(ctx, `
		insert into meta (key, value) values ('last_cold_sync_commit', ?)
		on conflict (key) do update set value = excluded.value
	`, commit); err != nil {
		return 0, err
	}

	return added, tx.Commit()
}
