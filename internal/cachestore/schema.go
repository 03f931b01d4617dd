package cachestore

import (
	"context"
	"database/sql"
)

// createSchema lays down the baseline tables from spec.md §3.5 if absent.
// Columns added by later schema versions (description, priority, type,
// notes[], handoff_capsules[] per the v3 parity migration) are created
// here directly rather than via migration, since a brand-new cache has no
// legacy rows to backfill — the migration ladder in migrate.go runs on
// every open but only changes caches that predate this version.
func createSchema(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		create table if not exists meta (
			key text primary key,
			value text not null
		);

		create table if not exists knot_hot (
			id text primary key,
			title text not null,
			state text not null,
			updated_at text not null,
			created_at text not null default '',
			description text not null default '',
			priority integer not null default 0,
			type text not null default '',
			profile_id text not null default '',
			workflow_etag text,
			terminal integer not null default 0
		);

		create table if not exists knot_warm (
			id text primary key,
			title text not null,
			state text not null default '',
			updated_at text not null default '',
			workflow_etag text,
			terminal integer not null default 0
		);

		create table if not exists cold_catalog (
			id text primary key,
			title text not null,
			state text not null,
			updated_at text not null
		);

		create table if not exists edge (
			src text not null,
			kind text not null,
			dst text not null,
			primary key (src, kind, dst)
		);

		create table if not exists tag (
			knot_id text not null,
			tag text not null,
			primary key (knot_id, tag)
		);

		create table if not exists note (
			id text primary key,
			knot_id text not null,
			ord integer not null,
			text text not null,
			username text not null,
			datetime text not null,
			agent_name text,
			model text,
			version text
		);

		create table if not exists handoff_capsule (
			id text primary key,
			knot_id text not null,
			ord integer not null,
			text text not null,
			username text not null,
			datetime text not null,
			agent_name text,
			model text,
			version text
		);

		create table if not exists review_stats (
			id text primary key,
			rework_count integer not null default 0,
			last_decision_at text,
			last_outcome text,
			last_reject_categories text,
			last_event_id text
		);

		create table if not exists last_note_ord (
			knot_id text primary key,
			next_ord integer not null default 0
		);

		create table if not exists last_handoff_ord (
			knot_id text primary key,
			next_ord integer not null default 0
		);

		create table if not exists migrations (
			id integer primary key autoincrement,
			name text unique
		);

		create index if not exists idx_note_knot_id on note(knot_id);
		create index if not exists idx_handoff_knot_id on handoff_capsule(knot_id);
		create index if not exists idx_edge_src on edge(src);
		create index if not exists idx_edge_dst on edge(dst);
	`)
	return err
}
