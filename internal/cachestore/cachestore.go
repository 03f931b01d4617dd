// Package cachestore is the SQLite-backed materialized view described in
// spec.md §4.3: hot/warm/cold tiering, workflow ETags, and an idempotent
// event-applying reducer. Opened the same way appview/db.Make and
// knotserver/db.Setup open their SQLite handle: WAL journal mode,
// foreign keys on, a busy timeout, over github.com/mattn/go-sqlite3.
package cachestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "github.com/mattn/go-sqlite3"

	"go.knotsvc.dev/knots/internal/model"
)

// Store wraps the cache's *sql.DB plus a small in-process memo cache for
// rehydrating warm knots, mirroring knotserver/git.go's per-path commit
// cache built on the same ristretto library.
type Store struct {
	db        *sql.DB
	memo      *ristretto.Cache
	hotWindow time.Duration
}

// Open opens (creating if necessary) the cache database at dbPath and
// brings its schema up to date via the migration ladder.
func Open(ctx context.Context, dbPath string, hotWindowDays int) (*Store, error) {
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
	}
	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer/many-reader: WAL handles concurrent readers fine at 1 conn

	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create rehydration cache: %w", err)
	}

	s := &Store{db: db, memo: memo, hotWindow: time.Duration(hotWindowDays) * 24 * time.Hour}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := createSchema(ctx, conn); err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, conn); err != nil {
		return nil, err
	}

	if _, ok, err := s.getMetaConn(ctx, conn, "schema_version"); err == nil && !ok {
		if err := s.setMetaConn(ctx, conn, "schema_version", "3"); err != nil {
			return nil, err
		}
	}
	if err := s.setHotWindowIfAbsent(ctx, conn, hotWindowDays); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) setHotWindowIfAbsent(ctx context.Context, conn *sql.Conn, days int) error {
	_, ok, err := s.getMetaConn(ctx, conn, "hot_window_days")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.setMetaConn(ctx, conn, "hot_window_days", fmt.Sprintf("%d", days))
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// nowTier classifies state/updatedAt into a tier per spec.md §3.6.
func (s *Store) nowTier(state string, updatedAt time.Time, now time.Time) model.Tier {
	if model.IsTerminal(state) {
		return model.TierCold
	}
	if now.Sub(updatedAt) <= s.hotWindow {
		return model.TierHot
	}
	return model.TierWarm
}
