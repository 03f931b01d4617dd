package cachestore

import (
	"context"
	"database/sql"
)

// GetMeta reads a meta table value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	return s.getMetaConn(ctx, conn, key)
}

func (s *Store) getMetaConn(ctx context.Context, conn *sql.Conn, key string) (string, bool, error) {
	var value string
	err := conn.QueryRowContext(ctx, `select value from meta where key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta writes a meta table value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.setMetaConn(ctx, conn, key, value)
}

func (s *Store) setMetaConn(ctx context.Context, conn *sql.Conn, key, value string) error {
	_, err := conn.ExecContext(ctx, `
		insert into meta (key, value) values (?, ?)
		on conflict (key) do update set value = excluded.value
	`, key, value)
	return err
}
