// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/flamego/kvsession"
)

var (
	_ kvsession.Backend = (*postgresBackend)(nil)
	_ kvsession.GCer    = (*postgresBackend)(nil)
)

// postgresBackend is a Postgres implementation of the backend.
type postgresBackend struct {
	nowFunc func() time.Time // The function to return the current time
	db      *sql.DB          // The database connection
	table   string           // The database table for storing key-value pairs
}

// newPostgresBackend returns a new Postgres backend based on given
// configuration.
func newPostgresBackend(cfg Config) *postgresBackend {
	return &postgresBackend{
		nowFunc: cfg.nowFunc,
		db:      cfg.DB,
		table:   cfg.Table,
	}
}

func (b *postgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiredAt sql.NullTime
	q := fmt.Sprintf(`SELECT data, expired_at FROM %q WHERE key = $1`, b.table)
	err := b.db.QueryRowContext(ctx, q, key).Scan(&value, &expiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "select")
	}

	// The GC may have not caught up.
	if expiredAt.Valid && !b.nowFunc().Before(expiredAt.Time) {
		return "", false, nil
	}
	return value, true, nil
}

func (b *postgresBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiredAt sql.NullTime
	if ttl != kvsession.NoExpiry {
		expiredAt = sql.NullTime{Time: b.nowFunc().Add(ttl).UTC(), Valid: true}
	}

	q := fmt.Sprintf(`
INSERT INTO %q (key, data, expired_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET
	data       = excluded.data,
	expired_at = excluded.expired_at
`, b.table)
	_, err := b.db.ExecContext(ctx, q, key, value, expiredAt)
	if err != nil {
		return errors.Wrap(err, "upsert")
	}
	return nil
}

func (b *postgresBackend) Delete(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %q WHERE key = $1`, b.table)
	_, err := b.db.ExecContext(ctx, q, key)
	if err != nil {
		return errors.Wrap(err, "delete")
	}
	return nil
}

func (b *postgresBackend) GC(ctx context.Context) error {
	q := fmt.Sprintf(`DELETE FROM %q WHERE expired_at <= $1`, b.table)
	_, err := b.db.ExecContext(ctx, q, b.nowFunc().UTC())
	return err
}

// Config contains options for the Postgres backend.
type Config struct {
	// For tests only
	nowFunc func() time.Time

	// DB is the live database connection. It takes precedence over DSN.
	DB *sql.DB
	// DSN is the database source name to the Postgres.
	DSN string
	// Table is the table name for storing key-value pairs. Default is "sessions".
	Table string
	// InitTable indicates whether to create a default table when not exists
	// automatically.
	InitTable bool
}

func openDB(dsn string) (*sql.DB, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return stdlib.OpenDB(*config), nil
}

// Initer returns the kvsession.Initer for the Postgres backend.
func Initer() kvsession.Initer {
	return func(ctx context.Context, args ...interface{}) (kvsession.Backend, error) {
		var cfg *Config
		for i := range args {
			switch v := args[i].(type) {
			case Config:
				cfg = &v
			}
		}

		if cfg == nil {
			return nil, errors.Wrapf(kvsession.ErrNoBackend, "config object with the type '%T' not found", Config{})
		} else if cfg.DSN == "" && cfg.DB == nil {
			return nil, errors.Wrap(kvsession.ErrNoBackend, "empty DSN")
		}

		if cfg.DB == nil {
			db, err := openDB(cfg.DSN)
			if err != nil {
				return nil, errors.Wrap(err, "open database")
			}
			cfg.DB = db
		}

		if cfg.nowFunc == nil {
			cfg.nowFunc = time.Now
		}
		if cfg.Table == "" {
			cfg.Table = "sessions"
		}

		if cfg.InitTable {
			q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %q (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	expired_at TIMESTAMP WITH TIME ZONE
)`, cfg.Table)
			_, err := cfg.DB.ExecContext(ctx, q)
			if err != nil {
				return nil, errors.Wrap(err, "create table")
			}
		}

		return newPostgresBackend(*cfg), nil
	}
}
