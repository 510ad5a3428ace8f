// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/flamego/kvsession"
)

var (
	_ kvsession.Backend = (*mysqlBackend)(nil)
	_ kvsession.GCer    = (*mysqlBackend)(nil)
)

// mysqlBackend is a MySQL implementation of the backend.
type mysqlBackend struct {
	nowFunc func() time.Time // The function to return the current time
	db      *sql.DB          // The database connection
	table   string           // The database table for storing key-value pairs
}

// newMySQLBackend returns a new MySQL backend based on given configuration.
func newMySQLBackend(cfg Config) *mysqlBackend {
	return &mysqlBackend{
		nowFunc: cfg.nowFunc,
		db:      cfg.DB,
		table:   cfg.Table,
	}
}

func quoteWithBackticks(s string) string {
	return "`" + s + "`"
}

func (b *mysqlBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiredAt sql.NullTime
	q := fmt.Sprintf(
		`SELECT data, expired_at FROM %s WHERE %s = ?`,
		quoteWithBackticks(b.table),
		quoteWithBackticks("key"),
	)
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

func (b *mysqlBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiredAt sql.NullTime
	if ttl != kvsession.NoExpiry {
		expiredAt = sql.NullTime{Time: b.nowFunc().Add(ttl).UTC(), Valid: true}
	}

	q := fmt.Sprintf(`
INSERT INTO %s (%s, data, expired_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE
	data       = VALUES(data),
	expired_at = VALUES(expired_at)
`,
		quoteWithBackticks(b.table),
		quoteWithBackticks("key"),
	)
	_, err := b.db.ExecContext(ctx, q, key, value, expiredAt)
	if err != nil {
		return errors.Wrap(err, "upsert")
	}
	return nil
}

func (b *mysqlBackend) Delete(ctx context.Context, key string) error {
	q := fmt.Sprintf(
		`DELETE FROM %s WHERE %s = ?`,
		quoteWithBackticks(b.table),
		quoteWithBackticks("key"),
	)
	_, err := b.db.ExecContext(ctx, q, key)
	if err != nil {
		return errors.Wrap(err, "delete")
	}
	return nil
}

func (b *mysqlBackend) GC(ctx context.Context) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expired_at <= ?`, quoteWithBackticks(b.table))
	_, err := b.db.ExecContext(ctx, q, b.nowFunc().UTC())
	return err
}

// Config contains options for the MySQL backend.
type Config struct {
	// For tests only
	nowFunc func() time.Time

	// DB is the live database connection. It takes precedence over DSN, and must
	// be opened with "parseTime=true".
	DB *sql.DB
	// DSN is the database source name to the MySQL. The "parseTime=true"
	// parameter is always turned on.
	DSN string
	// Table is the table name for storing key-value pairs. Default is "sessions".
	Table string
	// InitTable indicates whether to create a default table when not exists
	// automatically.
	InitTable bool
}

func openDB(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse DSN")
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new connector")
	}
	return sql.OpenDB(connector), nil
}

// Initer returns the kvsession.Initer for the MySQL backend.
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
CREATE TABLE IF NOT EXISTS %[1]s (
	%[2]s      VARCHAR(255) NOT NULL,
	data       MEDIUMTEXT NOT NULL,
	expired_at DATETIME(6) NULL,
	PRIMARY KEY (%[2]s)
) DEFAULT CHARSET=utf8mb4`,
				quoteWithBackticks(cfg.Table),
				quoteWithBackticks("key"),
			)

			_, err := cfg.DB.ExecContext(ctx, q)
			if err != nil {
				return nil, errors.Wrap(err, "create table")
			}
		}

		return newMySQLBackend(*cfg), nil
	}
}
