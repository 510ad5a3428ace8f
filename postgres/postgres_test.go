// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamego/kvsession"
	"github.com/flamego/kvsession/internal/backendtest"
)

func newTestDB(t *testing.T, ctx context.Context) *sql.DB {
	if os.Getenv("PGHOST") == "" {
		t.Skip("PGHOST not set")
	}

	dsn := os.ExpandEnv("postgres://$PGUSER:$PGPASSWORD@$PGHOST:$PGPORT/?sslmode=$PGSSLMODE")
	db, err := openDB(dsn)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dbname := "flamego-test-kvsession"
	_, err = db.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, dbname))
	if err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %q`, dbname))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cfg, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("Failed to parse DSN: %v", err)
	}
	cfg.Path = "/" + dbname

	testDB, err := openDB(cfg.String())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		defer func() { _ = testDB.Close() }()

		if t.Failed() {
			t.Logf("DATABASE %s left intact for inspection", dbname)
			return
		}

		_, err := testDB.ExecContext(ctx, `DROP TABLE IF EXISTS sessions`)
		if err != nil {
			t.Fatalf("Failed to drop test table: %v", err)
		}
	})
	return testDB
}

func TestIniter(t *testing.T) {
	ctx := context.Background()

	_, err := Initer()(ctx)
	assert.True(t, errors.Is(err, kvsession.ErrNoBackend))

	_, err = Initer()(ctx, Config{})
	assert.True(t, errors.Is(err, kvsession.ErrNoBackend))
}

func TestPostgresBackend(t *testing.T) {
	ctx := context.Background()
	clock := backendtest.NewClock()

	backend, err := Initer()(ctx,
		Config{
			nowFunc:   clock.Now,
			DB:        newTestDB(t, ctx),
			InitTable: true,
		},
	)
	require.Nil(t, err)

	backendtest.Run(t, backend, clock)
}
