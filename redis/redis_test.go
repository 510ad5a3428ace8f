// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamego/kvsession"
)

func newTestClient(t *testing.T, ctx context.Context) *redis.Client {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST not set")
	}

	const db = 15
	testClient := redis.NewClient(
		&redis.Options{
			Addr: os.ExpandEnv("$REDIS_HOST:$REDIS_PORT"),
			DB:   db,
		},
	)

	err := testClient.FlushDB(ctx).Err()
	if err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() {
		defer func() { _ = testClient.Close() }()

		if t.Failed() {
			t.Logf("DATABASE %d left intact for inspection", db)
			return
		}

		err := testClient.FlushDB(ctx).Err()
		if err != nil {
			t.Fatalf("Failed to flush test database: %v", err)
		}
	})
	return testClient
}

func TestIniter(t *testing.T) {
	ctx := context.Background()

	t.Run("no config", func(t *testing.T) {
		_, err := Initer()(ctx)
		assert.True(t, errors.Is(err, kvsession.ErrNoBackend))
	})

	t.Run("no connection", func(t *testing.T) {
		_, err := Initer()(ctx, Config{})
		assert.True(t, errors.Is(err, kvsession.ErrNoBackend))

		_, err = Initer()(ctx, Config{Connection: ExistingClient{}})
		assert.True(t, errors.Is(err, kvsession.ErrNoBackend))

		_, err = Initer()(ctx, Config{Connection: DialOptions{}})
		assert.True(t, errors.Is(err, kvsession.ErrNoBackend))
	})

	t.Run("live client wins", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
		t.Cleanup(func() { _ = client.Close() })

		backend, err := Initer()(ctx,
			DialOptions{Options: &Options{Addr: "localhost:6380"}},
			ExistingClient{Client: client},
		)
		require.Nil(t, err)
		assert.Equal(t, client, backend.(*Backend).Client())
		assert.Equal(t, "session:", backend.(*Backend).keyPrefix)

		// The client belongs to the caller
		assert.False(t, backend.(*Backend).owned)
		assert.Nil(t, backend.(*Backend).Close())
	})

	t.Run("dial", func(t *testing.T) {
		backend, err := New(Config{
			Connection: DialOptions{Options: &Options{Addr: "localhost:6379"}},
			KeyPrefix:  "app:",
		})
		require.Nil(t, err)
		assert.Equal(t, "app:", backend.keyPrefix)
		assert.True(t, backend.owned)
		assert.Nil(t, backend.Close())
	})
}

func TestBackend(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, ctx)

	backend, err := Initer()(ctx,
		Config{
			Connection: ExistingClient{Client: client},
		},
	)
	require.Nil(t, err)

	store, err := kvsession.New[kvsession.Data](backend)
	require.Nil(t, err)

	id, err := store.CreateData(ctx, kvsession.Data{"user": "alice"}, time.Time{})
	require.Nil(t, err)
	assert.Len(t, id, 16)

	ttl, err := client.TTL(ctx, "session:"+id).Result()
	require.Nil(t, err)
	assert.Equal(t, time.Duration(-1), ttl) // No expiry

	data, found, err := store.ReadData(ctx, id)
	require.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, kvsession.Data{"user": "alice"}, data)

	err = store.UpdateData(ctx, id, kvsession.Data{"user": "bob"}, time.Now().Add(time.Hour))
	require.Nil(t, err)

	ttl, err = client.TTL(ctx, "session:"+id).Result()
	require.Nil(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)

	data, found, err = store.ReadData(ctx, id)
	require.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, kvsession.Data{"user": "bob"}, data)

	err = store.DeleteData(ctx, id)
	require.Nil(t, err)
	err = store.DeleteData(ctx, id)
	require.Nil(t, err)

	_, found, err = store.ReadData(ctx, id)
	require.Nil(t, err)
	assert.False(t, found)
}

func TestBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, ctx)

	backend, err := New(Config{Connection: ExistingClient{Client: client}})
	require.Nil(t, err)

	store, err := kvsession.New[kvsession.Data](backend)
	require.Nil(t, err)

	id, err := store.CreateData(ctx, kvsession.Data{"user": "alice"}, time.Now().Add(time.Second))
	require.Nil(t, err)

	// NOTE: Redis is behaving flaky on exact the seconds in CI, so let's wait 100ms
	// more.
	time.Sleep(1100 * time.Millisecond)
	_, found, err := store.ReadData(ctx, id)
	require.Nil(t, err)
	assert.False(t, found)

	// A past expiry removes whatever was there
	err = store.UpdateData(ctx, id, kvsession.Data{"user": "bob"}, time.Time{})
	require.Nil(t, err)
	err = store.UpdateData(ctx, id, kvsession.Data{"user": "bob"}, time.Now().Add(-time.Minute))
	require.Nil(t, err)
	_, found, err = store.ReadData(ctx, id)
	require.Nil(t, err)
	assert.False(t, found)
}

func TestBackend_Unavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	backend, err := New(Config{
		Connection: DialOptions{
			Options: &Options{
				Addr:        "127.0.0.1:1",
				DialTimeout: 100 * time.Millisecond,
				MaxRetries:  -1,
			},
		},
	})
	require.Nil(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store, err := kvsession.New[kvsession.Data](backend)
	require.Nil(t, err)

	_, _, err = store.ReadData(ctx, "a1b2c3d4e5f60718")
	var backendErr *kvsession.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "get", backendErr.Op)
}
