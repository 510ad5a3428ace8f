// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backendtest provides the shared behavior tests every
// kvsession.Backend implementation is expected to pass.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamego/kvsession"
)

// Clock is a settable time source to be wired into the nowFunc of a backend.
type Clock struct {
	now time.Time
}

// NewClock returns a new Clock starting at the current time truncated to
// seconds, so that backends storing coarse timestamps behave the same.
func NewClock() *Clock {
	return &Clock{now: time.Now().Truncate(time.Second)}
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Run runs the behavior tests against the backend, whose nowFunc must be
// clock.Now. The backend is expected to start empty.
func Run(t *testing.T, backend kvsession.Backend, clock *Clock) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		value, ok, err := backend.Get(ctx, "a1b2c3d4e5f60718")
		require.Nil(t, err)
		assert.False(t, ok)
		assert.Empty(t, value)

		// Deleting a key that does not exist is not an error
		err = backend.Delete(ctx, "a1b2c3d4e5f60718")
		assert.Nil(t, err)
	})

	t.Run("set get delete", func(t *testing.T) {
		err := backend.Set(ctx, "0000000000000001", `{"user":"alice"}`, kvsession.NoExpiry)
		require.Nil(t, err)

		value, ok, err := backend.Get(ctx, "0000000000000001")
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"user":"alice"}`, value)

		err = backend.Set(ctx, "0000000000000001", `{"user":"bob"}`, kvsession.NoExpiry)
		require.Nil(t, err)

		value, ok, err = backend.Get(ctx, "0000000000000001")
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"user":"bob"}`, value)

		err = backend.Delete(ctx, "0000000000000001")
		require.Nil(t, err)
		err = backend.Delete(ctx, "0000000000000001")
		require.Nil(t, err)

		_, ok, err = backend.Get(ctx, "0000000000000001")
		require.Nil(t, err)
		assert.False(t, ok)
	})

	t.Run("expiry", func(t *testing.T) {
		err := backend.Set(ctx, "0000000000000002", "forever", kvsession.NoExpiry)
		require.Nil(t, err)
		err = backend.Set(ctx, "0000000000000003", "soon", time.Second)
		require.Nil(t, err)
		err = backend.Set(ctx, "0000000000000004", "later", time.Hour)
		require.Nil(t, err)
		err = backend.Set(ctx, "0000000000000005", "now", 0)
		require.Nil(t, err)

		_, ok, err := backend.Get(ctx, "0000000000000005")
		require.Nil(t, err)
		assert.False(t, ok, "zero TTL should expire immediately")

		_, ok, err = backend.Get(ctx, "0000000000000003")
		require.Nil(t, err)
		assert.True(t, ok)

		clock.Advance(time.Second)
		_, ok, err = backend.Get(ctx, "0000000000000003")
		require.Nil(t, err)
		assert.False(t, ok)

		if gc, ok := backend.(kvsession.GCer); ok {
			err = gc.GC(ctx)
			require.Nil(t, err)
		}

		_, ok, err = backend.Get(ctx, "0000000000000002")
		require.Nil(t, err)
		assert.True(t, ok)
		_, ok, err = backend.Get(ctx, "0000000000000004")
		require.Nil(t, err)
		assert.True(t, ok)

		// Overwriting with NoExpiry drops the previous TTL
		err = backend.Set(ctx, "0000000000000004", "forever", kvsession.NoExpiry)
		require.Nil(t, err)
		clock.Advance(2 * time.Hour)
		value, ok, err := backend.Get(ctx, "0000000000000004")
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, "forever", value)
	})

	t.Run("store", func(t *testing.T) {
		store, err := kvsession.New[kvsession.Data](backend, kvsession.Options[kvsession.Data]{})
		require.Nil(t, err)

		id, err := store.CreateData(ctx, kvsession.Data{"user": "alice"}, clock.Now().Add(time.Hour))
		require.Nil(t, err)
		assert.True(t, kvsession.IsValidID(id))

		data, found, err := store.ReadData(ctx, id)
		require.Nil(t, err)
		assert.True(t, found)
		assert.Equal(t, kvsession.Data{"user": "alice"}, data)

		err = store.DeleteData(ctx, id)
		require.Nil(t, err)

		_, found, err = store.ReadData(ctx, id)
		require.Nil(t, err)
		assert.False(t, found)
	})
}
