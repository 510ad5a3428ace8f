// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	backend := newMemoryBackend(
		MemoryConfig{
			nowFunc: func() time.Time { return now },
		},
	)

	err := backend.Set(ctx, "1", "one", NoExpiry)
	require.Nil(t, err)
	err = backend.Set(ctx, "2", "two", 2*time.Second)
	require.Nil(t, err)
	err = backend.Set(ctx, "3", "three", time.Second)
	require.Nil(t, err)
	err = backend.Set(ctx, "4", "four", 3*time.Second)
	require.Nil(t, err)

	value, ok, err := backend.Get(ctx, "3")
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "three", value)

	// Overwriting moves "4" ahead of "2"
	err = backend.Set(ctx, "4", "FOUR", time.Second)
	require.Nil(t, err)

	now = now.Add(time.Second)
	err = backend.GC(ctx) // "3" and "4" should be recycled
	require.Nil(t, err)

	item1 := backend.index["1"]
	item2 := backend.index["2"]
	wantHeap := []*memoryItem{item2, item1}
	assert.Equal(t, wantHeap, backend.heap)

	wantIndex := map[string]*memoryItem{
		"1": item1,
		"2": item2,
	}
	assert.Equal(t, wantIndex, backend.index)

	// Expired before GC catches up
	now = now.Add(time.Second)
	_, ok, err = backend.Get(ctx, "2")
	require.Nil(t, err)
	assert.False(t, ok)
	assert.Len(t, backend.heap, 1)

	err = backend.Delete(ctx, "1")
	require.Nil(t, err)
	err = backend.Delete(ctx, "1")
	require.Nil(t, err)
	assert.Empty(t, backend.heap)
	assert.Empty(t, backend.index)
}

func TestMemoryBackend_ZeroTTL(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend(MemoryConfig{nowFunc: time.Now})

	err := backend.Set(ctx, "1", "one", NoExpiry)
	require.Nil(t, err)
	err = backend.Set(ctx, "1", "uno", 0)
	require.Nil(t, err)

	_, ok, err := backend.Get(ctx, "1")
	require.Nil(t, err)
	assert.False(t, ok)
}
