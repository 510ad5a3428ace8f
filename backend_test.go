// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type gcFunc func(ctx context.Context) error

func (f gcFunc) GC(ctx context.Context) error {
	return f(ctx)
}

func TestStartGC(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		backend := newMemoryBackend(MemoryConfig{nowFunc: time.Now})
		stop := StartGC(
			context.Background(),
			backend,
			time.Minute,
			func(error) { panic("unreachable") },
		)
		stop <- struct{}{}
	})

	t.Run("errors", func(t *testing.T) {
		errs := make(chan error, 1)
		stop := StartGC(
			context.Background(),
			gcFunc(func(context.Context) error { return errors.New("boom") }),
			time.Minute,
			func(err error) { errs <- err },
		)
		assert.EqualError(t, <-errs, "boom")
		stop <- struct{}{}
	})
}

func TestTTLUntil(t *testing.T) {
	now := time.Now()
	assert.Equal(t, NoExpiry, ttlUntil(now, time.Time{}))
	assert.Equal(t, time.Duration(0), ttlUntil(now, now))
	assert.Equal(t, time.Duration(0), ttlUntil(now, now.Add(-time.Second)))
	assert.Equal(t, time.Duration(0), ttlUntil(now, now.Add(-400*time.Millisecond)))
	assert.Equal(t, 5*time.Second, ttlUntil(now, now.Add(5*time.Second)))
}
