// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"context"
	"time"
)

// NoExpiry is the TTL to write a key that never expires.
const NoExpiry time.Duration = -1

// Backend is a key-value store holding serialized session data. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Get returns the value of given key. It returns ok=false and a nil error if
	// the key does not exist or has expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes the value of given key. A ttl of NoExpiry keeps the key forever,
	// and a zero ttl makes the key expire immediately.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the key. Deleting a key that does not exist is not an error.
	Delete(ctx context.Context, key string) error
}

// GCer is implemented by backends that need periodic removal of expired keys.
type GCer interface {
	// GC performs a GC operation on the backend.
	GC(ctx context.Context) error
}

// Initer takes arbitrary number of arguments needed for initialization and
// returns an initialized backend.
type Initer func(ctx context.Context, args ...interface{}) (Backend, error)

// StartGC starts a background goroutine to trigger GC of the backend in given
// time interval. Errors are passed to the `errFunc`, or dropped when it is nil.
// It returns a send-only channel for stopping the background goroutine.
func StartGC(ctx context.Context, gc GCer, interval time.Duration, errFunc func(error)) chan<- struct{} {
	if interval.Seconds() < 1 {
		interval = 5 * time.Minute
	}
	if errFunc == nil {
		errFunc = func(error) {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			err := gc.GC(ctx)
			if err != nil {
				errFunc(err)
			}

			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return stop
}

// ttlUntil returns the whole seconds left until `expires`, clamped to zero. A
// zero `expires` means no expiry.
func ttlUntil(now, expires time.Time) time.Duration {
	if expires.IsZero() {
		return NoExpiry
	}

	ttl := expires.Sub(now).Round(time.Second)
	if ttl < 0 {
		return 0
	}
	return ttl
}
