// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// memoryItem is an in-memory key-value pair.
type memoryItem struct {
	key       string
	value     string
	expiresAt time.Time // The zero value means the item never expires

	index int // The index in the heap
}

// expiredAt returns true if the item is expired at given time.
func (i *memoryItem) expiredAt(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

var (
	_ Backend = (*memoryBackend)(nil)
	_ GCer    = (*memoryBackend)(nil)
)

// memoryBackend is an in-memory implementation of the backend.
type memoryBackend struct {
	nowFunc func() time.Time // The function to return the current time

	lock  sync.Mutex             // The mutex to guard accesses to the heap and index
	heap  []*memoryItem          // The heap ordered by expiry, items that never expire sink to the bottom
	index map[string]*memoryItem // The index to be managed by operations of heap.Interface
}

// newMemoryBackend returns a new memory backend based on given configuration.
func newMemoryBackend(cfg MemoryConfig) *memoryBackend {
	return &memoryBackend{
		nowFunc: cfg.nowFunc,
		index:   make(map[string]*memoryItem),
	}
}

// Len implements `heap.Interface.Len`. It is not concurrent-safe and is the
// caller's responsibility to ensure they're being guarded by a mutex during any
// heap operation, i.e. heap.Fix, heap.Remove, heap.Push, heap.Pop.
func (b *memoryBackend) Len() int {
	return len(b.heap)
}

// Less implements `heap.Interface.Less`. It is not concurrent-safe and is the
// caller's responsibility to ensure they're being guarded by a mutex during any
// heap operation, i.e. heap.Fix, heap.Remove, heap.Push, heap.Pop.
func (b *memoryBackend) Less(i, j int) bool {
	switch {
	case b.heap[i].expiresAt.IsZero():
		return false
	case b.heap[j].expiresAt.IsZero():
		return true
	}
	return b.heap[i].expiresAt.Before(b.heap[j].expiresAt)
}

// Swap implements `heap.Interface.Swap`. It is not concurrent-safe and is the
// caller's responsibility to ensure they're being guarded by a mutex during any
// heap operation, i.e. heap.Fix, heap.Remove, heap.Push, heap.Pop.
func (b *memoryBackend) Swap(i, j int) {
	b.heap[i], b.heap[j] = b.heap[j], b.heap[i]
	b.heap[i].index = i
	b.heap[j].index = j
}

// Push implements `heap.Interface.Push`. It is not concurrent-safe and is the
// caller's responsibility to ensure they're being guarded by a mutex during any
// heap operation, i.e. heap.Fix, heap.Remove, heap.Push, heap.Pop.
func (b *memoryBackend) Push(x interface{}) {
	n := b.Len()
	item := x.(*memoryItem)
	item.index = n
	b.heap = append(b.heap, item)
	b.index[item.key] = item
}

// Pop implements `heap.Interface.Pop`. It is not concurrent-safe and is the
// caller's responsibility to ensure they're being guarded by a mutex during any
// heap operation, i.e. heap.Fix, heap.Remove, heap.Push, heap.Pop.
func (b *memoryBackend) Pop() interface{} {
	n := b.Len()
	item := b.heap[n-1]

	b.heap[n-1] = nil // Avoid memory leak
	item.index = -1   // For safety

	b.heap = b.heap[:n-1]
	delete(b.index, item.key)
	return item
}

func (b *memoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	item, ok := b.index[key]
	if !ok {
		return "", false, nil
	}

	// The GC may have not caught up.
	if item.expiredAt(b.nowFunc()) {
		heap.Remove(b, item.index)
		return "", false, nil
	}
	return item.value, true, nil
}

func (b *memoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl != NoExpiry {
		expiresAt = b.nowFunc().Add(ttl)
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	item, ok := b.index[key]
	if ok {
		item.value = value
		item.expiresAt = expiresAt
		heap.Fix(b, item.index)
		return nil
	}

	heap.Push(b, &memoryItem{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	item, ok := b.index[key]
	if !ok {
		return nil
	}

	heap.Remove(b, item.index)
	return nil
}

func (b *memoryBackend) GC(ctx context.Context) error {
	// Removing expired items from top of the heap until there is no more expired
	// items found.
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		done := func() bool {
			b.lock.Lock()
			defer b.lock.Unlock()

			if b.Len() == 0 {
				return true
			}

			// If the first item to expire is not expired, there is no need to continue
			item := b.heap[0]
			if !item.expiredAt(b.nowFunc()) {
				return true
			}

			heap.Remove(b, item.index)
			return false
		}()
		if done {
			break
		}
	}
	return nil
}

// MemoryConfig contains options for the memory backend.
type MemoryConfig struct {
	nowFunc func() time.Time // For tests only
}

// MemoryIniter returns the Initer for the memory backend.
func MemoryIniter() Initer {
	return func(_ context.Context, args ...interface{}) (Backend, error) {
		var cfg *MemoryConfig
		for i := range args {
			switch v := args[i].(type) {
			case MemoryConfig:
				cfg = &v
			}
		}

		if cfg == nil {
			cfg = &MemoryConfig{}
		}

		if cfg.nowFunc == nil {
			cfg.nowFunc = time.Now
		}

		return newMemoryBackend(*cfg), nil
	}
}
