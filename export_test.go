// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"time"
)

func NewMemoryBackendWithClock(now func() time.Time) Backend {
	return newMemoryBackend(MemoryConfig{nowFunc: now})
}

func NewFileBackendWithClock(rootDir string, now func() time.Time) Backend {
	return newFileBackend(FileConfig{nowFunc: now, RootDir: rootDir})
}
