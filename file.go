// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const minimumKeyLength = 3

// ErrMinimumKeyLength is returned when the key is too short to name a file.
var ErrMinimumKeyLength = errors.Errorf("the key does not have the minimum required length %d", minimumKeyLength)

// ErrInvalidKey is returned when the key is not a plain file name.
var ErrInvalidKey = errors.New("the key is not a plain file name")

var (
	_ Backend = (*fileBackend)(nil)
	_ GCer    = (*fileBackend)(nil)
)

// fileBackend is a file implementation of the backend. Each key is stored in
// its own file, whose first line is the expiry time in Unix nanoseconds (0 for
// never) and the rest is the value.
type fileBackend struct {
	nowFunc func() time.Time // The function to return the current time
	rootDir string           // The root directory of files stored on the local file system
}

// newFileBackend returns a new file backend based on given configuration.
func newFileBackend(cfg FileConfig) *fileBackend {
	return &fileBackend{
		nowFunc: cfg.nowFunc,
		rootDir: cfg.RootDir,
	}
}

// validKey returns true if the key can only name a file under the root
// directory.
func validKey(key string) bool {
	return len(key) >= minimumKeyLength &&
		filepath.Base(key) == key &&
		!strings.ContainsAny(key, `/\`) &&
		!strings.Contains(key, "..")
}

// filename returns the computed file name with given key.
func (b *fileBackend) filename(key string) string {
	return filepath.Join(b.rootDir, string(key[0]), string(key[1]), key)
}

// readFile returns the expiry time and the value stored in the file.
func readFile(path string) (expiresAt time.Time, value string, err error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, "", err
	}

	header, value, ok := strings.Cut(string(binary), "\n")
	if !ok {
		return time.Time{}, "", errors.Errorf("malformed file %q", path)
	}

	nsec, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return time.Time{}, "", errors.Wrap(err, "parse expiry")
	}
	if nsec > 0 {
		expiresAt = time.Unix(0, nsec)
	}
	return expiresAt, value, nil
}

// expired returns true if given expiry time has passed.
func (b *fileBackend) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !b.nowFunc().Before(expiresAt)
}

func (b *fileBackend) Get(_ context.Context, key string) (string, bool, error) {
	if !validKey(key) {
		return "", false, nil
	}

	filename := b.filename(key)
	expiresAt, value, err := readFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "read file")
	}

	// The GC may have not caught up.
	if b.expired(expiresAt) {
		err = os.Remove(filename)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", false, errors.Wrap(err, "remove file")
		}
		return "", false, nil
	}
	return value, true, nil
}

func (b *fileBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if len(key) < minimumKeyLength {
		return ErrMinimumKeyLength
	} else if !validKey(key) {
		return ErrInvalidKey
	}

	var nsec int64
	if ttl != NoExpiry {
		nsec = b.nowFunc().Add(ttl).UnixNano()
	}

	filename := b.filename(key)
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err != nil {
		return errors.Wrap(err, "create parent directory")
	}

	err = os.WriteFile(filename, []byte(strconv.FormatInt(nsec, 10)+"\n"+value), 0600)
	if err != nil {
		return errors.Wrap(err, "write file")
	}
	return nil
}

func (b *fileBackend) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return nil
	}

	err := os.Remove(b.filename(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, "remove file")
	}
	return nil
}

func (b *fileBackend) GC(ctx context.Context) error {
	err := filepath.WalkDir(b.rootDir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		expiresAt, _, err := readFile(path)
		if err != nil {
			return err
		}
		if !b.expired(expiresAt) {
			return nil
		}
		return os.Remove(path)
	})
	if err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}

// FileConfig contains options for the file backend.
type FileConfig struct {
	// For tests only
	nowFunc func() time.Time

	// RootDir is the root directory of files stored on the local file system.
	// Default is "sessions".
	RootDir string
}

// FileIniter returns the Initer for the file backend.
func FileIniter() Initer {
	return func(ctx context.Context, args ...interface{}) (Backend, error) {
		var cfg *FileConfig
		for i := range args {
			switch v := args[i].(type) {
			case FileConfig:
				cfg = &v
			}
		}

		if cfg == nil {
			return nil, errors.Wrapf(ErrNoBackend, "config object with the type '%T' not found", FileConfig{})
		}
		if cfg.nowFunc == nil {
			cfg.nowFunc = time.Now
		}
		if cfg.RootDir == "" {
			cfg.RootDir = "sessions"
		}

		return newFileBackend(*cfg), nil
	}
}
