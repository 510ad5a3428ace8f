// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoBackend is returned at construction time when neither a live backend
// connection nor the configuration to create one is given.
var ErrNoBackend = errors.New("neither a backend connection nor its configuration is given")

// BackendError is returned when a call to the backend fails.
type BackendError struct {
	Op  string // The backend operation, one of "get", "set" or "delete"
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when the stored value of a session cannot be decoded.
// It indicates corrupt data, not absence.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode session %q: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
