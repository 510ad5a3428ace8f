// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

// idBytes is the number of random bytes behind a session ID.
const idBytes = 8

// IDLength is the length of session IDs in characters.
const IDLength = 2 * idBytes

// NewID returns a new session ID made of 8 cryptographically strong random bytes
// in hex.
func NewID() (string, error) {
	buf := make([]byte, idBytes)
	_, err := rand.Read(buf)
	if err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}
	return hex.EncodeToString(buf), nil
}

// IsValidID returns true if given session ID looks like one returned by NewID.
func IsValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}

	for i := range id {
		switch {
		case '0' <= id[i] && id[i] <= '9':
		case 'a' <= id[i] && id[i] <= 'f':
		default:
			return false
		}
	}
	return true
}
