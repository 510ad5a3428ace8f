// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Options contains options for the session data store.
type Options[T any] struct {
	// For tests only
	nowFunc func() time.Time

	// Encoder is the encoder to encode session data. Default is JSONEncoder.
	Encoder Encoder[T]
	// Decoder is the decoder to decode session data. Default is JSONDecoder.
	Decoder Decoder[T]
	// Logger is used to print debug messages on writes and deletes. Default is to
	// discard everything.
	Logger *log.Logger
}

// Store creates, reads, updates and deletes session data of type T in a
// backend. It is safe for concurrent use as long as the backend is.
type Store[T any] struct {
	backend Backend
	nowFunc func() time.Time
	encoder Encoder[T]
	decoder Decoder[T]
	logger  *log.Logger
}

// New returns a new session data store on top of given backend. It returns
// ErrNoBackend if the backend is nil.
func New[T any](backend Backend, opts ...Options[T]) (*Store[T], error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	var opt Options[T]
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.nowFunc == nil {
		opt.nowFunc = time.Now
	}
	if opt.Encoder == nil {
		opt.Encoder = JSONEncoder[T]
	}
	if opt.Decoder == nil {
		opt.Decoder = JSONDecoder[T]
	}
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard)
	}

	return &Store[T]{
		backend: backend,
		nowFunc: opt.nowFunc,
		encoder: opt.Encoder,
		decoder: opt.Decoder,
		logger:  opt.Logger.WithPrefix("kvsession"),
	}, nil
}

// Backend returns the underlying backend.
func (s *Store[T]) Backend() Backend {
	return s.backend
}

// CreateData saves data under a newly generated session ID and returns the ID.
// A zero `expires` means the data never expires.
func (s *Store[T]) CreateData(ctx context.Context, data T, expires time.Time) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", errors.Wrap(err, "new ID")
	}

	err = s.write(ctx, id, data, expires)
	if err != nil {
		return "", err
	}
	s.logger.Debug("created", "id", id)
	return id, nil
}

// ReadData returns the data saved under given session ID. It returns
// found=false and a nil error if there is no such session.
func (s *Store[T]) ReadData(ctx context.Context, id string) (data T, found bool, err error) {
	value, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return data, false, &BackendError{Op: "get", Err: err}
	} else if !ok || value == "" {
		return data, false, nil
	}

	data, err = s.decoder(value)
	if err != nil {
		return data, false, &DecodeError{ID: id, Err: err}
	}
	return data, true, nil
}

// UpdateData overwrites the data saved under given session ID, whether or not
// it exists.
func (s *Store[T]) UpdateData(ctx context.Context, id string, data T, expires time.Time) error {
	err := s.write(ctx, id, data, expires)
	if err != nil {
		return err
	}
	s.logger.Debug("updated", "id", id)
	return nil
}

// DeleteData deletes the data saved under given session ID. Deleting a
// session that does not exist is not an error.
func (s *Store[T]) DeleteData(ctx context.Context, id string) error {
	err := s.backend.Delete(ctx, id)
	if err != nil {
		return &BackendError{Op: "delete", Err: err}
	}
	s.logger.Debug("deleted", "id", id)
	return nil
}

func (s *Store[T]) write(ctx context.Context, id string, data T, expires time.Time) error {
	value, err := s.encoder(data)
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	err = s.backend.Set(ctx, id, value, ttlUntil(s.nowFunc(), expires))
	if err != nil {
		return &BackendError{Op: "set", Err: err}
	}
	return nil
}
