// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/flamego/kvsession"
)

var _ kvsession.Backend = (*Backend)(nil)

// Backend is a Redis implementation of the backend.
type Backend struct {
	client    redis.UniversalClient // The client connection
	keyPrefix string                // The prefix to use for keys
	owned     bool                  // Whether the client was dialed by the backend
}

// newBackend returns a new Redis backend based on given configuration.
func newBackend(cfg Config, client redis.UniversalClient, owned bool) *Backend {
	return &Backend{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		owned:     owned,
	}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "get")
	}
	return value, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	// Redis rejects "EX 0", and a key that expires right away is a key that is gone.
	if ttl == 0 {
		return b.Delete(ctx, key)
	}

	// go-redis treats a zero expiration as "no expiration".
	if ttl == kvsession.NoExpiry {
		ttl = 0
	}

	err := b.client.Set(ctx, b.keyPrefix+key, value, ttl).Err()
	if err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.client.Del(ctx, b.keyPrefix+key).Err()
	if err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// Client returns the underlying Redis client.
func (b *Backend) Client() redis.UniversalClient {
	return b.client
}

// Close closes the client connection if it was dialed by the backend. A client
// given through ExistingClient is left open for its owner.
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

// Options keeps the settings to set up Redis client connection.
type Options = redis.Options

// Connection is either an ExistingClient or DialOptions.
type Connection interface {
	connect() (client redis.UniversalClient, owned bool, err error)
}

// ExistingClient is a live Redis client connection to be used as is.
type ExistingClient struct {
	Client redis.UniversalClient
}

func (c ExistingClient) connect() (redis.UniversalClient, bool, error) {
	if c.Client == nil {
		return nil, false, errors.Wrap(kvsession.ErrNoBackend, "nil Client")
	}
	return c.Client, false, nil
}

// DialOptions is the settings to set up a new Redis client connection.
type DialOptions struct {
	Options *Options
}

func (o DialOptions) connect() (redis.UniversalClient, bool, error) {
	if o.Options == nil {
		return nil, false, errors.Wrap(kvsession.ErrNoBackend, "empty Options")
	}
	return redis.NewClient(o.Options), true, nil
}

// Config contains options for the Redis backend.
type Config struct {
	// Connection is where the backend gets its client connection from.
	Connection Connection
	// KeyPrefix is the prefix to use for keys in Redis. Default is "session:".
	KeyPrefix string
}

// New returns a new Redis backend with given configuration. It returns
// kvsession.ErrNoBackend if no connection is given.
func New(cfg Config) (*Backend, error) {
	if cfg.Connection == nil {
		return nil, errors.Wrap(kvsession.ErrNoBackend, "empty Connection")
	}

	client, owned, err := cfg.Connection.connect()
	if err != nil {
		return nil, err
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "session:"
	}
	return newBackend(cfg, client, owned), nil
}

// Initer returns the kvsession.Initer for the Redis backend. Besides Config,
// it accepts ExistingClient and DialOptions as loose arguments, and a live
// client always wins over options to dial one.
func Initer() kvsession.Initer {
	return func(_ context.Context, args ...interface{}) (kvsession.Backend, error) {
		var cfg *Config
		var client *ExistingClient
		var dial *DialOptions
		for i := range args {
			switch v := args[i].(type) {
			case Config:
				cfg = &v
			case ExistingClient:
				client = &v
			case DialOptions:
				dial = &v
			}
		}

		if cfg == nil {
			if client == nil && dial == nil {
				return nil, errors.Wrapf(kvsession.ErrNoBackend, "config object with the type '%T' not found", Config{})
			}
			cfg = &Config{}
		}

		switch {
		case client != nil:
			cfg.Connection = *client
		case dial != nil && cfg.Connection == nil:
			cfg.Connection = *dial
		}

		backend, err := New(*cfg)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}
