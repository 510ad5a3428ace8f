// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flamego/kvsession"
)

var (
	_ kvsession.Backend = (*mongoBackend)(nil)
	_ kvsession.GCer    = (*mongoBackend)(nil)
)

// document is the shape of a key-value pair stored in the collection.
type document struct {
	Key       string     `bson:"key"`
	Data      string     `bson:"data"`
	ExpiredAt *time.Time `bson:"expired_at,omitempty"`
}

// mongoBackend is a MongoDB implementation of the backend.
type mongoBackend struct {
	nowFunc    func() time.Time // The function to return the current time
	db         *mongo.Database  // The database connection
	collection string           // The database collection for storing key-value pairs
}

// newMongoBackend returns a new MongoDB backend based on given configuration.
func newMongoBackend(cfg Config) *mongoBackend {
	return &mongoBackend{
		nowFunc:    cfg.nowFunc,
		db:         cfg.DB,
		collection: cfg.Collection,
	}
}

func (b *mongoBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var doc document
	err := b.db.Collection(b.collection).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "find")
	}

	// The GC may have not caught up.
	if doc.ExpiredAt != nil && !b.nowFunc().Before(*doc.ExpiredAt) {
		return "", false, nil
	}
	return doc.Data, true, nil
}

func (b *mongoBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	set := bson.M{
		"key":  key,
		"data": value,
	}
	update := bson.M{"$set": set}
	if ttl == kvsession.NoExpiry {
		update["$unset"] = bson.M{"expired_at": ""}
	} else {
		set["expired_at"] = b.nowFunc().Add(ttl).UTC()
	}

	_, err := b.db.Collection(b.collection).
		UpdateOne(ctx, bson.M{"key": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "upsert")
	}
	return nil
}

func (b *mongoBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.Collection(b.collection).DeleteOne(ctx, bson.M{"key": key})
	if err != nil {
		return errors.Wrap(err, "delete")
	}
	return nil
}

func (b *mongoBackend) GC(ctx context.Context) error {
	_, err := b.db.Collection(b.collection).DeleteMany(ctx, bson.M{"expired_at": bson.M{"$lte": b.nowFunc().UTC()}})
	if err != nil {
		return errors.Wrap(err, "GC")
	}
	return nil
}

// Options keeps the settings to set up MongoDB client connection.
type Options = options.ClientOptions

// Config contains options for the MongoDB backend.
type Config struct {
	// For tests only
	nowFunc func() time.Time

	// DB is the live database connection. It takes precedence over Options.
	DB *mongo.Database
	// Options is the settings to set up MongoDB client connection.
	Options *Options
	// Database is the database name to use with Options.
	Database string
	// Collection is the collection name for storing key-value pairs. Default is
	// "sessions".
	Collection string
}

// Initer returns the kvsession.Initer for the MongoDB backend.
func Initer() kvsession.Initer {
	return func(ctx context.Context, args ...interface{}) (kvsession.Backend, error) {
		var cfg *Config
		for i := range args {
			switch v := args[i].(type) {
			case Config:
				cfg = &v
			}
		}

		if cfg == nil {
			return nil, errors.Wrapf(kvsession.ErrNoBackend, "config object with the type '%T' not found", Config{})
		} else if cfg.DB == nil && cfg.Options == nil {
			return nil, errors.Wrap(kvsession.ErrNoBackend, "empty Options")
		} else if cfg.DB == nil && cfg.Database == "" {
			return nil, errors.New("empty Database")
		}

		if cfg.DB == nil {
			client, err := mongo.Connect(ctx, cfg.Options)
			if err != nil {
				return nil, errors.Wrap(err, "open database")
			}
			cfg.DB = client.Database(cfg.Database)
		}

		if cfg.nowFunc == nil {
			cfg.nowFunc = time.Now
		}
		if cfg.Collection == "" {
			cfg.Collection = "sessions"
		}

		return newMongoBackend(*cfg), nil
	}
}
