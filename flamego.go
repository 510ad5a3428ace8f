// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"github.com/flamego/flamego"
)

// Storer returns a middleware handler that injects *kvsession.Store[T] into the
// request context, which is used for manipulating session data.
func Storer[T any](store *Store[T]) flamego.Handler {
	if store == nil {
		panic("kvsession: " + ErrNoBackend.Error())
	}

	return flamego.ContextInvoker(func(c flamego.Context) {
		c.Map(store)
	})
}
