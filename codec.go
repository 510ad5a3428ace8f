// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvsession

import (
	"encoding/json"
)

// Data is the untyped structure for session data.
type Data map[string]interface{}

// Encoder is an encoder to encode session data to text.
type Encoder[T any] func(T) (string, error)

// Decoder is a decoder to decode text to session data.
type Decoder[T any] func(string) (T, error)

// JSONEncoder is a session data encoder using JSON.
func JSONEncoder[T any](data T) (string, error) {
	binary, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(binary), nil
}

// JSONDecoder is a session data decoder using JSON.
func JSONDecoder[T any](text string) (T, error) {
	var data T
	return data, json.Unmarshal([]byte(text), &data)
}
