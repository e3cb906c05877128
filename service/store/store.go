// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
)

var (
	ErrNotFound = errors.New("error: not found")
	ErrConflict = errors.New("error: conflict")
	ErrEmptyKey = errors.New("error: empty key")
)

// Store is a small persistent KV holding per-channel ingest key records.
type Store interface {
	// Set stores value under key, overwriting any previous value.
	Set(key string, value []byte) error
	// Put stores value under key, failing with ErrConflict if the key
	// already exists.
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Close() error
}

func New(dataSource string) (Store, error) {
	return newBitcaskStore(dataSource)
}
