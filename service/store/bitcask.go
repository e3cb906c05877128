// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"errors"
	"fmt"
	"sync"

	"git.mills.io/prologic/bitcask"
)

type bitcaskStore struct {
	db  *bitcask.Bitcask
	mut sync.Mutex
}

func newBitcaskStore(path string) (*bitcaskStore, error) {
	db, err := bitcask.Open(path,
		bitcask.WithDirFileModeBeforeUmask(0700),
		bitcask.WithFileFileModeBeforeUmask(0600))
	if err != nil {
		return nil, err
	}

	return &bitcaskStore{
		db: db,
	}, nil
}

func (s *bitcaskStore) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := s.db.Put([]byte(key), value); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync db: %w", err)
	}

	return nil
}

func (s *bitcaskStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	// Has+Put need to be atomic for the conflict check to hold.
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.db.Has([]byte(key)) {
		return ErrConflict
	}

	if err := s.db.Put([]byte(key), value); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}

	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync db: %w", err)
	}

	return nil
}

func (s *bitcaskStore) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	val, err := s.db.Get([]byte(key))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return val, nil
}

func (s *bitcaskStore) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := s.db.Delete([]byte(key)); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync db: %w", err)
	}

	return nil
}

func (s *bitcaskStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
