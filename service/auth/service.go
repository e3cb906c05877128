// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mattermost/whipd/service/random"
	"github.com/mattermost/whipd/service/store"
)

// KeyLen is the length of generated ingest keys.
const KeyLen = 32

// keyRecord is the stored form of a registered ingest key.
type keyRecord struct {
	Hash      string `msgpack:"hash"`
	CreatedAt int64  `msgpack:"created_at"`
}

// Service manages per-channel ingest keys. Keys are generated on
// registration, stored bcrypt-hashed and verified on every admission unless
// the verification is cached.
type Service struct {
	store store.Store
	cache *KeyCache
}

func NewService(store store.Store, cache *KeyCache) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("invalid store")
	}
	if cache == nil {
		return nil, fmt.Errorf("invalid cache")
	}
	return &Service{
		store: store,
		cache: cache,
	}, nil
}

// HasKey reports whether the given channel has a registered ingest key.
func (s *Service) HasKey(channelID uint64) bool {
	_, err := s.store.Get(storeKey(channelID))
	return err == nil
}

// Authenticate verifies the given ingest key for the channel.
func (s *Service) Authenticate(channelID uint64, key string) error {
	if s.cache.Verify(channelID, key) {
		return nil
	}

	data, err := s.store.Get(storeKey(channelID))
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	var record keyRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if err := compareKeyHash(record.Hash, key); err != nil {
		return fmt.Errorf("authentication failed")
	}

	// Cache the successful verification to skip the bcrypt cost on
	// subsequent requests.
	s.cache.Put(channelID, key)

	return nil
}

// Register generates, stores, and returns a new ingest key for the channel.
func (s *Service) Register(channelID uint64) (string, error) {
	key, err := random.NewSecureString(KeyLen)
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	hash, err := hashKey(key)
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	data, err := msgpack.Marshal(keyRecord{
		Hash:      hash,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	if err := s.store.Put(storeKey(channelID), data); errors.Is(err, store.ErrConflict) {
		return "", fmt.Errorf("registration failed: already registered")
	} else if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	return key, nil
}

// Unregister deletes the channel's ingest key.
func (s *Service) Unregister(channelID uint64) error {
	if _, err := s.store.Get(storeKey(channelID)); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	if err := s.store.Delete(storeKey(channelID)); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	s.cache.Delete(channelID)

	return nil
}

func storeKey(channelID uint64) string {
	return "channel-key-" + strconv.FormatUint(channelID, 10)
}
