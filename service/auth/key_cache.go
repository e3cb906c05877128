// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

type KeyCacheConfig struct {
	ExpirationMinutes int `toml:"expiration_minutes"`
}

func (c KeyCacheConfig) IsValid() error {
	if c.ExpirationMinutes <= 0 {
		return errors.New("invalid ExpirationMinutes value: should be a positive number")
	}
	return nil
}

type cachedKey struct {
	digest         [sha256.Size]byte
	expirationDate time.Time
}

// KeyCache remembers recently verified ingest keys so admission does not pay
// the bcrypt cost on every request. Only a SHA-256 digest of the key is
// retained.
type KeyCache struct {
	cfg    KeyCacheConfig
	keyMap map[uint64]cachedKey

	mut sync.RWMutex
}

func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return &KeyCache{
		cfg:    cfg,
		keyMap: make(map[uint64]cachedKey),
	}, nil
}

// Verify reports whether key matches the cached entry for the channel.
func (c *KeyCache) Verify(channelID uint64, key string) bool {
	c.mut.RLock()
	entry, ok := c.keyMap[channelID]
	c.mut.RUnlock()
	if !ok {
		return false
	}

	if time.Now().After(entry.expirationDate) {
		c.mut.Lock()
		delete(c.keyMap, channelID)
		c.mut.Unlock()
		return false
	}

	digest := sha256.Sum256([]byte(key))

	return subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1
}

// Put caches a successfully verified key for the channel.
func (c *KeyCache) Put(channelID uint64, key string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.keyMap[channelID] = cachedKey{
		digest:         sha256.Sum256([]byte(key)),
		expirationDate: time.Now().Add(time.Duration(c.cfg.ExpirationMinutes) * time.Minute),
	}
}

// Delete drops the cached entry for the channel.
func (c *KeyCache) Delete(channelID uint64) {
	c.mut.Lock()
	delete(c.keyMap, channelID)
	c.mut.Unlock()
}
