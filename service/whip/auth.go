// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnauthorized = errors.New("authentication failed")
	ErrRateLimited  = errors.New("too many failed authentication attempts")
)

const (
	authFailuresLimit  = 5
	authFailuresWindow = 60 * time.Second
)

// ChannelAuthenticator verifies per-channel ingest keys. It is optional;
// channels with no registered key fall back to the shared bearer token rule.
type ChannelAuthenticator interface {
	HasKey(channelID uint64) bool
	Authenticate(channelID uint64, key string) error
}

type rateLimitEntry struct {
	failures  int
	expiresAt time.Time
}

// rateLimiter counts authentication failures per remote address over a
// fixed window. Entries are created lazily on first failure and dropped on
// success or window expiry.
type rateLimiter struct {
	mut     sync.Mutex
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		entries: map[string]*rateLimitEntry{},
		now:     time.Now,
	}
}

func (rl *rateLimiter) isLimited(addr string) bool {
	rl.mut.Lock()
	defer rl.mut.Unlock()

	entry, ok := rl.entries[addr]
	if !ok {
		return false
	}
	if rl.now().After(entry.expiresAt) {
		delete(rl.entries, addr)
		return false
	}
	return entry.failures >= authFailuresLimit
}

func (rl *rateLimiter) recordFailure(addr string) {
	rl.mut.Lock()
	defer rl.mut.Unlock()

	entry, ok := rl.entries[addr]
	if !ok || rl.now().After(entry.expiresAt) {
		rl.entries[addr] = &rateLimitEntry{
			failures:  1,
			expiresAt: rl.now().Add(authFailuresWindow),
		}
		return
	}
	entry.failures++
}

func (rl *rateLimiter) clear(addr string) {
	rl.mut.Lock()
	defer rl.mut.Unlock()
	delete(rl.entries, addr)
}

func (rl *rateLimiter) reset() {
	rl.mut.Lock()
	defer rl.mut.Unlock()
	rl.entries = map[string]*rateLimitEntry{}
}

// verifyBearerToken compares the supplied token against the expected one in
// constant time. Both operands are padded to equal length first so neither
// the token's content nor its length leaks through timing.
func verifyBearerToken(token, expected string) bool {
	size := len(token)
	if len(expected) > size {
		size = len(expected)
	}
	tokenBuf := make([]byte, size)
	expectedBuf := make([]byte, size)
	copy(tokenBuf, token)
	copy(expectedBuf, expected)

	lenEq := subtle.ConstantTimeEq(int32(len(token)), int32(len(expected)))

	return subtle.ConstantTimeCompare(tokenBuf, expectedBuf)&lenEq == 1
}

func bearerToken(r *http.Request) string {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token
}

func remoteAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit performs admission control for an ingest request. The over-limit
// check runs before any token comparison so a rate-limited client cannot
// extract timing information either.
func (s *Server) admit(r *http.Request, channelID uint64) error {
	addr := remoteAddress(r)

	if s.limiter.isLimited(addr) {
		return ErrRateLimited
	}

	token := bearerToken(r)

	if s.auth != nil && s.auth.HasKey(channelID) {
		if err := s.auth.Authenticate(channelID, token); err != nil {
			s.limiter.recordFailure(addr)
			s.metrics.IncWHIPAuthFailures()
			return ErrUnauthorized
		}
		s.limiter.clear(addr)
		return nil
	}

	if s.cfg.BearerToken == "" {
		return nil
	}

	if !verifyBearerToken(token, s.cfg.BearerToken) {
		s.limiter.recordFailure(addr)
		s.metrics.IncWHIPAuthFailures()
		return ErrUnauthorized
	}

	s.limiter.clear(addr)

	return nil
}
