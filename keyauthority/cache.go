// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keyauthority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoFetcher is returned when a remote key is requested but no
// fetcher is configured.
var ErrNoFetcher = errors.New("no remote key fetcher configured")

// Fetcher retrieves a remote server's verify key. Implementations
// must honor the context deadline.
type Fetcher interface {
	FetchKey(
		ctx context.Context,
		serverName string,
		keyID string,
	) (verifyKey string, validUntilTS int64, err error)
}

// Persistence backs the remote key cache with durable storage so keys
// survive restarts.
type Persistence interface {
	PutRemoteKey(
		ctx context.Context,
		serverName string,
		keyID string,
		verifyKey string,
		validUntilTS int64,
	) error
	GetRemoteKey(
		ctx context.Context,
		serverName string,
		keyID string,
	) (string, int64, error)
}

type cacheKey struct {
	serverName string
	keyID      string
}

type cacheEntry struct {
	verifyKey    string
	validUntilTS int64
}

type fetchCall struct {
	done         chan struct{}
	verifyKey    string
	validUntilTS int64
	err          error
}

// RemoteKeyCache caches remote verify keys, keyed by (server name,
// key id), honoring each key's valid_until_ts. Concurrent misses for
// the same key share a single fetch.
type RemoteKeyCache struct {
	fetcher  Fetcher
	persist  Persistence
	logger   *slog.Logger
	mutex    sync.Mutex
	entries  map[cacheKey]cacheEntry
	inflight map[cacheKey]*fetchCall
}

func NewRemoteKeyCache(
	fetcher Fetcher,
	persist Persistence,
	logger *slog.Logger,
) *RemoteKeyCache {
	return &RemoteKeyCache{
		fetcher:  fetcher,
		persist:  persist,
		logger:   logger,
		entries:  make(map[cacheKey]cacheEntry),
		inflight: make(map[cacheKey]*fetchCall),
	}
}

// Get returns a remote verify key, from cache when still valid,
// otherwise fetching it. Expired entries are never served.
func (c *RemoteKeyCache) Get(
	ctx context.Context,
	serverName string,
	keyID string,
) (string, int64, error) {
	key := cacheKey{serverName: serverName, keyID: keyID}
	now := time.Now().UnixMilli()

	c.mutex.Lock()
	if entry, ok := c.entries[key]; ok && entry.validUntilTS > now {
		c.mutex.Unlock()
		return entry.verifyKey, entry.validUntilTS, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mutex.Unlock()
		select {
		case <-call.done:
			return call.verifyKey, call.validUntilTS, call.err
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mutex.Unlock()

	verifyKey, validUntilTS, err := c.load(ctx, serverName, keyID, now)
	call.verifyKey = verifyKey
	call.validUntilTS = validUntilTS
	call.err = err
	close(call.done)

	c.mutex.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = cacheEntry{
			verifyKey:    verifyKey,
			validUntilTS: validUntilTS,
		}
	}
	c.mutex.Unlock()
	return verifyKey, validUntilTS, err
}

// load checks durable storage before going to the network.
func (c *RemoteKeyCache) load(
	ctx context.Context,
	serverName string,
	keyID string,
	now int64,
) (string, int64, error) {
	if c.persist != nil {
		verifyKey, validUntilTS, err := c.persist.GetRemoteKey(
			ctx, serverName, keyID,
		)
		if err != nil {
			c.logger.Warn(
				"failed to read stored remote key",
				"server", serverName,
				"key_id", keyID,
				"error", err,
			)
		} else if verifyKey != "" && validUntilTS > now {
			return verifyKey, validUntilTS, nil
		}
	}
	if c.fetcher == nil {
		return "", 0, ErrNoFetcher
	}
	verifyKey, validUntilTS, err := c.fetcher.FetchKey(
		ctx, serverName, keyID,
	)
	if err != nil {
		return "", 0, fmt.Errorf(
			"fetching key %s for %s: %w", keyID, serverName, err,
		)
	}
	if c.persist != nil {
		if err := c.persist.PutRemoteKey(
			ctx, serverName, keyID, verifyKey, validUntilTS,
		); err != nil {
			c.logger.Warn(
				"failed to store remote key",
				"server", serverName,
				"key_id", keyID,
				"error", err,
			)
		}
	}
	return verifyKey, validUntilTS, nil
}
