// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package fingerprint

import (
	"context"
	"encoding/json"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/codepr/dryorm/sandbox"
)

// DefaultTTL is the one-year retention window for cached results.
const DefaultTTL = 365 * 24 * time.Hour

// l1Size bounds the in-process cache that sits in front of Redis; it exists
// purely to avoid a network round trip on the hot path of repeatedly
// re-running the same snippet during a single editing session.
const l1Size = 4096

// Cache is the fingerprint-keyed result store. Entries are immutable:
// invalidation is by key (a ref advancing changes the key itself, per
// fingerprint.RefKey), never by mutating a stored entry.
type Cache struct {
	redis  *redis.Client
	l1     *lru.Cache[Key, sandbox.Result]
	logger *log.Logger
}

func NewCache(redisClient *redis.Client, logger *log.Logger) (*Cache, error) {
	l1, err := lru.New[Key, sandbox.Result](l1Size)
	if err != nil {
		return nil, err
	}
	return &Cache{redis: redisClient, l1: l1, logger: logger}, nil
}

// Get returns the cached result for key, or (zero, false, nil) on a miss.
func (c *Cache) Get(ctx context.Context, key Key) (sandbox.Result, bool, error) {
	if result, ok := c.l1.Get(key); ok {
		return result, true, nil
	}

	raw, err := c.redis.Get(ctx, string(key)).Bytes()
	if err == redis.Nil {
		return sandbox.Result{}, false, nil
	}
	if err != nil {
		return sandbox.Result{}, false, err
	}

	var result sandbox.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Printf("fingerprint: corrupt cache entry for %s, treating as miss: %v", key, err)
		return sandbox.Result{}, false, nil
	}
	c.l1.Add(key, result)
	return result, true, nil
}

// Put stores result under key with ttl. Callers must only pass cacheable
// results (sandbox.Result.Cacheable()); the cache itself does not enforce
// that policy so it stays a dumb store, matching the orchestrator's role as
// the sole place that decides what's worth remembering.
func (c *Cache) Put(ctx context.Context, key Key, result sandbox.Result, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, string(key), raw, ttl).Err(); err != nil {
		return err
	}
	c.l1.Add(key, result)
	return nil
}
