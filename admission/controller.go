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

// Package admission bounds the number of simultaneously running sandboxes
// using a shared, atomic, TTL-safe counter. A counter, not a queue: the
// design favors fast rejection under overload over build-up.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SafetyTTL is the crash floor described in the contract: if a process dies
// mid-execution without releasing its slot, the counter self-heals within
// this window rather than leaking capacity forever. It is not a request
// timeout.
const SafetyTTL = 60 * time.Second

// ErrOverloaded is returned by Acquire when the executor's max_concurrent
// cap is already saturated.
var ErrOverloaded = errors.New("admission: overloaded")

const counterKeyPrefix = "dryorm:admission:"

// Controller serializes admission decisions through a single shared counter
// per executor. It is backed by the same Redis store used for the result
// cache, per the design notes, so the counter survives an orchestrator
// restart instead of silently resetting to zero while containers it forgot
// about are still running.
type Controller struct {
	redis  *redis.Client
	logger *log.Logger
}

func NewController(redisClient *redis.Client, logger *log.Logger) *Controller {
	return &Controller{redis: redisClient, logger: logger}
}

// Slot represents one held unit of the shared concurrency budget. Release is
// idempotent and must never itself fail loudly — it runs on every
// completion path including panics recovered upstream.
type Slot struct {
	mu       sync.Mutex
	released bool
	key      string
	redis    *redis.Client
	logger   *log.Logger
}

func counterKey(executorKey string) string {
	return counterKeyPrefix + executorKey
}

// Acquire performs an atomic compare-and-increment against the executor's
// counter. On optimistic-lock contention (another request changed the
// counter mid-check) it retries; once it observes saturation it returns
// ErrOverloaded rather than retrying further — overload is reported
// immediately, never queued.
func (c *Controller) Acquire(ctx context.Context, executorKey string, maxConcurrent int) (*Slot, error) {
	key := counterKey(executorKey)
	for {
		var acquired bool
		txErr := c.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Int()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if current >= maxConcurrent {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Incr(ctx, key)
				pipe.Expire(ctx, key, SafetyTTL)
				return nil
			})
			if err == nil {
				acquired = true
			}
			return err
		}, key)

		if errors.Is(txErr, redis.TxFailedErr) {
			continue
		}
		if txErr != nil {
			return nil, fmt.Errorf("admission: acquire %s: %w", executorKey, txErr)
		}
		if !acquired {
			return nil, ErrOverloaded
		}
		return &Slot{key: key, redis: c.redis, logger: c.logger}, nil
	}
}

// Count reports the current in-flight count for an executor, for metrics
// and tests. It is advisory only — it is not used for admission decisions,
// which always re-check under a fresh WATCH.
func (c *Controller) Count(ctx context.Context, executorKey string) (int64, error) {
	n, err := c.redis.Get(ctx, counterKey(executorKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// releaseScript decrements only while the counter is positive. An execution
// that outlives SafetyTTL finds its counter already expired; a plain DECR
// would then push it negative and over-admit until it climbed back.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v or tonumber(v) <= 0 then
	return 0
end
return redis.call("DECR", KEYS[1])
`)

// Release decrements the counter exactly once, regardless of how many times
// it is called. It never returns an error to the caller; failures are
// logged, matching the contract that slot release must not raise.
func (s *Slot) Release(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if err := releaseScript.Run(ctx, s.redis, []string{s.key}).Err(); err != nil && s.logger != nil {
		s.logger.Printf("admission: failed to release slot for %s: %v", s.key, err)
	}
}
